// Command cryptdctl drives a single mongocrypt context by hand against
// stdin-fed replies, one op/feed/done round per line. It exists for fuzzing
// the context state machine and for scripted conformance runs that don't
// want to stand up a real MongoDB deployment or KMS account, mirroring the
// role the teacher's cmd/loadtest/main.go played for the gateway: a flag-
// driven harness around the library rather than the library itself.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/cryptctx"
	"github.com/mongocrypt-go/core/internal/mongocrypt"
	"github.com/mongocrypt-go/core/internal/status"
)

func main() {
	var (
		kind       = flag.String("kind", "explicit-encrypt", "context kind: explicit-encrypt, explicit-decrypt, automatic-encrypt, automatic-decrypt")
		namespace  = flag.String("namespace", "", "db.collection, required for automatic-encrypt")
		wrappedHex = flag.String("wrapped", "", "hex-encoded BSON {\"v\": <value>} input (explicit kinds) or command/document (automatic kinds)")
		keyIDHex   = flag.String("key-id", "", "hex-encoded 16-byte key uuid (explicit-encrypt)")
		keyAltName = flag.String("key-alt-name", "", "key alt name (explicit-encrypt)")
		algorithm  = flag.String("algorithm", "random", "deterministic or random (explicit-encrypt)")
		kmsMode    = flag.String("kms", "resolve", "resolve: auto-answer NEED_KMS via the configured provider; manual: emit/feed over stdin like every other state")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := config.New()
	e, st := mongocrypt.New(cfg, log)
	if st != nil {
		fatalf("construct engine: %s", st.Error())
	}

	wrapped, err := hex.DecodeString(*wrappedHex)
	if err != nil {
		fatalf("decode --wrapped: %v", err)
	}

	c, st := mintContext(e, *kind, *namespace, wrapped, *keyIDHex, *keyAltName, *algorithm)
	if st != nil {
		fatalf("mint context: %s", st.Error())
	}

	fmt.Fprintf(os.Stderr, "# ctx_id=%d kind=%s state=%s\n", c.ID(), c.Kind(), c.State())

	if err := drive(e, c, *kmsMode == "resolve"); err != nil {
		fatalf("drive context: %v", err)
	}

	out, st := e.Finalize(c)
	if st != nil {
		fatalf("finalize: %s", st.Error())
	}
	fmt.Println(hex.EncodeToString(out))
}

func mintContext(e *mongocrypt.Engine, kind, namespace string, wrapped []byte, keyIDHex, keyAltName, algorithm string) (*cryptctx.Context, *status.Status) {
	switch kind {
	case "explicit-encrypt":
		opts := cryptctx.Options{Algorithm: parseAlgorithm(algorithm)}
		if keyIDHex != "" {
			id, err := hex.DecodeString(keyIDHex)
			if err != nil || len(id) != 16 {
				return nil, status.Errorf("--key-id must be 32 hex characters (16 bytes)")
			}
			var uuid [16]byte
			copy(uuid[:], id)
			opts.KeyID = &uuid
		} else if keyAltName != "" {
			name := keyAltName
			opts.KeyAltName = &name
		} else {
			return nil, status.Errorf("explicit-encrypt requires --key-id or --key-alt-name")
		}
		return e.NewExplicitEncrypt(wrapped, opts)
	case "explicit-decrypt":
		return e.NewExplicitDecrypt(wrapped)
	case "automatic-encrypt":
		if namespace == "" {
			return nil, status.Errorf("automatic-encrypt requires --namespace")
		}
		return e.NewAutomaticEncrypt(namespace, wrapped, cryptctx.Options{})
	case "automatic-decrypt":
		return e.NewAutomaticDecrypt(wrapped)
	default:
		return nil, status.Errorf("unknown --kind %q", kind)
	}
}

func parseAlgorithm(s string) blob.Algorithm {
	if s == "deterministic" {
		return blob.AlgorithmDeterministic
	}
	return blob.AlgorithmRandom
}

// drive steps c through every non-terminal state. Mongo-facing states
// (NEED_MONGO_COLLINFO, NEED_MONGO_MARKINGS, NEED_MONGO_KEYS) always read
// one hex-encoded reply per emitted op from stdin, since cryptdctl never
// talks to a real driver. NEED_KMS either auto-resolves against the
// engine's configured KMSProvider or follows the same manual stdin protocol,
// selected by --kms.
func drive(e *mongocrypt.Engine, c *cryptctx.Context, autoKMS bool) error {
	ctx := context.Background()
	stdin := bufio.NewReader(os.Stdin)

	for {
		state := c.State()
		switch state {
		case cryptctx.Ready, cryptctx.NothingToDo:
			return nil
		case cryptctx.Error:
			return fmt.Errorf("context failed: %s", c.Status().Error())
		case cryptctx.NeedKMS:
			if autoKMS {
				if st := e.ResolveKMS(ctx, c); st != nil {
					return fmt.Errorf("resolve kms: %s", st.Error())
				}
				continue
			}
		case cryptctx.Waiting:
			// cryptdctl only ever drives one context, so WAITING here means
			// a dependency this single-context harness cannot satisfy.
			return fmt.Errorf("context is WAITING on ctx_id=%d; cryptdctl only drives one context at a time", c.NextDependentCtxID())
		}

		msg, st := c.Op()
		if st != nil {
			return fmt.Errorf("op in state %s: %s", state, st.Error())
		}
		fmt.Fprintf(os.Stderr, "# op state=%s bytes=%s\n", state, hex.EncodeToString(msg))

		if msg != nil {
			line, err := stdin.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("read reply for state %s: %w", state, err)
			}
			reply, err := hex.DecodeString(trimNewline(line))
			if err != nil {
				return fmt.Errorf("decode reply for state %s: %w", state, err)
			}
			if st := c.Feed(reply); st != nil {
				return fmt.Errorf("feed in state %s: %s", state, st.Error())
			}
		}

		if st := c.Done(); st != nil {
			return fmt.Errorf("done in state %s: %s", state, st.Error())
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cryptdctl: "+format+"\n", args...)
	os.Exit(1)
}
