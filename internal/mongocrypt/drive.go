package mongocrypt

import (
	"context"
	"time"

	"github.com/mongocrypt-go/core/internal/cryptctx"
	"github.com/mongocrypt-go/core/internal/status"
)

// Step wraps c.Op()/c.Feed()/c.Done() for exactly one state, tracing the
// transition and recording its latency. A caller driving a context's Mongo
// round trips (listCollections, the marking query, the key-vault query) can
// use this instead of calling the Context methods directly to get the same
// observability ResolveKMS gets for free.
func (e *Engine) Step(ctx context.Context, c *cryptctx.Context, reply []byte) ([]byte, *status.Status) {
	from := c.State().String()
	start := time.Now()
	spanCtx, endSpan := traceTransition(ctx, c.ID(), c.Kind().String(), from)

	if reply != nil {
		if st := c.Feed(reply); st != nil {
			endSpan(c.State().String(), true)
			e.metrics.RecordStateDuration(from, time.Since(start))
			return nil, st
		}
	}
	msg, st := c.Op()
	if st == nil && msg == nil {
		st = c.Done()
	}

	to := c.State().String()
	endSpan(to, st != nil)
	e.metrics.RecordStateDuration(from, time.Since(start))
	e.metrics.RecordStateTransition(spanCtx, c.Kind().String(), from, to)
	return msg, st
}

// ResolveKMS drives a context sitting in NEED_KMS to completion against the
// Engine's configured KMSProvider, the caller-side half of spec §4.3's
// NEED_KMS round trip: Op emits a wire message of [16-byte key_uuid][wrapped
// bytes] for each pending request, UnwrapKey answers it, and Feed carries
// the plaintext DEK back in. Examples and tests that don't need a real KMS
// deployment call this instead of hand-rolling the loop.
func (e *Engine) ResolveKMS(ctx context.Context, c *cryptctx.Context) *status.Status {
	for c.State() == cryptctx.NeedKMS {
		msg, st := c.Op()
		if st != nil {
			return st
		}
		if msg == nil {
			break
		}
		if len(msg) < 16 {
			return status.New(status.MalformedInput, "kms op message shorter than a key uuid")
		}
		wrapped := msg[16:]

		spanCtx, endSpan := traceKMSOperation(ctx, e.kms.Provider(), "unwrap")
		start := time.Now()
		plaintext, err := e.kms.UnwrapKey(spanCtx, &KeyEnvelope{Provider: e.kms.Provider(), Ciphertext: wrapped})
		dur := time.Since(start)
		endSpan(err)

		e.metrics.RecordKMSOperation(ctx, e.kms.Provider(), "unwrap", dur)
		e.audit.LogKMSOperation(e.kms.Provider(), "unwrap", err == nil, err, dur)
		if st := kmsErrStatus(e.kms.Provider(), err); st != nil {
			return st
		}

		reply := append(append([]byte{}, msg[:16]...), plaintext...)
		if st := c.Feed(reply); st != nil {
			return st
		}
	}
	return c.Done()
}
