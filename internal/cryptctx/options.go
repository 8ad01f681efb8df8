package cryptctx

import (
	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/status"
)

// Kind selects which of the four context protocols a Context runs (spec
// §2.4 "Context state machine").
type Kind int

const (
	// KindAutomaticEncrypt drives schema discovery, the marking query,
	// and substitution of every marking in a full command.
	KindAutomaticEncrypt Kind = iota
	// KindExplicitEncrypt encrypts a single caller-supplied value wrapped
	// as {"v": ...}.
	KindExplicitEncrypt
	// KindAutomaticDecrypt traverses a full document, decrypting every
	// ciphertext it can resolve a key for.
	KindAutomaticDecrypt
	// KindExplicitDecrypt decrypts a single value wrapped as
	// {"v": ...}.
	KindExplicitDecrypt
)

func (k Kind) String() string {
	switch k {
	case KindAutomaticEncrypt:
		return "automatic-encrypt"
	case KindExplicitEncrypt:
		return "explicit-encrypt"
	case KindAutomaticDecrypt:
		return "automatic-decrypt"
	case KindExplicitDecrypt:
		return "explicit-decrypt"
	default:
		return "unknown"
	}
}

// requirement classifies one option field for one context kind (spec §3
// "Context options": "an options spec names each field as prohibited |
// required | optional").
type requirement int

const (
	prohibited requirement = iota
	required
	optional
)

// Options is the recognized configuration a caller passes to NewContext,
// validated against the kind's requirement table before any state
// transition occurs.
type Options struct {
	MasterKeyKMSProvider string
	MasterKeyAWSCMK      string
	MasterKeyAWSRegion   string
	LocalSchema          []byte
	KeyID                *[16]byte
	KeyAltName           *string
	IV                   []byte
	Algorithm            blob.Algorithm
}

type optionSpec struct {
	masterKeyProvider requirement
	localSchema       requirement
	keyID             requirement
	keyAltName        requirement
	iv                requirement
	algorithm         requirement
}

var specs = map[Kind]optionSpec{
	KindAutomaticEncrypt: {
		masterKeyProvider: prohibited,
		localSchema:       optional,
		keyID:             prohibited,
		keyAltName:        prohibited,
		iv:                prohibited,
		algorithm:         prohibited,
	},
	KindExplicitEncrypt: {
		masterKeyProvider: prohibited,
		localSchema:       prohibited,
		keyID:             optional, // exactly one of keyID/keyAltName, checked separately
		keyAltName:        optional,
		iv:                optional,
		algorithm:         required,
	},
	KindAutomaticDecrypt: {
		masterKeyProvider: prohibited,
		localSchema:       prohibited,
		keyID:             prohibited,
		keyAltName:        prohibited,
		iv:                prohibited,
		algorithm:         prohibited,
	},
	KindExplicitDecrypt: {
		masterKeyProvider: prohibited,
		localSchema:       prohibited,
		keyID:             prohibited,
		keyAltName:        prohibited,
		iv:                prohibited,
		algorithm:         prohibited,
	},
}

// validate checks o against kind's requirement table, failing with
// client-misuse on the first violation (spec §3: "mismatch fails init").
func validate(kind Kind, o Options) *status.Status {
	spec, ok := specs[kind]
	if !ok {
		return status.Errorf("unknown context kind %v", kind)
	}

	if st := checkField(spec.masterKeyProvider, o.MasterKeyKMSProvider != "", "masterkey_kms_provider"); st != nil {
		return st
	}
	if st := checkField(spec.localSchema, len(o.LocalSchema) > 0, "local_schema"); st != nil {
		return st
	}
	if st := checkField(spec.iv, len(o.IV) > 0, "iv"); st != nil {
		return st
	}
	if st := checkField(spec.algorithm, o.Algorithm != blob.AlgorithmUnspecified, "algorithm"); st != nil {
		return st
	}
	if st := checkField(spec.keyID, o.KeyID != nil, "key_id"); st != nil {
		return st
	}
	if st := checkField(spec.keyAltName, o.KeyAltName != nil, "key_alt_name"); st != nil {
		return st
	}

	if kind == KindExplicitEncrypt {
		hasID := o.KeyID != nil
		hasName := o.KeyAltName != nil
		if hasID == hasName {
			return status.Errorf("explicit-encrypt requires exactly one of key_id or key_alt_name")
		}
	}

	return nil
}

func checkField(req requirement, present bool, name string) *status.Status {
	switch req {
	case prohibited:
		if present {
			return status.Errorf("option %q is prohibited for this context kind", name)
		}
	case required:
		if !present {
			return status.Errorf("option %q is required for this context kind", name)
		}
	}
	return nil
}
