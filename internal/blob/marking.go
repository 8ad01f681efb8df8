package blob

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mongocrypt-go/core/internal/status"
)

// Algorithm identifies the symmetric encryption scheme a marking requests.
type Algorithm int32

const (
	// AlgorithmUnspecified is the zero value; never valid on the wire.
	AlgorithmUnspecified Algorithm = 0
	// AlgorithmDeterministic requests equal plaintexts produce equal
	// ciphertexts (caller-supplied or deterministically derived IV).
	AlgorithmDeterministic Algorithm = 1
	// AlgorithmRandom requests a freshly generated IV per call.
	AlgorithmRandom Algorithm = 2
)

// wireMarking is the embedded BSON document that follows the discriminator
// byte. Exactly one of KeyID/KeyAltName is set, per the mutual-exclusion
// invariant in spec §3.
type wireMarking struct {
	Algorithm  Algorithm          `bson:"a"`
	KeyID      *primitive.Binary  `bson:"ki,omitempty"`
	KeyAltName *string            `bson:"ka,omitempty"`
	Value      bson.RawValue      `bson:"v"`
	IV         *primitive.Binary  `bson:"iv,omitempty"`
}

// Marking is the parsed, in-memory form of a marking envelope.
type Marking struct {
	Algorithm  Algorithm
	KeyID      *[keyUUIDLen]byte
	KeyAltName *string
	Value      bson.RawValue
	IV         []byte
}

// KeyIdentifier returns the UUID or alt-name carried by the marking, the
// same union the key broker stores entries under.
func (m *Marking) KeyIdentifier() (uuid *[keyUUIDLen]byte, altName *string) {
	return m.KeyID, m.KeyAltName
}

// ParseMarking decodes the embedded BSON document of a marking envelope.
// payload must already have the discriminator byte stripped, matching what
// the traversal engine hands to a MARKING-mode callback.
func ParseMarking(payload []byte) (*Marking, *status.Status) {
	var w wireMarking
	if err := bson.Unmarshal(payload, &w); err != nil {
		return nil, status.Wrap(status.MalformedInput, err, "malformed marking")
	}

	hasID := w.KeyID != nil && len(w.KeyID.Data) == keyUUIDLen
	hasName := w.KeyAltName != nil && *w.KeyAltName != ""
	if hasID == hasName {
		return nil, status.New(status.MalformedInput, "marking must identify exactly one of key_id or key_alt_name")
	}

	m := &Marking{Algorithm: w.Algorithm, Value: w.Value}
	if hasID {
		var uuid [keyUUIDLen]byte
		copy(uuid[:], w.KeyID.Data)
		m.KeyID = &uuid
	} else {
		m.KeyAltName = w.KeyAltName
	}
	if w.IV != nil {
		m.IV = w.IV.Data
	}
	return m, nil
}

// SerializeMarking builds the full subtype-6 payload (discriminator byte
// plus embedded document) for a synthetic marking, used by explicit-encrypt
// finalize to hand the traversal-free fast path the same shape the
// automatic path produces from a real marking-query reply.
func SerializeMarking(m *Marking) ([]byte, *status.Status) {
	w := wireMarking{Algorithm: m.Algorithm, Value: m.Value}
	switch {
	case m.KeyID != nil:
		w.KeyID = &primitive.Binary{Subtype: 0x04, Data: append([]byte(nil), m.KeyID[:]...)}
	case m.KeyAltName != nil:
		w.KeyAltName = m.KeyAltName
	default:
		return nil, status.New(status.ClientMisuse, "marking must identify a key")
	}
	if len(m.IV) > 0 {
		w.IV = &primitive.Binary{Subtype: 0x00, Data: m.IV}
	}

	doc, err := bson.Marshal(w)
	if err != nil {
		return nil, status.Wrap(status.CollaboratorError, err, "failed to serialize marking")
	}

	out := make([]byte, 0, 1+len(doc))
	out = append(out, markingSubtype)
	out = append(out, doc...)
	return out, nil
}
