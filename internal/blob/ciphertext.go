// Package blob implements the two wire envelopes carried inside a tagged
// binary document as subtype-6 values: the ciphertext blob produced by
// encryption/consumed by decryption, and the marking produced by the query
// analyzer and consumed by the encrypt finalizer (spec §3).
package blob

import (
	"github.com/mongocrypt-go/core/internal/buffers"
	"github.com/mongocrypt-go/core/internal/status"
)

// Subtype discriminates the two blob_subtype values a ciphertext may carry.
type Subtype byte

const (
	// SubtypeDeterministic marks a ciphertext produced with a
	// caller-supplied IV, giving equal plaintexts equal ciphertexts.
	SubtypeDeterministic Subtype = 1
	// SubtypeRandom marks a ciphertext produced with a freshly generated
	// IV on every call.
	SubtypeRandom Subtype = 2
	// markingSubtype is the discriminator byte reserved for markings
	// (§4.1's MARKING match), distinct from the two ciphertext subtypes so
	// traversal can tell the two envelopes apart by their first byte alone.
	markingSubtype byte = 0
)

// minCiphertextLen is the smallest legal ciphertext blob: subtype (1) +
// key_uuid (16) + original_bson_type (1) + at least one byte of ciphertext.
const minCiphertextLen = 19

const keyUUIDLen = 16

// Ciphertext is the parsed form of a subtype-6 ciphertext blob.
type Ciphertext struct {
	BlobSubtype      Subtype
	KeyUUID          [keyUUIDLen]byte
	OriginalBSONType byte
	Ciphertext       buffers.View
}

// ParseCiphertext parses the wire envelope described in spec §3. The
// blob_subtype is validated before any other field is read, per the
// invariant "A ciphertext blob's blob_subtype is parsed before any other
// field is used."
func ParseCiphertext(payload []byte) (*Ciphertext, *status.Status) {
	if len(payload) < minCiphertextLen {
		return nil, status.New(status.MalformedInput, "malformed ciphertext, too small")
	}

	subtype := Subtype(payload[0])
	if subtype != SubtypeDeterministic && subtype != SubtypeRandom {
		return nil, status.New(status.MalformedInput, "malformed ciphertext, expected blob subtype of 1 or 2")
	}

	ct := &Ciphertext{BlobSubtype: subtype}
	copy(ct.KeyUUID[:], payload[1:1+keyUUIDLen])
	ct.OriginalBSONType = payload[1+keyUUIDLen]
	ct.Ciphertext = buffers.NewView(payload[1+keyUUIDLen+1:])
	return ct, nil
}

// Serialize reassembles the wire envelope for a ciphertext, the inverse of
// ParseCiphertext.
func Serialize(subtype Subtype, keyUUID [keyUUIDLen]byte, originalBSONType byte, ciphertext []byte) []byte {
	out := make([]byte, 0, minCiphertextLen-1+len(ciphertext))
	out = append(out, byte(subtype))
	out = append(out, keyUUID[:]...)
	out = append(out, originalBSONType)
	out = append(out, ciphertext...)
	return out
}

// IsCiphertext reports whether a subtype-6 payload's first byte selects the
// ciphertext discriminator, without fully parsing the envelope. Used by the
// traversal engine's match filter.
func IsCiphertext(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	s := Subtype(payload[0])
	return s == SubtypeDeterministic || s == SubtypeRandom
}

// IsMarking reports whether a subtype-6 payload's first byte selects the
// marking discriminator.
func IsMarking(payload []byte) bool {
	return len(payload) > 0 && payload[0] == markingSubtype
}
