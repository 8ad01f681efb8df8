// Package bsonutil implements the recursive binary-document traversal and
// transformation engine described in spec §4.1. It is a thin layer over
// go.mongodb.org/mongo-driver's bsoncore package (the self-describing
// tagged binary format named as an external collaborator in spec §6): the
// engine itself only knows how to recognize and recurse, never how the
// underlying format is framed.
package bsonutil

import (
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/buffers"
	"github.com/mongocrypt-go/core/internal/status"
)

// Match selects which subtype-6 discriminator the engine looks for.
type Match int

const (
	// MatchCiphertext visits values whose first content byte selects a
	// ciphertext blob_subtype (1 or 2).
	MatchCiphertext Match = iota
	// MatchMarking visits values whose first content byte selects the
	// marking discriminator.
	MatchMarking
)

// binarySubtype is the BSON binary subtype this engine looks inside; it
// never inspects any other subtype.
const binarySubtype = 0x06

// VisitFunc is invoked once per matched value in visit mode. Returning a
// non-nil status short-circuits the remaining traversal.
type VisitFunc func(payload buffers.View) *status.Status

// TransformFunc is invoked once per matched value in transform mode. It
// must return a replacement value (tagged with its own BSON type) or a
// failing status.
type TransformFunc func(payload buffers.View) (bsoncore.Value, *status.Status)

func matches(m Match, data []byte) bool {
	switch m {
	case MatchCiphertext:
		return blob.IsCiphertext(data)
	case MatchMarking:
		return blob.IsMarking(data)
	default:
		return false
	}
}

// payloadFor returns the view handed to a callback for a matched value:
// the full envelope for ciphertext, the embedded document with the
// discriminator byte stripped for a marking (spec §4.1).
func payloadFor(m Match, data []byte) buffers.View {
	if m == MatchMarking {
		return buffers.NewView(data[1:])
	}
	return buffers.NewView(data)
}

// Visit walks doc, invoking fn for every subtype-6 value matching m. It
// recurses into embedded documents and arrays. An empty document succeeds
// trivially.
func Visit(doc []byte, m Match, fn VisitFunc) *status.Status {
	elems, err := bsoncore.Document(doc).Elements()
	if err != nil {
		return status.Wrap(status.MalformedInput, err, "malformed-bson")
	}

	for _, elem := range elems {
		val, err := elem.ValueErr()
		if err != nil {
			return status.Wrap(status.MalformedInput, err, "malformed-bson")
		}

		switch val.Type {
		case bsontype.EmbeddedDocument:
			sub, ok := val.DocumentOK()
			if !ok {
				return status.New(status.MalformedInput, "malformed-bson: not a document")
			}
			if st := Visit([]byte(sub), m, fn); st != nil {
				return st
			}
		case bsontype.Array:
			sub, ok := val.ArrayOK()
			if !ok {
				return status.New(status.MalformedInput, "malformed-bson: not an array")
			}
			if st := Visit([]byte(sub), m, fn); st != nil {
				return st
			}
		case bsontype.Binary:
			subtype, data, ok := val.BinaryOK()
			if !ok {
				return status.New(status.MalformedInput, "malformed-bson: not binary")
			}
			if subtype == binarySubtype && matches(m, data) {
				if st := fn(payloadFor(m, data)); st != nil {
					return st
				}
			}
		}
	}
	return nil
}

// Transform walks doc, rebuilding it field-by-field. Every matched value is
// replaced with whatever fn returns; every other value passes through
// unchanged. Field names and order are preserved exactly, including numeric
// array indices, per the invariant in spec §8.
func Transform(doc []byte, m Match, fn TransformFunc) ([]byte, *status.Status) {
	elems, err := bsoncore.Document(doc).Elements()
	if err != nil {
		return nil, status.Wrap(status.MalformedInput, err, "malformed-bson")
	}

	idx, out := bsoncore.AppendDocumentStart(nil)
	for _, elem := range elems {
		key, err := elem.KeyErr()
		if err != nil {
			return nil, status.Wrap(status.MalformedInput, err, "malformed-bson")
		}
		val, err := elem.ValueErr()
		if err != nil {
			return nil, status.Wrap(status.MalformedInput, err, "malformed-bson")
		}

		replacement, st := transformValue(val, m, fn)
		if st != nil {
			return nil, st
		}
		out = bsoncore.AppendValueElement(out, key, replacement)
	}

	out, err = bsoncore.AppendDocumentEnd(out, idx)
	if err != nil {
		return nil, status.Wrap(status.MalformedInput, err, "too-large")
	}
	return out, nil
}

func transformValue(val bsoncore.Value, m Match, fn TransformFunc) (bsoncore.Value, *status.Status) {
	switch val.Type {
	case bsontype.EmbeddedDocument:
		sub, ok := val.DocumentOK()
		if !ok {
			return bsoncore.Value{}, status.New(status.MalformedInput, "malformed-bson: not a document")
		}
		rebuilt, st := Transform([]byte(sub), m, fn)
		if st != nil {
			return bsoncore.Value{}, st
		}
		return bsoncore.Value{Type: bsontype.EmbeddedDocument, Data: rebuilt}, nil

	case bsontype.Array:
		sub, ok := val.ArrayOK()
		if !ok {
			return bsoncore.Value{}, status.New(status.MalformedInput, "malformed-bson: not an array")
		}
		rebuilt, st := transformArray([]byte(sub), m, fn)
		if st != nil {
			return bsoncore.Value{}, st
		}
		return bsoncore.Value{Type: bsontype.Array, Data: rebuilt}, nil

	case bsontype.Binary:
		subtype, data, ok := val.BinaryOK()
		if !ok {
			return bsoncore.Value{}, status.New(status.MalformedInput, "malformed-bson: not binary")
		}
		if subtype == binarySubtype && matches(m, data) {
			return fn(payloadFor(m, data))
		}
		return val, nil

	default:
		return val, nil
	}
}

// transformArray mirrors Transform but frames the rebuilt value as a BSON
// array instead of a document; numeric keys are preserved because the
// underlying elements already carry their original index strings.
func transformArray(arr []byte, m Match, fn TransformFunc) ([]byte, *status.Status) {
	elems, err := bsoncore.Document(arr).Elements()
	if err != nil {
		return nil, status.Wrap(status.MalformedInput, err, "malformed-bson")
	}

	idx, out := bsoncore.AppendArrayStart(nil)
	for _, elem := range elems {
		key, err := elem.KeyErr()
		if err != nil {
			return nil, status.Wrap(status.MalformedInput, err, "malformed-bson")
		}
		val, err := elem.ValueErr()
		if err != nil {
			return nil, status.Wrap(status.MalformedInput, err, "malformed-bson")
		}

		replacement, st := transformValue(val, m, fn)
		if st != nil {
			return nil, st
		}
		out = bsoncore.AppendValueElement(out, key, replacement)
	}

	out, err = bsoncore.AppendArrayEnd(out, idx)
	if err != nil {
		return nil, status.Wrap(status.MalformedInput, err, "too-large")
	}
	return out, nil
}
