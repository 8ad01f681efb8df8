package bsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/buffers"
	"github.com/mongocrypt-go/core/internal/status"
)

func ciphertextEnvelope(tag byte) []byte {
	var uuid [16]byte
	uuid[0] = tag
	return blob.Serialize(blob.SubtypeRandom, uuid, 0x02, []byte{tag, tag, tag})
}

func TestVisitFindsNestedAndArrayCiphertexts(t *testing.T) {
	inner, err := bson.Marshal(bson.D{
		{Key: "nested", Value: primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(1)}},
	})
	require.NoError(t, err)

	doc, err := bson.Marshal(bson.D{
		{Key: "top", Value: primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(2)}},
		{Key: "sub", Value: bson.Raw(inner)},
		{Key: "list", Value: bson.A{
			primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(3)},
			"plain string, not a match",
		}},
		{Key: "plain", Value: "untouched"},
	})
	require.NoError(t, err)

	var tags []byte
	st := Visit(doc, MatchCiphertext, func(payload buffers.View) *status.Status {
		tags = append(tags, payload.Bytes()[1]) // key_uuid[0]
		return nil
	})
	require.Nil(t, st)
	assert.ElementsMatch(t, []byte{1, 2, 3}, tags)
}

func TestVisitShortCircuitsOnCallbackError(t *testing.T) {
	doc, err := bson.Marshal(bson.D{
		{Key: "a", Value: primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(1)}},
		{Key: "b", Value: primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(2)}},
	})
	require.NoError(t, err)

	calls := 0
	st := Visit(doc, MatchCiphertext, func(payload buffers.View) *status.Status {
		calls++
		return status.New(status.ClientMisuse, "stop")
	})
	require.NotNil(t, st)
	assert.Equal(t, 1, calls)
}

func TestVisitIgnoresNonMatchingBinarySubtype(t *testing.T) {
	doc, err := bson.Marshal(bson.D{
		{Key: "f", Value: primitive.Binary{Subtype: 0x00, Data: []byte("plain binary, not subtype 6")}},
	})
	require.NoError(t, err)

	calls := 0
	st := Visit(doc, MatchCiphertext, func(payload buffers.View) *status.Status {
		calls++
		return nil
	})
	require.Nil(t, st)
	assert.Equal(t, 0, calls)
}

func TestVisitRejectsMalformedDocument(t *testing.T) {
	st := Visit([]byte{0x01, 0x00, 0x00, 0x00}, MatchCiphertext, func(buffers.View) *status.Status {
		return nil
	})
	require.NotNil(t, st)
	assert.Equal(t, "malformed-input", st.Category.String())
}

func TestTransformReplacesMatchedValuesPreservingShape(t *testing.T) {
	doc, err := bson.Marshal(bson.D{
		{Key: "field", Value: primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(9)}},
		{Key: "other", Value: "unchanged"},
		{Key: "list", Value: bson.A{
			primitive.Binary{Subtype: 0x06, Data: ciphertextEnvelope(5)},
			int32(42),
		}},
	})
	require.NoError(t, err)

	out, st := Transform(doc, MatchCiphertext, func(payload buffers.View) (bsoncore.Value, *status.Status) {
		ct, st := blob.ParseCiphertext(payload.Bytes())
		require.Nil(t, st)
		return bsoncore.Value{Type: bsontype.String, Data: bsoncore.AppendString(nil, string(ct.Ciphertext.Bytes()))}, nil
	})
	require.Nil(t, st)

	var decoded struct {
		Field string `bson:"field"`
		Other string `bson:"other"`
		List  []any  `bson:"list"`
	}
	require.NoError(t, bson.Unmarshal(out, &decoded))
	assert.Equal(t, "\x09\x09\x09", decoded.Field)
	assert.Equal(t, "unchanged", decoded.Other)
	assert.Len(t, decoded.List, 2)
}

func TestTransformPassesThroughUnmatchedValuesUnchanged(t *testing.T) {
	doc, err := bson.Marshal(bson.D{{Key: "x", Value: int32(7)}})
	require.NoError(t, err)

	out, st := Transform(doc, MatchCiphertext, func(payload buffers.View) (bsoncore.Value, *status.Status) {
		t.Fatal("callback must not run for non-matching values")
		return bsoncore.Value{}, nil
	})
	require.Nil(t, st)
	assert.Equal(t, doc, out)
}
