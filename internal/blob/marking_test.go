package blob

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParseMarkingRoundTripKeyID(t *testing.T) {
	var uuid [keyUUIDLen]byte
	for i := range uuid {
		uuid[i] = byte(i + 1)
	}
	rv, err := bson.MarshalValue("hello")
	require.NoError(t, err)

	m := &Marking{Algorithm: AlgorithmRandom, KeyID: &uuid, Value: rv}

	wire, st := SerializeMarking(m)
	require.Nil(t, st)
	assert.True(t, IsMarking(wire))

	parsed, st := ParseMarking(wire[1:])
	require.Nil(t, st)
	assert.Equal(t, AlgorithmRandom, parsed.Algorithm)
	require.NotNil(t, parsed.KeyID)
	assert.Equal(t, uuid, *parsed.KeyID)
	assert.Nil(t, parsed.KeyAltName)
}

func TestSerializeParseMarkingRoundTripKeyAltName(t *testing.T) {
	rv, err := bson.MarshalValue(int32(42))
	require.NoError(t, err)
	name := "my-key"

	m := &Marking{Algorithm: AlgorithmDeterministic, KeyAltName: &name, Value: rv, IV: []byte("0123456789012345")}

	wire, st := SerializeMarking(m)
	require.Nil(t, st)

	parsed, st := ParseMarking(wire[1:])
	require.Nil(t, st)
	assert.Equal(t, AlgorithmDeterministic, parsed.Algorithm)
	assert.Nil(t, parsed.KeyID)
	require.NotNil(t, parsed.KeyAltName)
	assert.Equal(t, name, *parsed.KeyAltName)
	assert.Equal(t, []byte("0123456789012345"), parsed.IV)
}

func TestSerializeMarkingRequiresAKeyIdentifier(t *testing.T) {
	rv, _ := bson.MarshalValue("v")
	_, st := SerializeMarking(&Marking{Algorithm: AlgorithmRandom, Value: rv})
	require.NotNil(t, st)
	assert.Equal(t, "client-misuse", st.Category.String())
}

func TestParseMarkingRejectsBothIdentifiers(t *testing.T) {
	var uuid [keyUUIDLen]byte
	name := "x"
	rv, _ := bson.MarshalValue("v")
	doc, err := bson.Marshal(wireMarking{
		Algorithm:  AlgorithmRandom,
		KeyID:      &primitive.Binary{Subtype: 0x04, Data: uuid[:]},
		KeyAltName: &name,
		Value:      rv,
	})
	require.NoError(t, err)

	_, st := ParseMarking(doc)
	require.NotNil(t, st)
}
