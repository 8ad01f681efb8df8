package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, "local", c.KMSProvider)
	assert.Equal(t, defaultMaxKeyBrokerEntries, c.MaxKeyBrokerEntries)
	assert.Equal(t, "stdout", c.Audit.Sink.Type)
}

func TestWithOptions(t *testing.T) {
	c := New(
		WithKMSProvider("kmip"),
		WithKMIP(KMIPConfig{Endpoint: "kmip://localhost:5696"}),
		WithLocalSchema("db.coll*", []byte(`{"bsonType":"object"}`)),
		WithMaxKeyBrokerEntries(16),
		WithCacheNoBlock(true),
	)

	assert.Equal(t, "kmip", c.KMSProvider)
	assert.Equal(t, "kmip://localhost:5696", c.KMIP.Endpoint)
	assert.Equal(t, 16, c.MaxKeyBrokerEntries)
	assert.True(t, c.CacheNoBlock)

	schema, ok := NewSchemaMap(c).Lookup("db.coll1")
	require.True(t, ok)
	assert.JSONEq(t, `{"bsonType":"object"}`, string(schema))
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
kms_provider: aws
aws:
  region: us-east-1
  cmk: arn:aws:kms:us-east-1:1234:key/abc
max_key_broker_entries: 32
schema_overrides:
  "db.coll": '{"bsonType":"object"}'
`)
	c, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "aws", c.KMSProvider)
	assert.Equal(t, "us-east-1", c.AWS.Region)
	assert.Equal(t, 32, c.MaxKeyBrokerEntries)

	schema, ok := NewSchemaMap(c).Lookup("db.coll")
	require.True(t, ok)
	assert.JSONEq(t, `{"bsonType":"object"}`, string(schema))
}

func TestSchemaMapGlobPreference(t *testing.T) {
	m := NewSchemaMap(New(
		WithLocalSchema("db.*", []byte(`{"bsonType":"object","title":"wildcard"}`)),
		WithLocalSchema("db.exact", []byte(`{"bsonType":"object","title":"exact"}`)),
	))

	schema, ok := m.Lookup("db.exact")
	require.True(t, ok)
	assert.JSONEq(t, `{"bsonType":"object","title":"exact"}`, string(schema))

	schema, ok = m.Lookup("db.other")
	require.True(t, ok)
	assert.JSONEq(t, `{"bsonType":"object","title":"wildcard"}`, string(schema))

	_, ok = m.Lookup("other.coll")
	assert.False(t, ok)
}
