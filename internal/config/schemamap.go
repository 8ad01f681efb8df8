package config

import "github.com/ryanuber/go-glob"

// SchemaMap resolves a namespace ("db.coll") against the glob-keyed
// SchemaOverrides table, generalizing the teacher's literal provider-name
// lookups (internal/s3/providers.go matched bucket names exactly) to the
// pattern matching a fleet of collections under one schema typically needs
// ("analytics.events_*").
type SchemaMap struct {
	overrides map[string][]byte
}

// NewSchemaMap builds a SchemaMap from a Config's overrides table.
func NewSchemaMap(c *Config) *SchemaMap {
	return &SchemaMap{overrides: c.SchemaOverrides}
}

// Lookup returns the schema registered for a glob pattern matching
// namespace, preferring an exact literal match over a wildcard one when
// both are present. When several wildcard patterns match, which one wins is
// not defined (the table is a map and is walked in map order).
func (m *SchemaMap) Lookup(namespace string) ([]byte, bool) {
	if schema, ok := m.overrides[namespace]; ok {
		return schema, true
	}
	for pattern, schema := range m.overrides {
		if pattern == namespace {
			continue
		}
		if glob.Glob(pattern, namespace) {
			return schema, true
		}
	}
	return nil, false
}
