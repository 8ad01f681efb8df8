package cryptctx

import "github.com/mongocrypt-go/core/internal/schemacache"

// SchemaOrigin reports where an automatic-encrypt context's schema came
// from (SPEC_FULL §4 supplement); OriginNone for every other kind, or for
// an automatic-encrypt context that has not yet resolved a schema.
func (c *Context) SchemaOrigin() schemacache.Origin {
	ae, ok := c.dispatch.(*automaticEncrypt)
	if !ok {
		return schemacache.OriginNone
	}
	return ae.schemaOrigin
}
