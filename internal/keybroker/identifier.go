package keybroker

import "encoding/hex"

// Identifier is the UUID-or-alt-name union a key is requested by (spec §9,
// "Identifier union"): modeled as a tagged variant rather than two nullable
// fields, because the broker's deduplication needs to treat a UUID and an
// alt-name that resolve to the same physical key as the same entry once
// that resolution is known.
type Identifier struct {
	uuid    *[16]byte
	altName *string
}

// ByUUID builds an Identifier naming a key by its 16-byte UUID.
func ByUUID(uuid [16]byte) Identifier {
	u := uuid
	return Identifier{uuid: &u}
}

// ByAltName builds an Identifier naming a key by its alternate name.
func ByAltName(name string) Identifier {
	n := name
	return Identifier{altName: &n}
}

// UUID returns the identifier's UUID form and whether it has one.
func (id Identifier) UUID() (uuid [16]byte, ok bool) {
	if id.uuid == nil {
		return uuid, false
	}
	return *id.uuid, true
}

// AltName returns the identifier's alt-name form and whether it has one.
func (id Identifier) AltName() (name string, ok bool) {
	if id.altName == nil {
		return "", false
	}
	return *id.altName, true
}

// cacheKey returns the canonical key this identifier is stored under before
// any cross-namespace resolution has happened: "u:<hex>" for a UUID, or
// "n:<name>" for an alt-name. Once a key document names both a UUID and an
// alt-name for the same key, the broker additionally indexes the alt-name
// cache key to the UUID entry so future lookups under either name merge
// (see entry normalization in broker.go).
func (id Identifier) cacheKey() string {
	if id.uuid != nil {
		return "u:" + hex.EncodeToString(id.uuid[:])
	}
	return "n:" + *id.altName
}
