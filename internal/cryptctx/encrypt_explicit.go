package cryptctx

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/buffers"
	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/schemacache"
	"github.com/mongocrypt-go/core/internal/status"
)

// explicitEncrypt drives the single-value encryption path (spec §4.4
// "Explicit-encrypt path"): no schema, no collinfo, no marking query — the
// marking is assembled directly from the caller's options and value.
type explicitEncrypt struct {
	keysMixin
	kmsMixin

	marking *blob.Marking
	ident   keybroker.Identifier

	finalized []byte
}

type wrappedValue struct {
	V bson.RawValue `bson:"v"`
}

// NewExplicitEncrypt starts an explicit-encrypt context. wrapped must be a
// BSON document of the shape {"v": <value>}.
func NewExplicitEncrypt(id uint32, wrapped []byte, opts Options, keyCache *keybroker.SharedCache, schemaCache *schemacache.Cache, crypto Crypto, maxKeyEntries int) (*Context, *status.Status) {
	c, st := newBase(id, KindExplicitEncrypt, opts, keyCache, schemaCache, crypto, maxKeyEntries)
	if st != nil {
		return nil, st
	}

	var w wrappedValue
	if err := bson.Unmarshal(wrapped, &w); err != nil {
		return c, c.fail(status.Wrap(status.MalformedInput, err, "malformed wrapped value"))
	}
	if w.V.Type == 0 {
		return c, c.fail(status.New(status.MalformedInput, "missing required field \"v\""))
	}

	m := &blob.Marking{Algorithm: opts.Algorithm, Value: w.V, IV: opts.IV}
	var ident keybroker.Identifier
	if opts.KeyID != nil {
		m.KeyID = opts.KeyID
		ident = keybroker.ByUUID(*opts.KeyID)
	} else {
		m.KeyAltName = opts.KeyAltName
		ident = keybroker.ByAltName(*opts.KeyAltName)
	}

	ee := &explicitEncrypt{marking: m, ident: ident}
	c.dispatch = ee
	ee.init(c)
	return c, c.err
}

func (ee *explicitEncrypt) init(c *Context) {
	var st *status.Status
	if uuid, ok := ee.ident.UUID(); ok {
		st = c.broker.AddID(uuid)
	} else {
		name, _ := ee.ident.AltName()
		st = c.broker.AddName(name)
	}
	if st != nil {
		c.fail(st)
		return
	}
	c.broker.CheckCacheAndWait(false)
	c.recomputeFromBroker()
}

func (ee *explicitEncrypt) finalize(c *Context) ([]byte, *status.Status) {
	payload, st := blob.SerializeMarking(ee.marking)
	if st != nil {
		return nil, st
	}
	val, st := encryptMarking(c, buffers.NewView(payload[1:]))
	if st != nil {
		return nil, st
	}

	out, err := bson.Marshal(bson.D{{Key: "v", Value: bson.RawValue{Type: val.Type, Value: val.Data}}})
	if err != nil {
		return nil, status.Wrap(status.CollaboratorError, err, "failed to serialize encrypted value")
	}
	ee.finalized = out
	return ee.finalized, nil
}
