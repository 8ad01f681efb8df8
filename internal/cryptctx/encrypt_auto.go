package cryptctx

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/buffers"
	"github.com/mongocrypt-go/core/internal/bsonutil"
	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/schemacache"
	"github.com/mongocrypt-go/core/internal/status"
)

// automaticEncrypt drives the full command-level encryption path (spec
// §4.4 "Automatic-encrypt path"): schema discovery, the marking query, and
// substitution of every marking in the command with a ciphertext blob.
type automaticEncrypt struct {
	keysMixin
	kmsMixin

	namespace string
	collName  string

	schema       []byte
	schemaOrigin schemacache.Origin

	originalCommand  []byte
	markingReplyBody []byte // the "result" field from the marking-query reply
	noOpReply        bool

	finalizedCommand []byte
}

// NewAutomaticEncrypt starts an automatic-encrypt context against namespace
// for command.
func NewAutomaticEncrypt(id uint32, namespace string, command []byte, opts Options, keyCache *keybroker.SharedCache, schemaCache *schemacache.Cache, crypto Crypto, maxKeyEntries int) (*Context, *status.Status) {
	c, st := newBase(id, KindAutomaticEncrypt, opts, keyCache, schemaCache, crypto, maxKeyEntries)
	if st != nil {
		return nil, st
	}

	_, collName, st := splitNamespace(namespace)
	if st != nil {
		c.fail(st)
		return c, st
	}

	ae := &automaticEncrypt{
		namespace:       namespace,
		collName:        collName,
		originalCommand: command,
		schema:          opts.LocalSchema,
	}
	c.dispatch = ae
	ae.init(c)
	return c, c.err
}

func (ae *automaticEncrypt) init(c *Context) {
	if len(ae.originalCommand) == 0 {
		c.state = NothingToDo
		return
	}

	if ae.hasLocalSchemaOverride() {
		ae.schemaOrigin = schemacache.OriginLocal
		if len(ae.schema) == 0 {
			c.state = NothingToDo
			return
		}
		c.state = NeedMongoMarkings
		return
	}

	entry, owned, owner, ready := c.schemaCache.Lookup(ae.namespace, c.id)
	if ready {
		ae.applySchema(c, entry)
		return
	}
	if owned {
		c.state = NeedMongoCollInfo
		return
	}
	c.waitNamespace = ae.namespace
	c.schemaWaitOwner = owner
	c.state = Waiting
}

// hasLocalSchemaOverride distinguishes "no local schema option at all" from
// "local schema option present but empty", both represented as a zero-length
// slice at the Options layer; kept as its own method since the distinction
// only matters during init and nowhere else.
func (ae *automaticEncrypt) hasLocalSchemaOverride() bool {
	return ae.schema != nil
}

func (ae *automaticEncrypt) applySchema(c *Context, entry schemacache.Entry) {
	ae.schema = entry.Schema
	ae.schemaOrigin = entry.Origin
	c.waitNamespace = ""
	if len(ae.schema) == 0 {
		c.state = NothingToDo
		return
	}
	c.state = NeedMongoMarkings
}

func (ae *automaticEncrypt) opCollInfo(c *Context) ([]byte, *status.Status) {
	out, err := bson.Marshal(bson.D{{Key: "name", Value: ae.collName}})
	if err != nil {
		return nil, c.fail(status.Wrap(status.CollaboratorError, err, "failed to build listCollections filter"))
	}
	return out, nil
}

type collInfoReply struct {
	Type    string `bson:"type"`
	Options struct {
		Validator bson.Raw `bson:"validator"`
	} `bson:"options"`
}

func (ae *automaticEncrypt) feedCollInfo(c *Context, reply []byte) *status.Status {
	if len(reply) == 0 {
		ae.schema = nil
		return nil
	}

	var doc collInfoReply
	if err := bson.Unmarshal(reply, &doc); err != nil {
		return c.fail(status.Wrap(status.MalformedInput, err, "malformed listCollections reply"))
	}
	if doc.Type == "view" {
		return c.fail(status.New(status.Policy, "cannot auto-encrypt against a view collection"))
	}
	if len(doc.Options.Validator) == 0 {
		ae.schema = nil
		return nil
	}

	schemaVal, err := doc.Options.Validator.LookupErr("$jsonSchema")
	if err != nil {
		ae.schema = nil
		return nil
	}
	if st := rejectValidatorSiblings(doc.Options.Validator); st != nil {
		return c.fail(st)
	}
	schemaDoc, ok := schemaVal.DocumentOK()
	if !ok {
		return c.fail(status.New(status.MalformedInput, "validator.$jsonSchema is not a document"))
	}
	ae.schema = []byte(schemaDoc)
	return nil
}

// rejectValidatorSiblings implements the supplemented validator-sibling
// rejection (SPEC_FULL §4, resolving §9's Open Question): any key in the
// validator document besides $jsonSchema is a policy violation rather than
// silently ignored.
func rejectValidatorSiblings(validator bson.Raw) *status.Status {
	elems, err := validator.Elements()
	if err != nil {
		return status.Wrap(status.MalformedInput, err, "malformed validator document")
	}
	for _, elem := range elems {
		if elem.Key() != "$jsonSchema" {
			return status.New(status.Policy, "unsupported validator sibling: %s", elem.Key())
		}
	}
	return nil
}

func (ae *automaticEncrypt) doneCollInfo(c *Context) {
	ae.schemaOrigin = schemacache.OriginCollInfo
	c.schemaCache.Publish(ae.namespace, ae.schema, schemacache.OriginCollInfo)
	if len(ae.schema) == 0 {
		c.state = NothingToDo
		return
	}
	c.state = NeedMongoMarkings
}

func (ae *automaticEncrypt) opMarkings(c *Context) ([]byte, *status.Status) {
	return ae.schema, nil
}

type markingQueryReply struct {
	SchemaRequiresEncryption *bool    `bson:"schemaRequiresEncryption,omitempty"`
	HasEncryptedPlaceholders *bool    `bson:"hasEncryptedPlaceholders,omitempty"`
	Result                   bson.Raw `bson:"result,omitempty"`
}

func (ae *automaticEncrypt) feedMarkings(c *Context, reply []byte) *status.Status {
	var r markingQueryReply
	if err := bson.Unmarshal(reply, &r); err != nil {
		return c.fail(status.Wrap(status.MalformedInput, err, "malformed marking-query reply"))
	}
	if r.SchemaRequiresEncryption != nil && !*r.SchemaRequiresEncryption {
		ae.noOpReply = true
		return nil
	}
	if r.HasEncryptedPlaceholders != nil && !*r.HasEncryptedPlaceholders {
		ae.noOpReply = true
		return nil
	}
	if len(r.Result) == 0 {
		return c.fail(status.New(status.MalformedInput, "marking-query reply missing required field \"result\""))
	}
	ae.markingReplyBody = []byte(r.Result)
	return nil
}

func (ae *automaticEncrypt) doneMarkings(c *Context) {
	if ae.noOpReply {
		ae.finalizedCommand = ae.originalCommand
		c.state = Ready
		return
	}

	st := bsonutil.Visit(ae.markingReplyBody, bsonutil.MatchMarking, func(payload buffers.View) *status.Status {
		return addMarkingKeyToBroker(c, payload)
	})
	if st != nil {
		c.fail(st)
		return
	}

	c.broker.CheckCacheAndWait(false)
	c.recomputeFromBroker()
}

// addMarkingKeyToBroker parses one marking envelope and registers its key
// identifier with the broker.
func addMarkingKeyToBroker(c *Context, payload buffers.View) *status.Status {
	m, st := blob.ParseMarking(payload.Bytes())
	if st != nil {
		return st
	}
	uuid, altName := m.KeyIdentifier()
	if uuid != nil {
		return c.broker.AddID(*uuid)
	}
	return c.broker.AddName(*altName)
}

func (ae *automaticEncrypt) finalize(c *Context) ([]byte, *status.Status) {
	if ae.finalizedCommand != nil {
		return ae.finalizedCommand, nil
	}

	return bsonutil.Transform(ae.markingReplyBody, bsonutil.MatchMarking, func(payload buffers.View) (bsoncore.Value, *status.Status) {
		return encryptMarking(c, payload)
	})
}

// encryptMarking is the transform callback shared by the automatic and
// explicit encrypt finalizers: parse the marking, resolve its key material
// from the broker, call the crypto collaborator, and frame the result as
// a subtype-6 ciphertext blob value.
func encryptMarking(c *Context, payload buffers.View) (bsoncore.Value, *status.Status) {
	m, st := blob.ParseMarking(payload.Bytes())
	if st != nil {
		return bsoncore.Value{}, st
	}
	uuid, altName := m.KeyIdentifier()
	var id keybroker.Identifier
	if uuid != nil {
		id = keybroker.ByUUID(*uuid)
	} else {
		id = keybroker.ByAltName(*altName)
	}

	material, ok := c.broker.MaterialFor(id)
	if !ok {
		return bsoncore.Value{}, status.New(status.KeyUnavailable, "no decrypted key material for marking")
	}
	keyUUID, ok := c.broker.ResolvedUUID(id)
	if !ok {
		return bsoncore.Value{}, status.New(status.KeyUnavailable, "no resolved key uuid for marking")
	}

	ciphertext, cst := c.crypto.Encrypt(material, m.Value.Value, m.IV, m.Algorithm)
	if cst != nil {
		return bsoncore.Value{}, cst
	}

	subtype := blob.SubtypeRandom
	if m.Algorithm == blob.AlgorithmDeterministic {
		subtype = blob.SubtypeDeterministic
	}
	envelope := blob.Serialize(subtype, keyUUID, byte(m.Value.Type), ciphertext)
	return bsoncore.Value{Type: bsontype.Binary, Data: bsoncore.AppendBinary(nil, 0x06, envelope)}, nil
}
