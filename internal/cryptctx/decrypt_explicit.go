package cryptctx

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/schemacache"
	"github.com/mongocrypt-go/core/internal/status"
)

// explicitDecrypt drives the single-value decryption path (spec §4.4
// "Explicit-decrypt path"): a missing key is a hard error here, unlike the
// automatic path's partial-decryption tolerance.
type explicitDecrypt struct {
	keysMixin
	kmsMixin

	ciphertext *blob.Ciphertext
}

// NewExplicitDecrypt starts an explicit-decrypt context. wrapped must be a
// BSON document of the shape {"v": <ciphertext binary>}.
func NewExplicitDecrypt(id uint32, wrapped []byte, keyCache *keybroker.SharedCache, schemaCache *schemacache.Cache, crypto Crypto, maxKeyEntries int) (*Context, *status.Status) {
	c, st := newBase(id, KindExplicitDecrypt, Options{}, keyCache, schemaCache, crypto, maxKeyEntries)
	if st != nil {
		return nil, st
	}

	var w wrappedValue
	if err := bson.Unmarshal(wrapped, &w); err != nil {
		return c, c.fail(status.Wrap(status.MalformedInput, err, "malformed wrapped value"))
	}
	if w.V.Type != bsontype.Binary {
		return c, c.fail(status.New(status.MalformedInput, "missing required binary field \"v\""))
	}
	_, payload := w.V.Binary()

	ct, st := blob.ParseCiphertext(payload)
	if st != nil {
		return c, c.fail(st)
	}

	ed := &explicitDecrypt{ciphertext: ct}
	c.dispatch = ed
	ed.init(c)
	return c, c.err
}

func (ed *explicitDecrypt) init(c *Context) {
	if st := c.broker.AddID(ed.ciphertext.KeyUUID); st != nil {
		c.fail(st)
		return
	}
	c.broker.CheckCacheAndWait(false)
	c.recomputeFromBroker()
}

func (ed *explicitDecrypt) finalize(c *Context) ([]byte, *status.Status) {
	material, ok := c.broker.DecryptedKeyByID(ed.ciphertext.KeyUUID)
	if !ok {
		return nil, status.New(status.KeyUnavailable, "key not available for explicit decrypt")
	}

	plaintext, cst := c.crypto.Decrypt(material, ed.ciphertext.Ciphertext.Bytes())
	if cst != nil {
		return nil, cst
	}

	out, err := bson.Marshal(bson.D{{Key: "v", Value: bson.RawValue{
		Type:  bsontype.Type(ed.ciphertext.OriginalBSONType),
		Value: plaintext,
	}}})
	if err != nil {
		return nil, status.Wrap(status.CollaboratorError, err, "failed to serialize decrypted value")
	}
	return out, nil
}
