package cryptctx

import (
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/bsonutil"
	"github.com/mongocrypt-go/core/internal/buffers"
	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/schemacache"
	"github.com/mongocrypt-go/core/internal/status"
)

// automaticDecrypt drives the full-document decryption path (spec §4.4
// "Automatic-decrypt path"): every ciphertext found contributes its
// key_uuid to the broker, and a missing key leaves the ciphertext in
// place rather than failing the whole document (partial decryption).
type automaticDecrypt struct {
	keysMixin
	kmsMixin

	document []byte
}

// NewAutomaticDecrypt starts an automatic-decrypt context over document.
func NewAutomaticDecrypt(id uint32, document []byte, keyCache *keybroker.SharedCache, schemaCache *schemacache.Cache, crypto Crypto, maxKeyEntries int) (*Context, *status.Status) {
	c, st := newBase(id, KindAutomaticDecrypt, Options{}, keyCache, schemaCache, crypto, maxKeyEntries)
	if st != nil {
		return nil, st
	}

	ad := &automaticDecrypt{document: document}
	c.dispatch = ad
	ad.init(c)
	return c, c.err
}

func (ad *automaticDecrypt) init(c *Context) {
	if len(ad.document) == 0 {
		c.state = NothingToDo
		return
	}

	st := bsonutil.Visit(ad.document, bsonutil.MatchCiphertext, func(payload buffers.View) *status.Status {
		ct, st := blob.ParseCiphertext(payload.Bytes())
		if st != nil {
			return st
		}
		return c.broker.AddID(ct.KeyUUID)
	})
	if st != nil {
		c.fail(st)
		return
	}

	c.broker.CheckCacheAndWait(false)
	c.recomputeFromBroker()
}

func (ad *automaticDecrypt) finalize(c *Context) ([]byte, *status.Status) {
	return bsonutil.Transform(ad.document, bsonutil.MatchCiphertext, func(payload buffers.View) (bsoncore.Value, *status.Status) {
		return decryptCiphertextOrPassthrough(c, payload)
	})
}

// decryptCiphertextOrPassthrough decrypts a ciphertext blob if its key is
// available, or returns the original envelope unchanged if not (spec
// §4.4: "Partial decryption is permitted").
func decryptCiphertextOrPassthrough(c *Context, payload buffers.View) (bsoncore.Value, *status.Status) {
	raw := payload.Bytes()
	ct, st := blob.ParseCiphertext(raw)
	if st != nil {
		return bsoncore.Value{}, st
	}

	material, ok := c.broker.DecryptedKeyByID(ct.KeyUUID)
	if !ok {
		return bsoncore.Value{Type: bsontype.Binary, Data: bsoncore.AppendBinary(nil, 0x06, raw)}, nil
	}

	plaintext, cst := c.crypto.Decrypt(material, ct.Ciphertext.Bytes())
	if cst != nil {
		return bsoncore.Value{}, cst
	}
	return bsoncore.Value{Type: bsontype.Type(ct.OriginalBSONType), Data: plaintext}, nil
}
