package cryptctx

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/status"
)

// wireKeyDocument is the shape of one key-vault collection document, the
// database-driver-fed reply consumed during NEED_MONGO_KEYS.
type wireKeyDocument struct {
	ID          primitive.Binary `bson:"_id"`
	KeyAltNames []string         `bson:"keyAltNames,omitempty"`
	KeyMaterial primitive.Binary `bson:"keyMaterial"`
}

func parseKeyDocument(reply []byte) (keybroker.KeyDocument, *status.Status) {
	var w wireKeyDocument
	if err := bson.Unmarshal(reply, &w); err != nil {
		return keybroker.KeyDocument{}, status.Wrap(status.MalformedInput, err, "malformed key document")
	}
	if len(w.ID.Data) != 16 {
		return keybroker.KeyDocument{}, status.New(status.MalformedInput, "key document _id must be a 16-byte UUID")
	}
	var doc keybroker.KeyDocument
	copy(doc.UUID[:], w.ID.Data)
	doc.AltNames = w.KeyAltNames
	doc.Wrapped = w.KeyMaterial.Data
	return doc, nil
}

// buildKeyVaultFilter constructs the key-vault collection query the core
// hands the caller for NEED_MONGO_KEYS: an $or of the still-unresolved
// identifiers, matching by _id or by keyAltNames membership.
func buildKeyVaultFilter(idents []keybroker.Identifier) ([]byte, *status.Status) {
	clauses := bson.A{}
	for _, id := range idents {
		if uuid, ok := id.UUID(); ok {
			clauses = append(clauses, bson.D{{Key: "_id", Value: primitive.Binary{Subtype: 0x04, Data: uuid[:]}}})
			continue
		}
		name, _ := id.AltName()
		clauses = append(clauses, bson.D{{Key: "keyAltNames", Value: name}})
	}
	filter := bson.D{{Key: "$or", Value: clauses}}
	out, err := bson.Marshal(filter)
	if err != nil {
		return nil, status.Wrap(status.CollaboratorError, err, "failed to build key vault filter")
	}
	return out, nil
}
