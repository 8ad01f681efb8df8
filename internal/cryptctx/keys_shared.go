package cryptctx

import "github.com/mongocrypt-go/core/internal/status"

// keysMixin implements keysOps identically for every context kind: all
// four populate the broker (from markings, from a ciphertext's key_uuid,
// or directly from options) and then drive the identical
// request-key-documents round trip. Embedding this instead of repeating
// it four times keeps the one piece of per-state logic that truly does not
// vary by kind in one place (spec §4.2 is kind-agnostic).
type keysMixin struct{}

func (keysMixin) opKeys(c *Context) ([]byte, *status.Status) {
	idents := c.broker.PendingMongoKeyIdentifiers()
	return buildKeyVaultFilter(idents)
}

func (keysMixin) feedKeys(c *Context, reply []byte) *status.Status {
	doc, st := parseKeyDocument(reply)
	if st != nil {
		return c.fail(st)
	}
	if st := c.broker.ApplyKeyDocument(doc); st != nil {
		return c.fail(st)
	}
	return nil
}

func (keysMixin) doneKeys(c *Context) {
	c.broker.DoneMongoKeys()
	c.recomputeFromBroker()
}

// kmsMixin implements kmsOps identically for every context kind, for the
// same reason: the KMS round trip only ever consults the broker.
type kmsMixin struct{}

func (kmsMixin) opKMS(c *Context) ([]byte, *status.Status) {
	for uuid, wrapped := range c.broker.PendingKMSRequests() {
		buf := make([]byte, 0, 16+len(wrapped))
		buf = append(buf, uuid[:]...)
		buf = append(buf, wrapped...)
		return buf, nil
	}
	return nil, nil // nothing left to emit this round
}

func (kmsMixin) feedKMS(c *Context, reply []byte) *status.Status {
	if len(reply) < 16 {
		return c.fail(status.New(status.MalformedInput, "kms reply too small to carry a key uuid"))
	}
	var uuid [16]byte
	copy(uuid[:], reply[:16])
	plaintext := reply[16:]
	if st := c.broker.ApplyKMSReply(uuid, plaintext); st != nil {
		return c.fail(st)
	}
	return nil
}

func (kmsMixin) doneKMS(c *Context) {
	c.recomputeFromBroker()
}
