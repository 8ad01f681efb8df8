// Package cryptctx implements the per-request context state machine
// described in spec §4.4: the dominant component, driving a caller through
// NEED_MONGO_COLLINFO → NEED_MONGO_MARKINGS → NEED_MONGO_KEYS → NEED_KMS →
// WAITING → READY → DONE (plus the terminal NOTHING_TO_DO and ERROR), with
// per-kind dispatch resolved through Go interfaces rather than a
// function-pointer table (spec §9, Open Question 1).
package cryptctx

import (
	"github.com/mongocrypt-go/core/internal/blob"
	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/schemacache"
	"github.com/mongocrypt-go/core/internal/status"
)

// Crypto is the out-of-scope symmetric crypto collaborator contract (spec
// §6): key material is an opaque byte string of provider-defined length.
type Crypto interface {
	Encrypt(keyMaterial, plaintext, iv []byte, alg blob.Algorithm) ([]byte, *status.Status)
	Decrypt(keyMaterial, ciphertext []byte) ([]byte, *status.Status)
}

// collInfoOps is implemented only by kinds that run the listCollections
// round trip.
type collInfoOps interface {
	opCollInfo(c *Context) ([]byte, *status.Status)
	feedCollInfo(c *Context, reply []byte) *status.Status
	doneCollInfo(c *Context)
}

// markingsOps is implemented only by kinds that run the marking query.
type markingsOps interface {
	opMarkings(c *Context) ([]byte, *status.Status)
	feedMarkings(c *Context, reply []byte) *status.Status
	doneMarkings(c *Context)
}

// keysOps is implemented by every kind: all four populate the broker,
// whether from markings, from a ciphertext's key_uuid, or directly from
// options.
type keysOps interface {
	opKeys(c *Context) ([]byte, *status.Status)
	feedKeys(c *Context, reply []byte) *status.Status
	doneKeys(c *Context)
}

// kmsOps is implemented by every kind.
type kmsOps interface {
	opKMS(c *Context) ([]byte, *status.Status)
	feedKMS(c *Context, reply []byte) *status.Status
	doneKMS(c *Context)
}

// finalizeOps is implemented by every kind.
type finalizeOps interface {
	finalize(c *Context) ([]byte, *status.Status)
}

// Context is the central per-request entity (spec §3 "Context").
type Context struct {
	id    uint32
	kind  Kind
	state State
	err   *status.Status

	noBlock bool

	keyCache    *keybroker.SharedCache
	schemaCache *schemacache.Cache
	crypto      Crypto
	broker      *keybroker.Broker

	dispatch any

	// Populated only while state == Waiting, so NextDependentCtxID and
	// WaitDone know which collaborator to re-check.
	waitNamespace   string // non-empty => waiting on schemaCache, not the broker
	schemaWaitOwner uint32
}

func newBase(id uint32, kind Kind, opts Options, keyCache *keybroker.SharedCache, schemaCache *schemacache.Cache, crypto Crypto, maxKeyEntries int) (*Context, *status.Status) {
	if st := validate(kind, opts); st != nil {
		return nil, st
	}
	c := &Context{
		id:          id,
		kind:        kind,
		keyCache:    keyCache,
		schemaCache: schemaCache,
		crypto:      crypto,
		broker:      keybroker.NewBroker(id, keyCache, maxKeyEntries),
	}
	return c, nil
}

// ID returns this context's engine-unique id.
func (c *Context) ID() uint32 { return c.id }

// Kind returns the context's kind tag.
func (c *Context) Kind() Kind { return c.kind }

// State returns the current caller-observable state.
func (c *Context) State() State { return c.state }

// Status returns the terminal error, or nil if the context has not failed.
func (c *Context) Status() *status.Status { return c.err }

// SetNoBlock selects the non-blocking WaitDone policy (spec §5 "Blocking
// policy"; default is blocking, per SPEC_FULL §5 Open Question 2).
func (c *Context) SetNoBlock(v bool) { c.noBlock = v }

func (c *Context) fail(st *status.Status) *status.Status {
	c.state = Error
	c.err = st
	return st
}

// Op returns the next blob to send to the collaborator implied by the
// current state.
func (c *Context) Op() ([]byte, *status.Status) {
	if c.state.terminal() {
		return nil, status.Errorf("no op available in state %v", c.state)
	}
	switch c.state {
	case NeedMongoCollInfo:
		d, ok := c.dispatch.(collInfoOps)
		if !ok {
			return nil, c.fail(status.Errorf("context kind %v has no NEED_MONGO_COLLINFO op", c.kind))
		}
		return d.opCollInfo(c)
	case NeedMongoMarkings:
		d, ok := c.dispatch.(markingsOps)
		if !ok {
			return nil, c.fail(status.Errorf("context kind %v has no NEED_MONGO_MARKINGS op", c.kind))
		}
		return d.opMarkings(c)
	case NeedMongoKeys:
		return c.dispatch.(keysOps).opKeys(c)
	case NeedKMS:
		return c.dispatch.(kmsOps).opKMS(c)
	default:
		return nil, status.Errorf("no op available in state %v", c.state)
	}
}

// Feed supplies one reply for the current state.
func (c *Context) Feed(reply []byte) *status.Status {
	if c.state.terminal() {
		return c.fail(status.Errorf("cannot feed a terminal context"))
	}
	switch c.state {
	case NeedMongoCollInfo:
		return c.dispatch.(collInfoOps).feedCollInfo(c, reply)
	case NeedMongoMarkings:
		return c.dispatch.(markingsOps).feedMarkings(c, reply)
	case NeedMongoKeys:
		return c.dispatch.(keysOps).feedKeys(c, reply)
	case NeedKMS:
		return c.dispatch.(kmsOps).feedKMS(c, reply)
	default:
		return c.fail(status.Errorf("cannot feed in state %v", c.state))
	}
}

// Done signals that every reply for the current state has been fed,
// triggering re-evaluation of the state machine.
func (c *Context) Done() *status.Status {
	if c.state.terminal() {
		return c.fail(status.Errorf("context is already terminal"))
	}
	switch c.state {
	case NeedMongoCollInfo:
		c.dispatch.(collInfoOps).doneCollInfo(c)
	case NeedMongoMarkings:
		c.dispatch.(markingsOps).doneMarkings(c)
	case NeedMongoKeys:
		c.dispatch.(keysOps).doneKeys(c)
	case NeedKMS:
		c.dispatch.(kmsOps).doneKMS(c)
	default:
		return c.fail(status.Errorf("cannot call done in state %v", c.state))
	}
	return c.err
}

// Finalize produces the output blob once the context is Ready.
func (c *Context) Finalize() ([]byte, *status.Status) {
	if c.state != Ready {
		return nil, status.Errorf("finalize requires state READY, have %v", c.state)
	}
	out, st := c.dispatch.(finalizeOps).finalize(c)
	if st != nil {
		c.fail(st)
		return nil, st
	}
	c.state = Done
	return out, nil
}

// Cleanup releases every cache entry this context owns as pending,
// regardless of current state (spec §5 "Cancellation"). Safe to call on
// an already-terminal context.
func (c *Context) Cleanup() {
	c.broker.Abort()
	c.schemaCache.AbandonAll(c.id)
}

// NextDependentCtxID returns the owner id this context is waiting on, or 0
// if not currently WAITING.
func (c *Context) NextDependentCtxID() uint32 {
	if c.state != Waiting {
		return 0
	}
	if c.waitNamespace != "" {
		return c.schemaWaitOwner
	}
	return c.broker.NextCtxID()
}

// WaitDone re-checks the dependency this context is WAITING on. With the
// blocking policy (the default, spec §5) it sleeps until the dependency
// resolves; with SetNoBlock(true) it re-checks once and returns either way.
func (c *Context) WaitDone() {
	if c.state != Waiting {
		return
	}
	for {
		if c.waitNamespace != "" {
			if c.pollSchemaWait() {
				return
			}
		} else if c.pollBrokerWait() {
			return
		}
		if c.noBlock {
			return
		}
		if c.waitNamespace != "" {
			c.schemaCache.Wait()
		} else {
			c.keyCache.Wait()
		}
	}
}

func (c *Context) pollBrokerWait() bool {
	busy, _ := c.broker.CheckCacheAndWait(false)
	if busy {
		return false
	}
	c.recomputeFromBroker()
	return true
}

func (c *Context) pollSchemaWait() bool {
	entry, _, owner, ready := c.schemaCache.Lookup(c.waitNamespace, c.id)
	if !ready {
		c.schemaWaitOwner = owner
		return false
	}
	ae, ok := c.dispatch.(*automaticEncrypt)
	if !ok {
		c.fail(status.Errorf("internal: schema wait on non-encrypt context"))
		return true
	}
	ae.applySchema(c, entry)
	return true
}

// recomputeFromBroker maps the broker's aggregate readiness onto the next
// caller-observable state (spec §4.4 "state_from_key_broker").
func (c *Context) recomputeFromBroker() {
	switch c.broker.Readiness() {
	case keybroker.Ready:
		c.state = Ready
	case keybroker.NeedMongoKeys:
		c.state = NeedMongoKeys
	case keybroker.NeedKMS:
		c.state = NeedKMS
	case keybroker.Waiting:
		c.waitNamespace = ""
		c.state = Waiting
	}
}
