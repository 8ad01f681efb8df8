// Package keybroker implements the per-context key-acquisition coordinator
// described in spec §4.2: it accumulates the set of data-key identifiers a
// context needs, deduplicates fetches against identical identifiers
// requested by other concurrent contexts (via a shared, engine-wide cache),
// and exposes decrypted key material once available.
package keybroker

import (
	"encoding/hex"
	"sync"

	"github.com/mongocrypt-go/core/internal/cache"
	"github.com/mongocrypt-go/core/internal/status"
)

// EntryStatus is the per-entry lifecycle named in spec §4.2.
type EntryStatus int

const (
	// StatusAdded is the initial state: identifier known, nothing fetched.
	StatusAdded EntryStatus = iota
	// StatusRequested means a mongo key-document query naming this entry
	// has been emitted and is awaiting a reply.
	StatusRequested
	// StatusKMSPending means a key document arrived carrying wrapped key
	// material; a KMS unwrap request is outstanding.
	StatusKMSPending
	// StatusDecrypted means plaintext key material is available.
	StatusDecrypted
	// StatusUnresolved means the mongo key query completed without
	// producing a document for this identifier. Distinct from StatusError:
	// an unresolved entry is not a collaborator failure, just an absent
	// key, so it does not by itself fail the broker (partial decryption,
	// spec §4.4).
	StatusUnresolved
	// StatusError means a collaborator reported a failure resolving this
	// entry specifically.
	StatusError
)

// CacheValue is what the engine-wide shared key cache stores once an entry
// reaches StatusDecrypted: plaintext material plus every identifier known
// to name it, so a dependent context waiting under any of those names can
// pick up the result.
type CacheValue struct {
	UUID     [16]byte
	AltNames []string
	Material []byte
}

// SharedCache is the engine-wide cache type key brokers dedupe against.
type SharedCache = cache.Cache[CacheValue]

// NewSharedCache creates a cache suitable for passing to NewBroker across
// every context an Engine mints.
func NewSharedCache() *SharedCache {
	return cache.New[CacheValue]()
}

type localEntry struct {
	uuid       *[16]byte
	altNames   map[string]struct{}
	status     EntryStatus
	material   []byte
	wrapped    []byte // wrapped key material, pending KMS unwrap
	owner      uint32 // cache owner for this entry's shared cache key; 0 once this ctx fully owns locally-only state
	statusErr  *status.Status
}

func (e *localEntry) cacheKeys() []string {
	keys := make([]string, 0, 1+len(e.altNames))
	if e.uuid != nil {
		keys = append(keys, "u:"+hex.EncodeToString(e.uuid[:]))
	}
	for n := range e.altNames {
		keys = append(keys, "n:"+n)
	}
	return keys
}

// Readiness is the broker-wide aggregate state consumed by the context
// state machine's state_from_key_broker computation (spec §4.4).
type Readiness int

const (
	// Ready means every entry is decrypted (or permanently unresolved).
	Ready Readiness = iota
	// NeedMongoKeys means this context owns at least one entry still
	// awaiting a key-document fetch.
	NeedMongoKeys
	// NeedKMS means this context owns at least one entry awaiting a KMS
	// unwrap.
	NeedKMS
	// Waiting means at least one entry is owned by another context.
	Waiting
)

// Broker is the per-context key-broker instance. It is owned exclusively by
// the context that created it; only the shared cache it references is
// contended across contexts.
type Broker struct {
	mu         sync.Mutex
	ctxID      uint32
	maxEntries int
	shared     *SharedCache
	byKey      map[string]*localEntry // canonical cache key -> entry (may alias)
	entries    []*localEntry          // unique entries, insertion order
	err        *status.Status
}

// NewBroker creates a broker for the context identified by ctxID, sharing
// dedup state with every other broker created against the same shared
// cache. maxEntries caps the number of distinct identifiers this broker may
// accumulate (spec: add_id/add_name "fails with too-many if a per-broker
// cap is exceeded").
func NewBroker(ctxID uint32, shared *SharedCache, maxEntries int) *Broker {
	return &Broker{
		ctxID:      ctxID,
		maxEntries: maxEntries,
		shared:     shared,
		byKey:      make(map[string]*localEntry),
	}
}

// AddID inserts a UUID-identified entry if not already present.
func (b *Broker) AddID(uuid [16]byte) *status.Status {
	return b.add(ByUUID(uuid))
}

// AddName inserts an alt-name-identified entry if not already present.
func (b *Broker) AddName(name string) *status.Status {
	return b.add(ByAltName(name))
}

func (b *Broker) add(id Identifier) *status.Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := id.cacheKey()
	if _, ok := b.byKey[key]; ok {
		return nil // already present; not an error (spec §4.2 dedup rule)
	}
	if len(b.entries) >= b.maxEntries {
		st := status.New(status.KeyUnavailable, "too many key identifiers requested by one context (max %d)", b.maxEntries)
		b.err = st
		return st
	}

	e := &localEntry{status: StatusAdded, altNames: map[string]struct{}{}}
	if uuid, ok := id.UUID(); ok {
		u := uuid
		e.uuid = &u
	} else {
		name, _ := id.AltName()
		e.altNames[name] = struct{}{}
	}
	b.byKey[key] = e
	b.entries = append(b.entries, e)
	return nil
}

// CheckCacheAndWait consults the shared cache for every entry still in
// StatusAdded: a Done hit is copied in directly (StatusDecrypted); a
// Pending hit owned by another context marks this broker as waiting on
// that owner; otherwise this broker claims ownership and must perform the
// mongo-key fetch itself. When block is true and a dependency is pending
// elsewhere, the call sleeps on the shared cache's condition and re-checks;
// when false, it returns busy=true immediately without sleeping (spec
// §4.2, §5 "Blocking policy").
func (b *Broker) CheckCacheAndWait(block bool) (busy bool, st *status.Status) {
	for {
		busy = b.checkCacheOnce()
		if !busy || !block {
			return busy, b.Status()
		}
		b.shared.Wait()
	}
}

func (b *Broker) checkCacheOnce() (busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.status != StatusAdded {
			continue
		}
		e.owner = 0
		for _, key := range e.cacheKeys() {
			val, state, owner, found := b.shared.Peek(key)
			if found && state == cache.Done {
				b.applyCacheValue(e, val)
				break
			}
			if found && state == cache.Pending {
				if owner == b.ctxID {
					continue
				}
				e.owner = owner
				busy = true
				continue
			}
			// Not found: claim ownership by creating the pending entry.
			_, state, owner = b.shared.GetOrCreate(key, b.ctxID)
			if state == cache.Pending && owner != b.ctxID {
				e.owner = owner
				busy = true
			}
		}
	}
	return busy
}

func (b *Broker) applyCacheValue(e *localEntry, val CacheValue) {
	e.uuid = &val.UUID
	for _, n := range val.AltNames {
		e.altNames[n] = struct{}{}
	}
	e.material = val.Material
	e.status = StatusDecrypted
	e.owner = 0
}

// DecryptedKeyByID returns the decrypted material for uuid if this broker
// has it, a best-effort lookup that never fails — a missing key is not an
// error to the caller (spec §4.2).
func (b *Broker) DecryptedKeyByID(uuid [16]byte) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.uuid != nil && *e.uuid == uuid && e.status == StatusDecrypted {
			return e.material, true
		}
	}
	return nil, false
}

// MaterialFor returns the decrypted material for an entry identified by
// either its UUID or its alt-name, for callers (finalize steps) that only
// have the original Identifier a marking or option carried, not a
// resolved UUID.
func (b *Broker) MaterialFor(id Identifier) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if uuid, ok := id.UUID(); ok {
		for _, e := range b.entries {
			if e.uuid != nil && *e.uuid == uuid && e.status == StatusDecrypted {
				return e.material, true
			}
		}
		return nil, false
	}
	name, _ := id.AltName()
	for _, e := range b.entries {
		if _, ok := e.altNames[name]; ok && e.status == StatusDecrypted {
			return e.material, true
		}
	}
	return nil, false
}

// ResolvedUUID returns the canonical UUID for an entry identified by either
// its UUID or its alt-name, once a key document has resolved it. Used by
// encrypt finalizers to embed the canonical key_uuid in a ciphertext blob
// even when the marking only carried an alt-name (spec §3, ciphertext blob
// always carries key_uuid, never an alt-name).
func (b *Broker) ResolvedUUID(id Identifier) (uuid [16]byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u, has := id.UUID(); has {
		return u, true
	}
	name, _ := id.AltName()
	for _, e := range b.entries {
		if _, has := e.altNames[name]; has && e.uuid != nil {
			return *e.uuid, true
		}
	}
	return uuid, false
}

// NextCtxID returns the owner id of the next entry this broker is waiting
// on, or 0 if none. Each call consumes that entry's recorded owner so a
// caller iterating "run this ctx, then check again" makes progress instead
// of looping on the same id forever.
func (b *Broker) NextCtxID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.status == StatusAdded && e.owner != 0 && e.owner != b.ctxID {
			id := e.owner
			e.owner = 0
			return id
		}
	}
	return 0
}

// Status reports the first error recorded against this broker, or a nil
// (ok) status.
func (b *Broker) Status() *status.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Readiness computes the broker-wide aggregate used to drive the context
// state machine.
func (b *Broker) Readiness() Readiness {
	b.mu.Lock()
	defer b.mu.Unlock()

	sawWaiting := false
	sawNeedKMS := false
	sawNeedKeys := false

	for _, e := range b.entries {
		switch e.status {
		case StatusDecrypted, StatusUnresolved, StatusError:
			continue
		case StatusKMSPending:
			sawNeedKMS = true
		case StatusRequested, StatusAdded:
			if e.owner != 0 && e.owner != b.ctxID {
				sawWaiting = true
			} else {
				sawNeedKeys = true
			}
		}
	}

	switch {
	case sawWaiting:
		return Waiting
	case sawNeedKMS:
		return NeedKMS
	case sawNeedKeys:
		return NeedMongoKeys
	default:
		return Ready
	}
}

// PendingMongoKeyIdentifiers returns every entry this context must still
// fetch a key document for, transitioning them to StatusRequested. Used by
// the NEED_MONGO_KEYS op step.
func (b *Broker) PendingMongoKeyIdentifiers() []Identifier {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Identifier
	for _, e := range b.entries {
		if e.status != StatusAdded {
			continue
		}
		e.status = StatusRequested
		if e.uuid != nil {
			out = append(out, ByUUID(*e.uuid))
		}
		for n := range e.altNames {
			out = append(out, ByAltName(n))
		}
	}
	return out
}

// KeyDocument is the parsed shape of a document from the key vault
// collection: an identifier, every alt-name it is also known by, and its
// KMS-wrapped key material.
type KeyDocument struct {
	UUID     [16]byte
	AltNames []string
	Wrapped  []byte
}

// ApplyKeyDocument matches an incoming key document against a Requested
// entry (by UUID or by any of its alt-names) and advances it to
// StatusKMSPending, merging in every identifier the document names so a
// UUID and an alt-name that resolve to the same key are treated as one
// entry from here on (spec §4.2 dedup rule).
func (b *Broker) ApplyKeyDocument(doc KeyDocument) *status.Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	var match *localEntry
	for _, e := range b.entries {
		if e.status != StatusRequested {
			continue
		}
		if e.uuid != nil && *e.uuid == doc.UUID {
			match = e
			break
		}
		for _, n := range doc.AltNames {
			if _, ok := e.altNames[n]; ok {
				match = e
				break
			}
		}
		if match != nil {
			break
		}
	}
	if match == nil {
		return nil // document for an identifier nobody asked about; ignore
	}

	u := doc.UUID
	match.uuid = &u
	for _, n := range doc.AltNames {
		match.altNames[n] = struct{}{}
	}
	for _, k := range match.cacheKeys() {
		b.byKey[k] = match
	}
	match.wrapped = doc.Wrapped
	match.status = StatusKMSPending
	return nil
}

// DoneMongoKeys finalizes the NEED_MONGO_KEYS round: any entry still
// Requested (no matching document arrived) becomes Unresolved rather than
// Error, preserving partial-decryption semantics for auto-decrypt while
// still letting explicit-decrypt treat "still unresolved after the round"
// as a hard failure at finalize time.
func (b *Broker) DoneMongoKeys() {
	b.mu.Lock()
	var keys []string
	for _, e := range b.entries {
		if e.status == StatusRequested {
			e.status = StatusUnresolved
			keys = append(keys, e.cacheKeys()...)
		}
	}
	b.mu.Unlock()

	for _, key := range keys {
		b.shared.Abandon(key, b.ctxID)
	}
}

// PendingKMSRequests returns the wrapped key material for every entry
// awaiting a KMS unwrap, keyed by UUID, for the NEED_KMS op step. The
// wrapped bytes and provider metadata are opaque to this layer (spec §6,
// "KMS collaborator: opaque request/reply byte strings").
func (b *Broker) PendingKMSRequests() map[[16]byte][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[[16]byte][]byte)
	for _, e := range b.entries {
		if e.status == StatusKMSPending && e.uuid != nil {
			out[*e.uuid] = e.wrapped
		}
	}
	return out
}

// ApplyKMSReply supplies the plaintext key material unwrapped for uuid,
// advances the entry to StatusDecrypted, and publishes it to the shared
// cache under every identifier known to name it so dependent contexts
// waiting on any of those names observe readiness (spec §4.2
// "Deduplication rule").
func (b *Broker) ApplyKMSReply(uuid [16]byte, plaintext []byte) *status.Status {
	b.mu.Lock()
	var match *localEntry
	for _, e := range b.entries {
		if e.uuid != nil && *e.uuid == uuid {
			match = e
			break
		}
	}
	if match == nil {
		b.mu.Unlock()
		return nil
	}
	match.material = plaintext
	match.status = StatusDecrypted
	val := CacheValue{UUID: uuid, Material: plaintext}
	for n := range match.altNames {
		val.AltNames = append(val.AltNames, n)
	}
	keys := match.cacheKeys()
	b.mu.Unlock()

	for _, key := range keys {
		b.shared.Publish(key, val)
	}
	return nil
}

// Abort releases every shared-cache entry this broker owns as Pending,
// waking dependents so one of them can become the new owner (spec §5
// "Cancellation").
func (b *Broker) Abort() {
	b.shared.RemoveByOwner(b.ctxID)
}

// AllResolved reports whether every entry is decrypted, permanently
// unresolved or errored, and whether any entry is unresolved or errored.
func (b *Broker) AllResolved() (resolved bool, anyUnresolved bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resolved = true
	for _, e := range b.entries {
		switch e.status {
		case StatusDecrypted:
		case StatusUnresolved, StatusError:
			anyUnresolved = true
		default:
			resolved = false
		}
	}
	return resolved, anyUnresolved
}
