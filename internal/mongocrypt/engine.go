// Package mongocrypt implements the top-level Engine named in SPEC_FULL's
// module layout: it owns the two engine-wide caches described in spec §3
// ("Ownership and lifecycle") and §4.2/§4.3, mints per-request Context
// values against them, and wires the AEAD Crypto collaborator (spec §6)
// alongside a KMSProvider selected by config.Config.KMSProvider so example
// flows and integration tests can drive a context end to end without a
// real database or KMS.
package mongocrypt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mongocrypt-go/core/internal/audit"
	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/cryptctx"
	"github.com/mongocrypt-go/core/internal/debug"
	"github.com/mongocrypt-go/core/internal/keybroker"
	"github.com/mongocrypt-go/core/internal/metrics"
	"github.com/mongocrypt-go/core/internal/schemacache"
	"github.com/mongocrypt-go/core/internal/status"
)

// Engine is the entry point a caller constructs once per process (or per
// logical tenant) and shares across every context it mints, so the key and
// schema caches actually dedupe fetches the way spec §4.2/§4.3 describe.
//
// Engine itself is not "the core" (spec §1 scopes I/O out of the core
// entirely): it is the example/integration wiring SPEC_FULL's domain stack
// calls for, a thin layer a real caller would write that happens to bundle
// a KMSProvider so tests and cmd/cryptdctl can drive NEED_KMS to completion
// without standing up a real KMIP server or AWS account.
type Engine struct {
	cfg *config.Config

	keyCache    *keybroker.SharedCache
	schemaCache *schemacache.Cache
	schemaMap   *config.SchemaMap
	crypto      cryptctx.Crypto
	kms         KMSProvider

	log     *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger

	nextID uint32

	mu       sync.Mutex
	contexts map[uint32]*cryptctx.Context
}

// New constructs an Engine from cfg. The data-plane Crypto collaborator
// (spec §6, "Crypto primitive") is always the AEAD stand-in in
// datacrypto.go — key_material is already-unwrapped DEK bytes by the time
// the core calls it, so it has no notion of which KMS provider sourced the
// key. cfg.KMSProvider instead selects the KMSProvider this Engine uses to
// drive NEED_KMS on the caller's behalf (kms_kmip.go / kms_awskms.go /
// kms_local.go).
func New(cfg *config.Config, log *logrus.Logger) (*Engine, *status.Status) {
	if cfg == nil {
		cfg = config.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	crypto := NewAEADCrypto()
	logHardwareStatus(log)

	kms, st := newKMSProvider(cfg)
	if st != nil {
		return nil, st
	}

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		return nil, status.Wrap(status.ClientMisuse, err, "failed to construct audit logger")
	}

	e := &Engine{
		cfg:         cfg,
		keyCache:    keybroker.NewSharedCache(),
		schemaCache: schemacache.New(),
		schemaMap:   config.NewSchemaMap(cfg),
		crypto:      crypto,
		kms:         kms,
		log:         log,
		metrics:     metrics.NewMetrics(),
		audit:       auditLogger,
		contexts:    make(map[uint32]*cryptctx.Context),
	}
	e.metrics.SetHardwareAccelerationStatus("aes", HasAESHardwareSupport())
	return e, nil
}

func newKMSProvider(cfg *config.Config) (KMSProvider, *status.Status) {
	switch cfg.KMSProvider {
	case "", "local":
		return NewLocalKMSProvider(cfg.Local)
	case "kmip":
		return NewKMIPProvider(cfg.KMIP)
	case "aws":
		return NewAWSKMSProvider(cfg.AWS)
	default:
		return nil, status.Errorf("unknown kms_provider %q", cfg.KMSProvider)
	}
}

func (e *Engine) allocateID() uint32 {
	return atomic.AddUint32(&e.nextID, 1)
}

// resolveLocalSchema layers an engine-wide local schema (matched by namespace
// glob, SPEC_FULL's schemamap.go) underneath whatever the caller passed
// explicitly, so a per-call LocalSchema option still wins.
func (e *Engine) resolveLocalSchema(namespace string, opts cryptctx.Options) cryptctx.Options {
	if opts.LocalSchema != nil {
		return opts
	}
	if schema, ok := e.schemaMap.Lookup(namespace); ok {
		opts.LocalSchema = schema
	}
	return opts
}

func (e *Engine) register(c *cryptctx.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contexts[c.ID()] = c
}

// Context looks up a previously minted context by id, used by a caller
// driving NextDependentCtxID's returned owner.
func (e *Engine) Context(id uint32) (*cryptctx.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[id]
	return c, ok
}

func (e *Engine) fields(c *cryptctx.Context) logrus.Fields {
	return logrus.Fields{"ctx_id": c.ID(), "kind": c.Kind(), "state": c.State()}
}

func (e *Engine) logInit(c *cryptctx.Context, st *status.Status) {
	if debug.Enabled() {
		e.log.WithFields(e.fields(c)).Debug("context initialized")
	}
	e.audit.LogContextInit(c.ID(), c.Kind().String(), c.State().String(), st)
	if st != nil {
		e.log.WithFields(e.fields(c)).WithError(st).Warn("context init failed")
	}
}

// NewAutomaticEncrypt mints an automatic-encrypt context (spec §4.4).
func (e *Engine) NewAutomaticEncrypt(namespace string, command []byte, opts cryptctx.Options) (*cryptctx.Context, *status.Status) {
	id := e.allocateID()
	opts = e.resolveLocalSchema(namespace, opts)
	c, st := cryptctx.NewAutomaticEncrypt(id, namespace, command, opts, e.keyCache, e.schemaCache, e.crypto, e.cfg.MaxKeyBrokerEntries)
	c.SetNoBlock(e.cfg.CacheNoBlock)
	e.register(c)
	e.logInit(c, st)
	return c, st
}

// NewExplicitEncrypt mints an explicit-encrypt context (spec §4.4).
func (e *Engine) NewExplicitEncrypt(wrapped []byte, opts cryptctx.Options) (*cryptctx.Context, *status.Status) {
	id := e.allocateID()
	c, st := cryptctx.NewExplicitEncrypt(id, wrapped, opts, e.keyCache, e.schemaCache, e.crypto, e.cfg.MaxKeyBrokerEntries)
	c.SetNoBlock(e.cfg.CacheNoBlock)
	e.register(c)
	e.logInit(c, st)
	return c, st
}

// NewAutomaticDecrypt mints an automatic-decrypt context (spec §4.4).
func (e *Engine) NewAutomaticDecrypt(document []byte) (*cryptctx.Context, *status.Status) {
	id := e.allocateID()
	c, st := cryptctx.NewAutomaticDecrypt(id, document, e.keyCache, e.schemaCache, e.crypto, e.cfg.MaxKeyBrokerEntries)
	c.SetNoBlock(e.cfg.CacheNoBlock)
	e.register(c)
	e.logInit(c, st)
	return c, st
}

// NewExplicitDecrypt mints an explicit-decrypt context (spec §4.4).
func (e *Engine) NewExplicitDecrypt(wrapped []byte) (*cryptctx.Context, *status.Status) {
	id := e.allocateID()
	c, st := cryptctx.NewExplicitDecrypt(id, wrapped, e.keyCache, e.schemaCache, e.crypto, e.cfg.MaxKeyBrokerEntries)
	c.SetNoBlock(e.cfg.CacheNoBlock)
	e.register(c)
	e.logInit(c, st)
	return c, st
}

// Finalize wraps Context.Finalize with audit logging and metrics, the
// typical call a caller makes once a context reaches READY.
func (e *Engine) Finalize(c *cryptctx.Context) ([]byte, *status.Status) {
	start := time.Now()
	out, st := c.Finalize()
	dur := time.Since(start)

	e.metrics.RecordContextFinalize(c.Kind().String(), dur, st == nil)
	e.audit.LogContextFinalize(c.ID(), c.Kind().String(), st == nil, st, dur)
	if debug.Enabled() {
		e.log.WithFields(e.fields(c)).WithField("duration_ms", dur.Milliseconds()).Debug("context finalized")
	}

	e.mu.Lock()
	delete(e.contexts, c.ID())
	e.mu.Unlock()

	return out, st
}

// Cleanup releases c's pending cache ownership and forgets it, the
// explicit-abort counterpart to Finalize (spec §5 "Cancellation").
func (e *Engine) Cleanup(c *cryptctx.Context) {
	c.Cleanup()
	e.mu.Lock()
	delete(e.contexts, c.ID())
	e.mu.Unlock()
}

// Metrics exposes the engine's Prometheus instrumentation for wiring into
// an HTTP /metrics handler or a push gateway.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Audit exposes the engine's audit trail for inspection in tests.
func (e *Engine) Audit() audit.Logger { return e.audit }
