package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStateTransition_Cardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordStateTransition(context.Background(), "automatic-encrypt", "need-mongo-markings", "need-mongo-keys")
	m.RecordStateTransition(context.Background(), "automatic-encrypt", "need-mongo-markings", "need-mongo-keys")
	m.RecordStateTransition(context.Background(), "automatic-decrypt", "need-mongo-keys", "ready")

	count := testutil.ToFloat64(m.stateTransitions.WithLabelValues("automatic-encrypt", "need-mongo-markings", "need-mongo-keys"))
	assert.Equal(t, 2.0, count)

	count = testutil.ToFloat64(m.stateTransitions.WithLabelValues("automatic-decrypt", "need-mongo-keys", "ready"))
	assert.Equal(t, 1.0, count)
}

func TestRecordContextFinalize_PerKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordContextInit(context.Background(), "explicit-encrypt")
	m.RecordContextFinalize("explicit-encrypt", time.Millisecond, true)
	m.RecordContextInit(context.Background(), "explicit-encrypt")
	m.RecordContextFinalize("explicit-encrypt", time.Millisecond, false)

	total := testutil.ToFloat64(m.contextsTotal.WithLabelValues("explicit-encrypt"))
	assert.Equal(t, 2.0, total)

	errCount := testutil.ToFloat64(m.contextErrors.WithLabelValues("explicit-encrypt", "unknown"))
	assert.Equal(t, 1.0, errCount)
}

func TestRecordKeyBrokerDedupe_ByRole(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordKeyBrokerDedupe("owner")
	m.RecordKeyBrokerDedupe("dependent")
	m.RecordKeyBrokerDedupe("dependent")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.keyBrokerDedupes.WithLabelValues("owner")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.keyBrokerDedupes.WithLabelValues("dependent")))
}
