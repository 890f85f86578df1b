package imgcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	var m BasicMetricsCollector

	m.RecordRequest("memory", time.Millisecond, nil)
	m.RecordRequest("disk", 3*time.Millisecond, nil)
	m.RecordRequest("network", 8*time.Millisecond, nil)
	m.RecordRequest("network", 8*time.Millisecond, errors.New("refused"))
	m.RecordFetch(2048, 5*time.Millisecond, nil)
	m.RecordFetch(0, time.Millisecond, errors.New("refused"))
	m.RecordDecode(4, 2*time.Millisecond, nil)
	m.RecordEviction("memory")
	m.RecordEviction("disk")
	m.RecordEviction("disk")
	m.RecordCoalesced()

	st := m.GetStats()
	assert.Equal(t, int64(4), st.RequestCount)
	assert.Equal(t, int64(1), st.RequestErrors)
	assert.Equal(t, int64(5*time.Millisecond), st.RequestAvgNanos)
	assert.Equal(t, int64(1), st.MemoryHits)
	assert.Equal(t, int64(1), st.DiskHits)
	assert.Equal(t, int64(1), st.NetworkLoads)
	assert.Equal(t, int64(2), st.FetchCount)
	assert.Equal(t, int64(1), st.FetchErrors)
	assert.Equal(t, int64(2048), st.FetchBytes)
	assert.Equal(t, int64(1), st.DecodeCount)
	assert.Equal(t, int64(1), st.MemoryEvictions)
	assert.Equal(t, int64(2), st.DiskEvictions)
	assert.Equal(t, int64(1), st.Coalesced)
	assert.InDelta(t, 2.0/3.0, st.HitRatio(), 1e-9)
}

func TestBasicMetricsStats_HitRatioEmpty(t *testing.T) {
	assert.Zero(t, BasicMetricsStats{}.HitRatio())
}

func TestNoopMetricsCollector(t *testing.T) {
	var m MetricsCollector = NoopMetricsCollector{}
	assert.NotPanics(t, func() {
		m.RecordRequest("memory", 0, nil)
		m.RecordFetch(1, 0, nil)
		m.RecordDecode(1, 0, nil)
		m.RecordEviction("disk")
		m.RecordCoalesced()
	})
}
