package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverMetricsRegisterAndCount(t *testing.T) {
	m := NewReceiver()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	s := m.Session("127.0.0.1:1000/abcd")
	s.AddReceived(3)
	s.AddLate(1)
	s.AddReconstructed(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PacketsReceived.WithLabelValues("127.0.0.1:1000/abcd")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsLate.WithLabelValues("127.0.0.1:1000/abcd")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsReconstructed.WithLabelValues("127.0.0.1:1000/abcd")))
}

func TestReceiverMetricsSessionGauge(t *testing.T) {
	m := NewReceiver()

	m.SessionAttached()
	m.SessionAttached()
	m.SessionDetached()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsLive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Receiver

	assert.NotPanics(t, func() {
		m.SessionAttached()
		m.SessionDetached()
		s := m.Session("x")
		s.AddReceived(1)
		s.AddDropped(1)
		s.AddDecodeErrors(1)
		s.AddIncompleteFrames(1)
	})
}

func TestDuplicateRegistration(t *testing.T) {
	m := NewReceiver()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}
