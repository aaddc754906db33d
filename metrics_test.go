package spartan

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewPromMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPromMetrics(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = NewPromMetrics(reg)
	require.Error(t, err, "registering the same collector names twice must fail")
}

func TestPromMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPromMetrics(reg)
	require.NoError(t, err)

	ep := UpstreamEndpoint{IP: [4]byte{1, 2, 3, 4}, Port: 53}
	m.IncUpstreamSuccess(ep, 1500)
	m.IncUpstreamFailure(ep)
	m.AddIgnoredQuestions(3)
	m.IncNoUpstreamsAvailable()
	m.IncUpstreamsFailed()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
