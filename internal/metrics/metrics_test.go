package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// Gauges must not carry the _total suffix; counters must.
func TestCollectorsPassLint(t *testing.T) {
	req := require.New(t)

	collectors := []prometheus.Collector{
		connectionsTotal,
		connectionsActive,
		connectionsFailed,
		messagesReceived,
		messagesSent,
		messagesPersisted,
		relayState,
		relayPublished,
		relayPublishFailures,
		relayReceived,
		relayDecodeFailures,
		deliveries,
		slowClientsDisconnected,
		rateLimitedFrames,
		workerQueueDepth,
		workerTasksDropped,
	}

	for _, c := range collectors {
		problems, err := testutil.CollectAndLint(c)
		req.NoError(err)
		req.Empty(problems)
	}
}
