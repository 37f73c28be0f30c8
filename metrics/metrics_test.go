package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerOutcomesCount(t *testing.T) {
	before := testutil.ToFloat64(TimerOutcomes.WithLabelValues("follow-up-reminder", "completed"))
	TimerOutcomes.WithLabelValues("follow-up-reminder", "completed").Inc()
	after := testutil.ToFloat64(TimerOutcomes.WithLabelValues("follow-up-reminder", "completed"))

	assert.Equal(t, before+1, after)
}

func TestWritePrometheus(t *testing.T) {
	TimersClaimed.Add(3)
	NotificationsPublished.WithLabelValues("documents_ready").Inc()

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))

	out := buf.String()
	assert.Contains(t, out, "jobpulse_timers_claimed_total")
	assert.Contains(t, out, `jobpulse_notifications_published_total{type="documents_ready"}`)
}
