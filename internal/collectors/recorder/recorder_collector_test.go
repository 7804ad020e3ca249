package recorder

import (
	"strings"
	"testing"
	"time"

	"smra_exporter/internal/feed"
	"smra_exporter/internal/smra"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorExportsSessionState(t *testing.T) {
	table := feed.NewHandleTable()
	session := smra.NewSession(feed.NewPathResolver(), smra.Options{})
	require.NoError(t, session.Setup([]int32{42}, 2))
	session.Start()

	h := table.Get("lib.so")
	for i := 0; i < 3; i++ {
		session.OnFault(h, uint64(i), time.Now(), 42)
	}
	session.OnFault(h, 0, time.Now(), 99)

	c := NewCollector(session)

	expected := `
# HELP smra_buffer_capacity_records Record capacity of a target's buffer.
# TYPE smra_buffer_capacity_records gauge
smra_buffer_capacity_records{pid="42",slot="0"} 2
# HELP smra_buffer_used_records Records currently held in a target's buffer.
# TYPE smra_buffer_used_records gauge
smra_buffer_used_records{pid="42",slot="0"} 2
# HELP smra_faults_dropped_total Fault events dropped because the target buffer was full.
# TYPE smra_faults_dropped_total counter
smra_faults_dropped_total 1
# HELP smra_faults_recorded_total Fault events appended to a target buffer.
# TYPE smra_faults_recorded_total counter
smra_faults_recorded_total 2
# HELP smra_faults_untracked_total Fault events for processes with no registered target.
# TYPE smra_faults_untracked_total counter
smra_faults_untracked_total 1
# HELP smra_recording_enabled Whether the recorder currently accepts fault events.
# TYPE smra_recording_enabled gauge
smra_recording_enabled 1
# HELP smra_targets Registered recording targets.
# TYPE smra_targets gauge
smra_targets 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"smra_buffer_capacity_records",
		"smra_buffer_used_records",
		"smra_faults_dropped_total",
		"smra_faults_recorded_total",
		"smra_faults_untracked_total",
		"smra_recording_enabled",
		"smra_targets",
	))
}
