package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"smra_exporter/internal/logger"
	"smra_exporter/internal/smra"

	"github.com/phuslu/log"
)

// Event is one fault event on the replay stream, one JSON object per line.
// An empty path marks a special mapping with no backing file (vdso,
// uprobe); those are fed with a nil handle and never recorded.
type Event struct {
	PID    int32  `json:"pid"`
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
	TimeNs int64  `json:"time_ns,omitempty"`
}

// Replayer reads newline-delimited JSON fault events and feeds them to a
// recording session, standing in for the in-kernel fault hook. Handles are
// interned through the table so records for the same file share one
// reference-counted handle.
type Replayer struct {
	session *smra.Session
	table   *HandleTable
	log     log.Logger
}

// NewReplayer wires a replayer to the session and handle table.
func NewReplayer(session *smra.Session, table *HandleTable) *Replayer {
	return &Replayer{
		session: session,
		table:   table,
		log:     logger.New("replay_feed"),
	}
}

// Run consumes events from rd until EOF, a malformed line, or context
// cancellation. Every event is handed to the session synchronously, the
// session filters disabled/untracked faults itself. Returns the number of
// events fed.
func (r *Replayer) Run(ctx context.Context, rd io.Reader) (int, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fed := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			r.log.Info().Int("events", fed).Msg("Replay cancelled")
			return fed, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fed, fmt.Errorf("feed: bad event on line %d: %w", fed+1, err)
		}

		var h smra.Handle
		if ev.Path != "" {
			h = r.table.Get(ev.Path)
		}

		now := time.Now()
		if ev.TimeNs != 0 {
			now = time.Unix(0, ev.TimeNs)
		}
		r.session.OnFault(h, ev.Offset, now, ev.PID)
		fed++
	}
	if err := scanner.Err(); err != nil {
		return fed, fmt.Errorf("feed: reading event stream: %w", err)
	}

	r.log.Info().Int("events", fed).Msg("Replay finished")
	return fed, nil
}
