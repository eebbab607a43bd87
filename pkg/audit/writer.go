package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tarsy-oss/funnel/pkg/step"
)

// recordQueueSize bounds how many pending records a Writer buffers before it
// starts dropping each newly submitted record. The audit log is best-effort —
// a burst of steps must never block the driver's OODA loop.
const recordQueueSize = 256

// Record is one row destined for the audit log.
type Record struct {
	SessionID string
	StepID    string
	AgentID   string
	Tool      step.Tool
	Params    map[string]any
	Output    string
	Success   bool
	ErrorKind step.ErrorKind
}

// Writer asynchronously persists Records to the audit log. A nil *Writer is
// valid and silently discards every Record — used when audit.enabled is
// false, so callers never need a conditional at the call site.
type Writer struct {
	client        *Client
	queue         chan Record
	done          chan struct{}
	flushInterval time.Duration
}

// NewWriter starts a Writer backed by client. flushInterval controls how
// often the writer logs queue throughput (config.AuditConfig.FlushInterval);
// a non-positive value disables the periodic log. The caller must call
// Close to drain the queue and release the background goroutine.
func NewWriter(client *Client, flushInterval time.Duration) *Writer {
	w := &Writer{
		client:        client,
		queue:         make(chan Record, recordQueueSize),
		done:          make(chan struct{}),
		flushInterval: flushInterval,
	}
	go w.run()
	return w
}

// Record enqueues r for persistence. Never blocks the caller: if the queue
// is full, the record is dropped and logged, since an audit gap is
// preferable to stalling the driver that is mid-OODA-loop.
func (w *Writer) Record(r Record) {
	if w == nil {
		return
	}
	select {
	case w.queue <- r:
	default:
		slog.Warn("audit queue full, dropping record",
			"session_id", r.SessionID, "step_id", r.StepID)
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	close(w.queue)
	<-w.done
	return w.client.Close()
}

func (w *Writer) run() {
	defer close(w.done)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if w.flushInterval > 0 {
		ticker = time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var written, dropped int
	for {
		select {
		case r, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.persist(r); err != nil {
				dropped++
				slog.Warn("failed to persist audit record",
					"session_id", r.SessionID, "step_id", r.StepID, "error", err)
				continue
			}
			written++
		case <-tickC:
			slog.Info("audit writer throughput", "written", written, "dropped", dropped)
			written, dropped = 0, 0
		}
	}
}

func (w *Writer) persist(r Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := w.client.StepAuditRecord.Create().
		SetID(uuid.NewString()).
		SetSessionID(r.SessionID).
		SetStepID(r.StepID).
		SetAgentID(r.AgentID).
		SetTool(string(r.Tool)).
		SetParams(r.Params).
		SetOutput(r.Output).
		SetSuccess(r.Success).
		SetErrorKind(string(r.ErrorKind)).
		Save(ctx)
	return err
}
