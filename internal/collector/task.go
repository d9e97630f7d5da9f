package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/transport"
)

var (
	// ErrSubmission marks summaries of streams the transport refused to start.
	ErrSubmission = errors.New("stream submission failed")

	errAlreadyStarted = errors.New("stream task already started")
)

// TaskState is the lifecycle state of a StreamTask.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// Terminal reports whether s is Succeeded or Failed.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// StreamTask tracks one in-flight stream for an (account, query) pair. It is
// the stream's Observer: rows are counted and passed to the sink on the
// transport's delivery path, and the first terminal event resolves the task.
//
// The summary is written once inside resolve and published by closing done,
// so readers that wait on done need no further locking.
type StreamTask struct {
	account model.AccountID
	query   model.QueryText
	sink    RowSink
	metrics *Metrics
	logger  log.Logger

	submitted atomic.Bool
	state     atomic.Int32
	rows      atomic.Int64
	startedAt atomic.Time

	once    sync.Once
	done    chan struct{}
	summary model.ResultSummary
}

// NewStreamTask returns a pending task. sink may be nil, in which case rows are
// only counted.
func NewStreamTask(account model.AccountID, query model.QueryText, sink RowSink, metrics *Metrics, logger log.Logger) *StreamTask {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &StreamTask{
		account: account,
		query:   query,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start submits the stream. It does not wait for rows. A submission error
// resolves the task as failed and is also returned; failures after submission
// only show up in the summary.
func (t *StreamTask) Start(ctx context.Context, tr transport.Transport) error {
	if !t.submitted.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}
	t.startedAt.Store(time.Now())
	t.metrics.streamsStarted.Inc()
	t.metrics.streamsInFlight.Inc()

	err := ctx.Err()
	if err == nil {
		err = tr.SearchStream(ctx, transport.SearchRequest{
			AccountID: string(t.account),
			Query:     string(t.query),
		}, t)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubmission, err)
		t.resolve(err)
		return err
	}

	// The stream may already be terminal if it finished before SearchStream
	// returned; the CAS leaves that state alone.
	t.state.CompareAndSwap(int32(TaskPending), int32(TaskRunning))
	return nil
}

// OnStart implements transport.Observer.
func (t *StreamTask) OnStart() {
	t.state.CompareAndSwap(int32(TaskPending), int32(TaskRunning))
}

// OnRow implements transport.Observer.
func (t *StreamTask) OnRow(row model.Row) {
	if t.State().Terminal() {
		return
	}
	t.rows.Inc()
	t.metrics.rowsReceived.Inc()
	if t.sink != nil {
		t.sink.Consume(row)
	}
}

// OnError implements transport.Observer.
func (t *StreamTask) OnError(err error) {
	if err == nil {
		err = errors.New("stream failed without a cause")
	}
	t.resolve(err)
}

// OnComplete implements transport.Observer.
func (t *StreamTask) OnComplete() {
	t.resolve(nil)
}

// resolve sets the terminal outcome. Only the first call has any effect.
func (t *StreamTask) resolve(err error) bool {
	resolved := false
	t.once.Do(func() {
		resolved = true
		t.summary = model.NewSummary(t.account, t.query, t.rows.Load(), err, t.startedAt.Load(), time.Now())
		if err != nil {
			t.state.Store(int32(TaskFailed))
			t.metrics.streamsFailed.WithLabelValues(failureReason(err)).Inc()
		} else {
			t.state.Store(int32(TaskSucceeded))
		}
		t.metrics.streamsInFlight.Dec()
		close(t.done)
	})
	if !resolved {
		t.metrics.duplicateTerminals.Inc()
		level.Debug(t.logger).Log("msg", "ignoring terminal event for resolved stream", "account", t.account, "err", err)
	}
	return resolved
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSubmission):
		return reasonSubmission
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return reasonCancelled
	default:
		return reasonStream
	}
}

// Await blocks until the task is terminal and returns its summary. Repeated
// calls return the same summary. If ctx ends first, Await returns a failed
// summary carrying the cancellation cause together with ctx's error; the task
// itself is left unresolved.
func (t *StreamTask) Await(ctx context.Context) (model.ResultSummary, error) {
	select {
	case <-t.done:
		return t.summary, nil
	default:
	}
	select {
	case <-t.done:
		return t.summary, nil
	case <-ctx.Done():
		cause := fmt.Errorf("awaiting account %s: %w", t.account, ctx.Err())
		return model.NewSummary(t.account, t.query, t.rows.Load(), cause, t.startedAt.Load(), time.Now()), ctx.Err()
	}
}

// Done is closed once the task is terminal.
func (t *StreamTask) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *StreamTask) State() TaskState { return TaskState(t.state.Load()) }

// Rows returns the number of rows received so far.
func (t *StreamTask) Rows() int64 { return t.rows.Load() }

// Account returns the task's account.
func (t *StreamTask) Account() model.AccountID { return t.account }

// Sink returns the task's sink, nil when rows are only counted.
func (t *StreamTask) Sink() RowSink { return t.sink }

// Query returns the task's query.
func (t *StreamTask) Query() model.QueryText { return t.query }
