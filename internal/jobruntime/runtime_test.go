package jobruntime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/errkind"
	"github.com/BryanOwens012/dogwalker/internal/pipeline"
	"github.com/BryanOwens012/dogwalker/internal/task"
)

// fakeQueue is an in-memory Queue recording Ack/Requeue calls for one job.
type fakeQueue struct {
	mu       sync.Mutex
	job      *Job
	acked    []string
	requeued []struct {
		id      string
		attempt int
	}
}

func (q *fakeQueue) Enqueue(ctx context.Context, payload task.Payload, d dog.Dog) (string, error) {
	return "job-1", nil
}

func (q *fakeQueue) Claim(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.job
	q.job = nil
	return j, nil
}

func (q *fakeQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *fakeQueue) Requeue(ctx context.Context, jobID string, attempt int, availableAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeued = append(q.requeued, struct {
		id      string
		attempt int
	}{jobID, attempt})
	return nil
}

func (q *fakeQueue) RequeueExpired(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	return 0, nil
}

func (q *fakeQueue) Close() error { return nil }

type fakeRunner struct {
	err error
}

func (f *fakeRunner) Run(ctx context.Context, payload task.Payload, d dog.Dog) (*pipeline.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{TaskID: payload.TaskID, Phase: task.PhaseDone}, nil
}

func TestRuntimeAcksOnSuccess(t *testing.T) {
	q := &fakeQueue{job: &Job{ID: "job-1", Payload: task.Payload{TaskID: "t1"}}}
	rt := New(q, &fakeRunner{}, Config{}, zap.NewNop())

	rt.handle(context.Background(), q.job)

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.requeued)
}

func TestRuntimeRequeuesOnTransientFailure(t *testing.T) {
	q := &fakeQueue{}
	rt := New(q, &fakeRunner{err: errkind.Transient(errors.New("forge unreachable"))}, Config{MaxAttempts: 3}, zap.NewNop())
	job := &Job{ID: "job-1", Attempt: 0}

	rt.handle(context.Background(), job)

	require.Len(t, q.requeued, 1)
	assert.Equal(t, 1, q.requeued[0].attempt)
	assert.Empty(t, q.acked)
}

func TestRuntimeDropsAfterMaxAttempts(t *testing.T) {
	q := &fakeQueue{}
	rt := New(q, &fakeRunner{err: errkind.Transient(errors.New("forge unreachable"))}, Config{MaxAttempts: 3}, zap.NewNop())
	job := &Job{ID: "job-1", Attempt: 2} // next attempt would be 3, which meets MaxAttempts

	rt.handle(context.Background(), job)

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.requeued)
}

func TestRuntimeDropsNonTransientFailureImmediately(t *testing.T) {
	q := &fakeQueue{}
	rt := New(q, &fakeRunner{err: errors.New("unclassified error")}, Config{MaxAttempts: 3}, zap.NewNop())
	job := &Job{ID: "job-1", Attempt: 0}

	rt.handle(context.Background(), job)

	assert.Equal(t, []string{"job-1"}, q.acked)
	assert.Empty(t, q.requeued)
}
