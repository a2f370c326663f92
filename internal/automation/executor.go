package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
)

// actionTimeout bounds a single Apply issued by the executor.
const actionTimeout = 30 * time.Second

// Applier is the mutation entry point the executor drives. device.Store
// satisfies it.
type Applier interface {
	Apply(ctx context.Context, id string, patch device.Patch, src device.Source) (*device.Device, error)
}

// Publisher publishes engine events. events.Bus satisfies it.
type Publisher interface {
	Publish(topic string, payload any)
}

type jobState int

const (
	jobPending jobState = iota
	jobRunning
	jobDone
	jobCancelled
)

// job is one action waiting in a device lane.
type job struct {
	owner  Owner
	index  int
	action Action
	src    device.Source

	state  jobState      // guarded by Executor.mu
	ready  chan struct{} // closed when the job may run
	cancel chan struct{} // closed when the job is cancelled
	timer  *clock.Timer
}

// lane serialises the jobs of one device in submission order.
type lane struct {
	deviceID string
	queue    []*job
}

// Executor runs automation actions through the Store.
//
// Each device has a lane: a FIFO worked by its own goroutine while it has
// jobs. An action with a delay takes its place in the lane when submitted
// and the lane waits for it, so two actions on one device always run in
// the order they were submitted. Actions on different devices run
// concurrently.
//
// Failures are logged and published on events.TopicActionFailed. Earlier
// actions are never rolled back.
//
// Thread Safety: all methods are safe for concurrent use.
type Executor struct {
	applier   Applier
	publisher Publisher
	clock     clock.Clock
	logger    Logger

	mu      sync.Mutex
	lanes   map[string]*lane
	pending map[string]map[*job]struct{} // owner key -> jobs not yet started
	closed  bool
	wg      sync.WaitGroup
}

// NewExecutor creates an executor that applies actions through applier.
//
// Parameters:
//   - applier: Mutation entry point (normally the device Store)
//   - publisher: Receives action.failed events (may be nil)
//   - clk: Clock for delays; nil selects the wall clock
//   - logger: Logger instance (may be nil)
func NewExecutor(applier Applier, publisher Publisher, clk clock.Clock, logger Logger) *Executor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{
		applier:   applier,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		lanes:     make(map[string]*lane),
		pending:   make(map[string]map[*job]struct{}),
	}
}

// Submit queues actions on behalf of owner. Actions without a delay are
// ready at once; delayed actions become ready when their timer fires and
// stay cancellable until then.
//
// Submitting to a device whose lane already holds work is not an error:
// the new actions wait their turn and an ErrSchedulingConflict is logged.
func (e *Executor) Submit(owner Owner, actions []Action, src device.Source) error {
	if len(actions) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}

	key := owner.Key()
	for i, a := range actions {
		j := &job{
			owner:  owner,
			index:  i,
			action: a,
			src:    src,
			ready:  make(chan struct{}),
			cancel: make(chan struct{}),
		}
		if a.DelaySeconds > 0 {
			ready := j.ready
			j.timer = e.clock.AfterFunc(a.Delay(), func() { close(ready) })
		} else {
			close(j.ready)
		}

		if e.pending[key] == nil {
			e.pending[key] = make(map[*job]struct{})
		}
		e.pending[key][j] = struct{}{}

		l, ok := e.lanes[a.DeviceID]
		if !ok {
			l = &lane{deviceID: a.DeviceID}
			e.lanes[a.DeviceID] = l
			e.wg.Add(1)
			go e.work(l)
		} else if len(l.queue) > 0 {
			e.logger.Info("action queued behind pending work",
				"error", ErrSchedulingConflict,
				"device_id", a.DeviceID,
				"owner", key,
				"queued", len(l.queue),
			)
		}
		l.queue = append(l.queue, j)
	}

	e.logger.Debug("actions submitted", "owner", key, "count", len(actions))
	return nil
}

// work drains one lane and exits when it is empty.
func (e *Executor) work(l *lane) {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		if len(l.queue) == 0 {
			delete(e.lanes, l.deviceID)
			e.mu.Unlock()
			return
		}
		j := l.queue[0]
		e.mu.Unlock()

		select {
		case <-j.ready:
		case <-j.cancel:
		}

		e.mu.Lock()
		l.queue = l.queue[1:]
		if j.state != jobPending {
			e.mu.Unlock()
			continue
		}
		j.state = jobRunning
		e.forget(j)
		e.mu.Unlock()

		e.run(j)

		e.mu.Lock()
		j.state = jobDone
		e.mu.Unlock()
	}
}

// run applies one action. Panics are recovered so a lane never dies.
func (e *Executor) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(j, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if _, err := e.applier.Apply(ctx, j.action.DeviceID, j.action.TargetStatus, j.src); err != nil {
		e.fail(j, err)
		return
	}
	e.logger.Debug("action applied",
		"owner", j.owner.Key(),
		"device_id", j.action.DeviceID,
		"index", j.index,
	)
}

func (e *Executor) fail(j *job, err error) {
	locked := errors.Is(err, device.ErrLocked)
	e.logger.Warn("action failed",
		"owner", j.owner.Key(),
		"device_id", j.action.DeviceID,
		"index", j.index,
		"locked", locked,
		"error", err,
	)
	if e.publisher != nil {
		e.publisher.Publish(events.TopicActionFailed, ActionFailedEvent{
			Owner:    j.owner,
			DeviceID: j.action.DeviceID,
			Index:    j.index,
			Error:    err.Error(),
			Locked:   locked,
			At:       e.clock.Now().UTC(),
		})
	}
}

// Cancel cancels every action of owner that has not started yet and
// returns how many were cancelled. An action already dequeued completes.
func (e *Executor) Cancel(owner Owner) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := owner.Key()
	n := 0
	for j := range e.pending[key] {
		if e.cancelLocked(j) {
			n++
		}
	}
	delete(e.pending, key)

	if n > 0 {
		e.logger.Info("pending actions cancelled", "owner", key, "count", n)
	}
	return n
}

// Pending returns the number of owner's actions that have not started.
func (e *Executor) Pending(owner Owner) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending[owner.Key()])
}

// Close cancels all pending actions and waits for running ones to finish.
// Submit fails with ErrExecutorClosed afterwards.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for key, jobs := range e.pending {
		for j := range jobs {
			e.cancelLocked(j)
		}
		delete(e.pending, key)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// cancelLocked marks a pending job cancelled. Caller holds e.mu.
func (e *Executor) cancelLocked(j *job) bool {
	if j.state != jobPending {
		return false
	}
	j.state = jobCancelled
	if j.timer != nil {
		j.timer.Stop()
	}
	close(j.cancel)
	return true
}

// forget removes a job from the pending index. Caller holds e.mu.
func (e *Executor) forget(j *job) {
	key := j.owner.Key()
	jobs := e.pending[key]
	delete(jobs, j)
	if len(jobs) == 0 {
		delete(e.pending, key)
	}
}
