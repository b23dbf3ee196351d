package compile

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"aotc/internal/backend"
	"aotc/internal/log"
	"aotc/internal/unit"
)

// task addresses one admitted method inside the gathered class list.
type task struct {
	class  int // index into classes
	method int // index into classes[class].Methods
}

// Coordinator dispatches admitted methods over a bounded worker pool.
type Coordinator struct {
	Threads  int
	Options  backend.Options
	Policy   Policy
	Progress ProgressSink
	Logger   *log.Logger

	tasks []task
}

// classState tracks per-class progress for the sink.
type classState struct {
	name    string
	started atomic.Bool
	left    atomic.Int32
	failed  atomic.Bool
	begin   time.Time
}

// Compile compiles every admitted method of classes, writing payloads into
// the index-parallel Results slices. Results land by index, so container
// layout is reproducible for a given input regardless of thread count or
// completion order.
//
// Failures are recorded per unit and reported; under ExitOnError the pool
// stops admitting new work and the first failure (in dispatch order) is
// raised after the in-flight batch drains. There is no mid-batch
// cancellation.
func (c *Coordinator) Compile(ctx context.Context, classes []*CompiledClass, comp backend.Compiler) error {
	c.tasks = c.tasks[:0]
	states := make([]*classState, len(classes))
	for i, cc := range classes {
		st := &classState{name: cc.Class.Name}
		st.left.Store(int32(cc.MethodCount()))
		states[i] = st
		emit(c.Progress, Event{Class: cc.Class.Name, Status: StatusQueued})
		for j := range cc.Methods {
			c.tasks = append(c.tasks, task{class: i, method: j})
		}
	}
	if len(c.tasks) == 0 {
		c.drop()
		return nil
	}

	threads := c.Threads
	if threads <= 0 {
		threads = DefaultThreads()
	}

	var stop atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(threads, len(c.tasks)))
	for _, tk := range c.tasks {
		tk := tk // per-iteration copy; the go directive predates Go 1.22 loopvar semantics
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if stop.Load() {
				// exit-on-error: не начинаем новые единицы
				return nil
			}

			cc := classes[tk.class]
			st := states[tk.class]
			if st.started.CompareAndSwap(false, true) {
				st.begin = time.Now()
				emit(c.Progress, Event{Class: st.name, Status: StatusWorking})
			}

			m := cc.Methods[tk.method]
			compiled, err := comp.Compile(gctx, m, c.Options)
			if err != nil {
				cc.Failures[tk.method] = err
				st.failed.Store(true)
				c.Logger.Errorf("failed to compile %s: %v", m.FullDescriptor(), err)
				c.Logger.WriteLog("failed " + m.FullDescriptor())
				if c.Policy.ExitOnError {
					stop.Store(true)
				}
			} else {
				cc.Results[tk.method] = compiled
				c.Logger.Debugf("compiled %s (%d bytes)", m.FullDescriptor(), len(compiled.Code))
				c.Logger.WriteLog("compiled " + m.FullDescriptor())
			}

			if st.left.Add(-1) == 0 {
				c.finishClass(st)
			}
			return nil
		})
	}
	err := g.Wait()

	// Classes whose tail was skipped by exit-on-error still need a final event.
	for _, st := range states {
		if st.left.Load() > 0 {
			c.finishClass(st)
		}
	}

	failed := 0
	var firstErr error
	var firstMethod *unit.Method
	for _, cc := range classes {
		for j, ferr := range cc.Failures {
			if ferr == nil {
				continue
			}
			failed++
			if firstErr == nil {
				firstErr = ferr
				firstMethod = cc.Methods[j]
			}
		}
	}
	if failed > 0 {
		c.Logger.Infof("%d methods failed", failed)
	}

	// Drop the coordinator's own references before returning so the next
	// stage's reclaim checkpoint can collect compiler-internal state.
	c.drop()

	if err != nil {
		return err
	}
	if c.Policy.ExitOnError && firstErr != nil {
		return &UnitError{Method: firstMethod, Err: firstErr}
	}
	return nil
}

func (c *Coordinator) finishClass(st *classState) {
	status := StatusDone
	if st.failed.Load() {
		status = StatusError
	}
	var elapsed time.Duration
	if st.started.Load() {
		elapsed = time.Since(st.begin)
	}
	emit(c.Progress, Event{Class: st.name, Status: status, Elapsed: elapsed})
}

func (c *Coordinator) drop() {
	c.tasks = nil
}

// UnitError wraps a compile failure with the method it belongs to.
type UnitError struct {
	Method *unit.Method
	Err    error
}

func (e *UnitError) Error() string {
	return "compilation of " + e.Method.FullDescriptor() + " failed: " + e.Err.Error()
}

func (e *UnitError) Unwrap() error { return e.Err }
