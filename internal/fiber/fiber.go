// Package fiber implements a cooperative task runtime: at any instant at
// most one fiber is running, yield suspends the calling fiber, and resume
// hands control to whichever fiber is targeted next.
//
// The original runtime used swapcontext-style stackful coroutines over a
// pooled, guard-paged 2 MiB stack slab per fiber. Go goroutines already
// manage their own growable, guarded stacks, so this runtime substitutes a
// real goroutine per fiber and serializes them with a pair of rendezvous
// channels: Resume sends a wakeup event and blocks until the target fiber
// suspends or terminates, so control is handed off exactly like the
// swapcontext chain — never more than one fiber's entry code is runnable.
// `current` is loop-local executor state, not a true global: a single
// reactor loop drives it, matching the single-threaded cooperative model.
package fiber

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// WakeupEvent is the polymorphic value returned from Yield and injected by
// Resume. The only concrete variant used by core is IntStatus, a reactor
// result code; extensions may deliver arbitrary messages instead.
type WakeupEvent any

// IntStatus is a reactor completion code carried as a WakeupEvent.
// Non-negative values report a byte count or plain success; negative
// values are distinguished error codes.
type IntStatus int

const (
	StatusOK      IntStatus = 0
	StatusEOF     IntStatus = -1
	StatusTimeout IntStatus = -2
	StatusError   IntStatus = -3
)

// UsageError marks a fatal misuse of the fiber API: yielding outside a
// fiber, or resuming a terminated or self fiber.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return "fiber: " + e.Msg }

var fiberIDs atomic.Uint64

// resources is the pooled object behind a fiber: the rendezvous channel
// pair. This is the substitute for the pooled guarded stack slab in the
// original — what's actually expensive to allocate per connection in this
// port is the channel pair plus goroutine setup, not stack memory.
type resources struct {
	resumeCh chan resumeMsg
	yieldCh  chan struct{}
}

type resumeMsg struct {
	event WakeupEvent
	err   error
}

var (
	poolMu          sync.Mutex
	pool            []*resources
	stackPoolTarget = 64
)

// SetPoolTarget adjusts the cap on pooled fiber resources. Exported for
// tests exercising the stack-pool-bound property; core wiring leaves it at
// the default.
func SetPoolTarget(n int) {
	poolMu.Lock()
	defer poolMu.Unlock()
	stackPoolTarget = n
}

// PoolSize reports the number of pooled fiber resources.
func PoolSize() int {
	poolMu.Lock()
	defer poolMu.Unlock()
	return len(pool)
}

func getResources() *resources {
	poolMu.Lock()
	if n := len(pool); n > 0 {
		r := pool[n-1]
		pool = pool[:n-1]
		poolMu.Unlock()
		return r
	}
	poolMu.Unlock()
	return &resources{
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan struct{}),
	}
}

func putResources(r *resources) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if len(pool) < stackPoolTarget {
		pool = append(pool, r)
	}
}

// Fiber is a cooperative task: a suspended or running goroutine paired
// with rendezvous channels, a pending prev link, and a self-reference
// cleared on termination.
type Fiber struct {
	id         uint64
	logger     *slog.Logger
	res        *resources
	prev       *Fiber
	terminated atomic.Bool
	self       *Fiber
}

// ID returns an opaque identity for logging.
func (f *Fiber) ID() uint64 { return f.id }

var (
	currentMu sync.Mutex
	current   *Fiber
)

// Current returns the fiber presently running, or nil from the top-level
// (reactor loop) goroutine.
func Current() *Fiber {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

// dispatch is the single goroutine that every externally-triggered resume
// (one spawned to await a blocking I/O call, or to launch the fiber for a
// freshly-accepted connection) is funneled through. The original had
// exactly one reactor loop thread ever calling resume, so only one
// fiber's entry code was ever runnable; here, each stream suspension
// point spawns its own completion goroutine, and two unrelated
// connections' I/O can genuinely finish at the same instant. Resume
// itself is only safe to call while no other resume is in flight, so any
// caller that isn't already running as part of one funnels its request
// through dispatch instead of calling Resume directly — that serializes
// unrelated chains against each other exactly as if one reactor loop
// dispatched them in turn. A fiber resuming another fiber synchronously
// as part of its own execution (ConnectProxy launching its two pipe
// fibers, for instance) keeps calling Resume/Launch directly: it's
// already running inside the one chain dispatch is currently serving, so
// routing it back through dispatch would just deadlock against itself.
var (
	dispatchOnce sync.Once
	dispatchCh   chan func()
)

func ensureDispatch() {
	dispatchOnce.Do(func() {
		dispatchCh = make(chan func())
		go func() {
			for fn := range dispatchCh {
				fn()
			}
		}()
	})
}

// ScheduleResume is Resume's entry point for callers outside any fiber's
// own execution — the goroutines stream.go spawns to perform one
// blocking read or write. Safe to call concurrently from any number of
// such goroutines: each call is queued and run one at a time on a single
// dispatcher goroutine.
func ScheduleResume(f *Fiber, event WakeupEvent) {
	ensureDispatch()
	done := make(chan struct{})
	dispatchCh <- func() {
		Resume(f, event)
		close(done)
	}
	<-done
}

// ScheduleLaunch is Launch's entry point for callers outside any fiber's
// own execution — a TCP accept loop launching a fiber per accepted
// connection. See ScheduleResume.
func ScheduleLaunch(logger *slog.Logger, entry func(f *Fiber)) *Fiber {
	ensureDispatch()
	result := make(chan *Fiber)
	dispatchCh <- func() {
		result <- Launch(logger, entry)
	}
	return <-result
}

// Launch allocates a fiber (pulling rendezvous channels from the pool or
// making fresh ones), starts entry on its own goroutine inside a catch-all
// trampoline, resumes it once with StatusOK, and returns once entry
// reaches its first suspension point or terminates synchronously.
func Launch(logger *slog.Logger, entry func(f *Fiber)) *Fiber {
	f := &Fiber{
		id:     fiberIDs.Add(1),
		logger: logger,
		res:    getResources(),
	}
	f.self = f

	go f.trampoline(entry)

	Resume(f, StatusOK)
	return f
}

func (f *Fiber) trampoline(entry func(f *Fiber)) {
	<-f.res.resumeCh // consume the initial resume(f, StatusOK); entry takes no event argument
	defer func() {
		if r := recover(); r != nil {
			if f.logger != nil {
				f.logger.Error("fiber entry panicked", "fiber", f.id, "panic", fmt.Sprint(r))
			}
		}
		f.terminated.Store(true)
		f.self = nil
		f.res.yieldCh <- struct{}{}
	}()
	entry(f)
}

// Yield suspends the calling fiber and waits for the next Resume or Raise.
// It must be called from inside a fiber; calling it from the top level is
// fatal and panics with a *UsageError (caught and logged by the nearest
// enclosing trampoline, or propagated if there is none).
func Yield() (WakeupEvent, error) {
	f := Current()
	if f == nil {
		panic(&UsageError{Msg: "yield called outside any fiber"})
	}
	f.res.yieldCh <- struct{}{}
	msg := <-f.res.resumeCh
	return msg.event, msg.err
}

// Resume installs event as the pending wakeup for f and switches control
// to it, returning once f suspends again or terminates. Resuming a
// terminated fiber or the caller itself is a fatal usage error.
func Resume(f *Fiber, event WakeupEvent) {
	doResume(f, resumeMsg{event: event})
}

// Raise installs err as f's pending error; it surfaces at f's next Yield.
func Raise(f *Fiber, err error) {
	doResume(f, resumeMsg{err: err})
}

func doResume(f *Fiber, msg resumeMsg) {
	if f == Current() {
		panic(&UsageError{Msg: "resume: cannot resume the currently running fiber"})
	}
	if f.terminated.Load() {
		panic(&UsageError{Msg: "resume: fiber already terminated"})
	}

	currentMu.Lock()
	caller := current
	f.prev = caller
	current = f
	currentMu.Unlock()

	f.res.resumeCh <- msg
	<-f.res.yieldCh

	currentMu.Lock()
	current = caller
	currentMu.Unlock()

	if f.terminated.Load() {
		putResources(f.res)
		f.res = nil
	}
}

// Preserve captures the currently running fiber into *slot and returns a
// cleanup that clears it. Pair with defer so the slot is cleared on every
// exit path — completion, timeout, or error — mirroring the original's
// scope-guard semantics for publishing the reading fiber to reactor
// callbacks.
func Preserve(slot **Fiber) func() {
	*slot = Current()
	return func() { *slot = nil }
}
