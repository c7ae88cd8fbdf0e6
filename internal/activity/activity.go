// Package activity implements the Activity State Machine (spec.md §4.4):
// the central component that drives one workflow node from an inbound
// trigger through execution to leave, on top of its own private message
// broker (internal/broker), the Outbound Evaluator (internal/outbound),
// and a pluggable behaviour (internal/behavior).
//
// Concurrency model: the state machine is logically single-threaded, as
// required by spec.md §5. Rather than a JS-style single event-loop
// thread, this is enforced with a mutex held across every synchronous
// transition cascade; the only place control returns to the caller
// without the lock held is when a behaviour suspends (WaitBehavior),
// at which point a background goroutine re-acquires the lock once the
// behaviour resolves. Internal transition handlers (anything invoked
// through a broker consumer callback that is itself part of an
// already-locked cascade) never lock a second time — see onRunMessage,
// onInboundSimple, onInboundJoin, and onExecutionMarker.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/actrt/internal/behavior"
	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
	"github.com/flowforge/actrt/internal/eventapi"
	"github.com/flowforge/actrt/internal/logging"
	"github.com/flowforge/actrt/internal/metrics"
	"github.com/flowforge/actrt/internal/queue"
)

const (
	exchangeRun       = "run"
	exchangeEvent     = "event"
	exchangeAPI       = "api"
	exchangeExecution = "execution"
	exchangeFormat    = "format-run"
	exchangeInbound   = "inbound"

	queueInbound   = "inbound-q"
	queueRun       = "run-q"
	queueExecution = "execution-q"
	queueFormat    = "format-run-q"

	tagActivityRun  = "_activity-run"
	tagRunOnInbound = "_run-on-inbound"
	tagActivityExec = "_activity-execution"
)

// joinEntry is one buffered inbound delivery awaiting a parallel-join
// dispatch decision (spec.md §4.3).
type joinEntry struct {
	routingKey string
	content    domain.Content
	delivery   *broker.Delivery
}

// Activity is one executable workflow node: identity, static flags,
// counters, one ExecutionState, and the broker + behaviour it owns.
type Activity struct {
	ID   string
	Type string
	Name string

	Flags domain.Flags
	def   domain.Definition

	events *eventapi.Facade
	b      *broker.Broker
	beh    behavior.Behavior
	fmt    Formatter

	mu sync.Mutex

	counters domain.Counters
	status   domain.Status
	stopped  bool
	running  bool // true while a Run/Discard/Resume call is on the stack

	execState domain.ExecutionState
	stateMsg  *broker.Delivery // most recent unacked run-q delivery

	step       bool
	pendingAck *broker.Delivery
	execQDelivery *broker.Delivery

	joinBuffer map[string]joinEntry
	joinOrder  []string

	lastCompensationID string

	// Optional host-wired ambient dependencies (spec.md §4.9/§4.11/§4.13).
	// Every one of these is nil-safe: an Activity with none of them set
	// behaves exactly as the bare state machine, matching spec.md's "the
	// core itself never requires one".
	notifier    queue.Notifier
	runLogger   *logging.Logger
	outputStore *logging.OutputStore
	runStarted  time.Time
}

// SetNotifier wires a push-based external fan-out hook: every publishEvent
// call additionally notifies n on the event queue, so a host watching
// outside this process's broker learns about activity.* activity without
// polling (spec.md §4.13). Nil-safe; pass nil to detach.
func (a *Activity) SetNotifier(n queue.Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifier = n
}

// SetRunLogger wires an audit logger that records one RunLog entry per
// terminal transition this activity reaches (spec.md §4.9).
func (a *Activity) SetRunLogger(l *logging.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runLogger = l
}

// SetOutputStore wires a capture store for each execution's behaviour
// output, keyed by execution id (spec.md §4.9's ambient output capture,
// generalized from per-invocation stdout/stderr to per-execution output).
func (a *Activity) SetOutputStore(s *logging.OutputStore) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outputStore = s
}

// Formatter amends a run message's content before a transition continues,
// per spec.md §4.4's formatter hook.
type Formatter interface {
	Format(ctx context.Context, routingKey string, content domain.Content) (domain.Content, error)
}

// New constructs an Activity for def, owning a fresh private broker and
// event façade. beh supplies the concrete execution behaviour; fmt may be
// nil (no formatter hook).
func New(def domain.Definition, beh behavior.Behavior, fmt Formatter) *Activity {
	b := broker.New()
	a := &Activity{
		ID:         def.ID,
		Type:       def.Type,
		Name:       def.Name,
		Flags:      domain.ComputeFlags(def),
		def:        def,
		b:          b,
		beh:        beh,
		fmt:        fmt,
		events:     eventapi.New(b),
		joinBuffer: make(map[string]joinEntry),
	}
	a.assertTopology()
	return a
}

func (a *Activity) assertTopology() {
	a.b.AssertExchange(exchangeRun, broker.KindTopic)
	a.b.AssertExchange(exchangeEvent, broker.KindTopic)
	a.b.AssertExchange(exchangeAPI, broker.KindTopic)
	a.b.AssertExchange(exchangeExecution, broker.KindTopic)
	a.b.AssertExchange(exchangeFormat, broker.KindTopic)
	a.b.AssertExchange(exchangeInbound, broker.KindTopic)

	a.b.AssertQueue(queueInbound, true, false)
	a.b.BindQueue(queueInbound, exchangeInbound, "#")

	a.b.AssertQueue(queueRun, true, false)
	a.b.BindQueue(queueRun, exchangeRun, "run.#")

	a.b.AssertQueue(queueExecution, true, false)
	a.b.BindQueue(queueExecution, exchangeExecution, "execute.#")

	a.b.AssertQueue(queueFormat, false, true)
	a.b.BindQueue(queueFormat, exchangeFormat, "#")
}

// On, Once, WaitFor, EmitFatal, PublishEvent delegate to the event façade
// (spec.md §6's Event API).
func (a *Activity) On(pattern string, h func(string, domain.Content)) func() { return a.events.On(pattern, h) }
func (a *Activity) Once(pattern string, h func(string, domain.Content))      { a.events.Once(pattern, h) }
func (a *Activity) WaitFor(ctx context.Context, pattern string, filter func(domain.Content) bool) (domain.Content, error) {
	return a.events.WaitFor(ctx, pattern, filter)
}
func (a *Activity) OnFatal(fn func(error, domain.Content)) { a.events.OnFatal(fn) }

func (a *Activity) publishEvent(routingKey string, content domain.Content) {
	_ = a.events.PublishEvent(routingKey, content)
	if a.notifier != nil {
		_ = a.notifier.Notify(context.Background(), queue.QueueEvent)
	}
}

// Activate subscribes the inbound and run-queue consumers, per the
// invariants in spec.md §3: at most one `_activity-run` on run-q and one
// `_run-on-inbound` on inbound-q.
func (a *Activity) Activate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activateLocked()
}

func (a *Activity) activateLocked() {
	_ = a.b.AssertConsumer(queueRun, tagActivityRun, a.onRunMessage, broker.ConsumeOptions{Prefetch: 1})
	_ = a.b.AssertConsumer(queueInbound, tagRunOnInbound, a.inboundHandler(), broker.ConsumeOptions{Prefetch: a.inboundPrefetch()})
}

// Deactivate cancels the inbound consumer; an in-flight run is left alone.
func (a *Activity) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.b.Cancel(tagRunOnInbound)
}

// Run starts a run for this activity from content (spec.md §6's
// `run(runContent?)`). Throws a ProgrammerError if already running.
func (a *Activity) Run(content domain.Content) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runLocked(content, false, nil)
}

// Discard starts a discard run (spec.md §6's `discard(discardContent?)`).
func (a *Activity) Discard(content domain.Content) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runDiscardLocked(content, nil)
}

func (a *Activity) runLocked(content domain.Content, redelivered bool, discardSeq []string) error {
	if a.running {
		return domain.NewProgrammerError("activity.run", "activity is already running")
	}
	a.running = true
	defer func() { a.running = false }()

	if !redelivered {
		a.execState = domain.ExecutionState{
			InitExecutionID: uuid.New().String(),
			ExecutionID:     uuid.New().String(),
			HasExecution:    true,
		}
		a.runStarted = time.Now()
		metrics.RecordActivityRunStarted(a.Type)
	}
	c := content.Clone()
	if c == nil {
		c = domain.Content{}
	}
	c[domain.KeyExecutionID] = a.execState.ExecutionID
	if discardSeq != nil {
		c[domain.KeyDiscardSequence] = discardSeq
	}
	return a.b.Publish(exchangeRun, "run.enter", c, broker.PublishOptions{Persistent: true})
}

func (a *Activity) runDiscardLocked(content domain.Content, discardSeq []string) error {
	if a.running {
		return domain.NewProgrammerError("activity.discard", "activity is already running")
	}
	a.running = true
	defer func() { a.running = false }()

	a.execState = domain.ExecutionState{
		InitExecutionID: uuid.New().String(),
		ExecutionID:     uuid.New().String(),
		HasExecution:    true,
	}
	a.runStarted = time.Now()
	metrics.RecordActivityRunStarted(a.Type)
	c := content.Clone()
	if c == nil {
		c = domain.Content{}
	}
	c[domain.KeyIsDiscarded] = true
	c[domain.KeyExecutionID] = a.execState.ExecutionID
	if discardSeq != nil {
		c[domain.KeyDiscardSequence] = discardSeq
	}
	return a.b.Publish(exchangeRun, "run.discard", c, broker.PublishOptions{Persistent: true})
}

// Stop cancels every consumer and marks the activity stopped, without
// purging any queue (spec.md §5's cancellation model).
func (a *Activity) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.b.Cancel(tagActivityRun)
	_ = a.b.Cancel(tagRunOnInbound)
	_ = a.b.Cancel(tagActivityExec)
	a.stopped = true
	logging.Op().Debug("activity stopped", "id", a.ID, "type", a.Type, "status", string(a.status))
	a.publishEvent("activity.stop", domain.Content{})
}

// Resume refuses if currently consuming run-q; otherwise it clears
// stopped, republishes run.resume, and restarts the run-q consumer so
// redelivered messages (if any) replay (spec.md §4.4's resume()).
func (a *Activity) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return domain.NewProgrammerError("activity.resume", "activity is already consuming")
	}
	if a.status == domain.StatusUnset {
		a.activateLocked()
		return nil
	}
	a.running = true
	defer func() { a.running = false }()

	a.stopped = false
	if err := a.b.Publish(exchangeRun, "run.resume", domain.Content{}, broker.PublishOptions{Persistent: false}); err != nil {
		return err
	}
	return a.b.AssertConsumer(queueRun, tagActivityRun, a.onRunMessage, broker.ConsumeOptions{Prefetch: 1})
}

// GetActivityByID returns a itself when id matches, else nil. A real
// registry spanning multiple activities is owned by the surrounding
// Context (out of scope here); this is the trivial single-activity case
// spec.md §6's `getActivityById(id)` degrades to.
func (a *Activity) GetActivityByID(id string) *Activity {
	if id == a.ID {
		return a
	}
	return nil
}

// Next acks the current state message and lets the state machine advance
// one step (spec.md §4.4's step-mode `next()`). Refuses mid-execution.
// No code path sets a.step, so no run-q message is held in pendingAck and
// Next returns (nil, nil) whenever it does not refuse.
func (a *Activity) Next() (*broker.Delivery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == domain.StatusExecuting || a.status == domain.StatusFormatting {
		return nil, domain.NewProgrammerError("activity.next", "cannot step while executing or formatting")
	}
	d := a.pendingAck
	if d == nil {
		return nil, nil
	}
	a.pendingAck = nil
	d.Ack()
	return d, nil
}

