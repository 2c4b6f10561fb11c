// Package engine holds the per-test execution runtime: a single-writer
// state machine owning one test from acceptance to teardown, plus the
// supervisor that spawns the test's Kafka stream workers. Children talk to
// the engine only through typed messages on its mailbox; no state is
// shared across the boundary.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/scenario"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/secrets"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage"
)

type State string

const (
	StateUninitialized State = "Uninitialized"
	StateSetup         State = "Setup"
	StateLoaded        State = "Loaded"
	StateExecuting     State = "Executing"
	StateCompleting    State = "Completing"
	StateCompleted     State = "Completed"
	StateFailed        State = "Failed"
	StateDeleted       State = "Deleted"
)

// Terminal reports whether the test reached an end state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDeleted
}

// Failure cause tags surfaced through the status endpoint.
const (
	CauseSetupTimeout     = "setup-timeout"
	CauseLoadingTimeout   = "loading-timeout"
	CauseExecutionTimeout = "execution-timeout"
	CauseCleanupTimeout   = "cleanup-timeout"
	CauseCancelled        = "cancelled"
	CauseValidation       = "validation"
	CauseChildCrashLoop   = "child-crash-loop"
	CauseStashOverflow    = "stash-overflow"
	CauseStorageFailure   = "storage-failure"
	CauseVaultFailure     = "vault-failure"
	CauseKafkaUnavailable = "kafka-unavailable"
	CauseScenarioFailure  = "scenario-failure"
)

const (
	childStorage  = "storage"
	childVault    = "vault"
	childKafka    = "kafka"
	childScenario = "scenario"
)

const expectedChildren = 4

// Snapshot is the engine's externally visible state, published to the
// registry on every transition.
type Snapshot struct {
	TestID    uuid.UUID
	State     State
	Cause     string
	StartTime time.Time
	EndTime   time.Time
	Success   *bool
	Result    *scenario.Result
}

// EngineConfig wires one engine instance to its children and collaborators.
type EngineConfig struct {
	TestID   uuid.UUID
	Bucket   string
	TestType string

	Config     *config.Config
	Storage    *storage.Child
	Secrets    *secrets.Child
	Scenario   *scenario.Child
	Supervisor *KafkaSupervisor
	Streams    scenario.Streams

	// Notify is called from the engine loop on every state transition.
	// It must not call back into the engine.
	Notify func(Snapshot)

	Logger zerolog.Logger
}

type message any

type (
	cmdInitialize struct{}
	cmdStartTest  struct{}
	cmdDelete     struct{}

	evChildReady struct {
		child string
		bsd   *directive.BlockStorageDirective
		secs  []directive.KafkaSecurityDirective
	}
	evChildFailed struct {
		child string
		err   error
	}
	evChildStopped struct{ child string }
	evScenarioDone struct {
		result *scenario.Result
		err    error
	}
	evTimer struct {
		gen   uint64
		cause string
	}
)

// retention is the timer cause for the completed-state retention window;
// unlike the failure causes it moves the test to Deleted, not Failed.
const retention = "retention"

// Engine is the per-test state machine. All mutation happens on the run
// loop goroutine; the public methods only post messages.
type Engine struct {
	cfg EngineConfig
	log zerolog.Logger

	mailbox chan message
	done    chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc

	// loop-owned
	state    State
	cause    string
	start    time.Time
	end      time.Time
	success  *bool
	bsd      *directive.BlockStorageDirective
	secs     []directive.KafkaSecurityDirective
	result   *scenario.Result
	ready    map[string]bool
	stopped  map[string]bool
	crashes  []time.Time
	stash    []message
	timerGen uint64

	snapMu sync.RWMutex
	snap   Snapshot
}

func New(cfg EngineConfig) *Engine {
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	stashSize := cfg.Config.StashBufferSize
	if stashSize < 1 {
		stashSize = 100
	}
	e := &Engine{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "engine").Str("test", cfg.TestID.String()).Logger(),
		mailbox:   make(chan message, stashSize+64),
		done:      make(chan struct{}),
		runCtx:    ctx,
		runCancel: cancel,
		state:     StateUninitialized,
		ready:     map[string]bool{},
		stopped:   map[string]bool{},
	}
	e.snap = Snapshot{TestID: cfg.TestID, State: StateUninitialized}
	return e
}

// Start launches the run loop. The loop exits when the test is Deleted.
func (e *Engine) Start() { go e.run() }

// Initialize begins Setup: bundle load, secret fetch, stream worker spawn.
func (e *Engine) Initialize() { e.post(cmdInitialize{}) }

// StartTest moves a Loaded test into Executing. Arriving during Setup it is
// stashed and replayed once the children are ready.
func (e *Engine) StartTest() { e.post(cmdStartTest{}) }

// Delete cancels the test. The engine reaches a terminal state within the
// exception-state timeout.
func (e *Engine) Delete() { e.post(cmdDelete{}) }

// Done closes once the engine reached Deleted and the loop exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Snapshot returns the last published state.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

func (e *Engine) post(msg message) {
	select {
	case e.mailbox <- msg:
	default:
		e.log.Error().Type("message", msg).Msg("mailbox full, message dropped")
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for msg := range e.mailbox {
		e.handle(msg)
		// replay stashed commands only after the handler finished, so a
		// state timer is always armed before a stashed command can
		// transition again
		e.unstash()
		if e.state == StateDeleted {
			return
		}
	}
}

func (e *Engine) handle(msg message) {
	switch m := msg.(type) {
	case cmdInitialize:
		e.onInitialize()
	case cmdStartTest:
		e.onStartTest()
	case cmdDelete:
		e.onDelete()
	case evChildReady:
		e.onChildReady(m)
	case evChildFailed:
		e.onChildFailed(m)
	case evChildStopped:
		e.onChildStopped(m)
	case evScenarioDone:
		e.onScenarioDone(m)
	case evTimer:
		e.onTimer(m)
	}
}

func (e *Engine) onInitialize() {
	if e.state != StateUninitialized {
		return
	}
	e.start = time.Now().UTC()
	e.transition(StateSetup)
	e.armTimer(e.cfg.Config.SetupStateTimeout.Std(), CauseSetupTimeout)
	go e.setup(stageStorage, nil, nil)
}

func (e *Engine) onStartTest() {
	switch e.state {
	case StateLoaded:
		e.transition(StateExecuting)
		e.armTimer(e.cfg.Config.MaxExecutionTime.Std(), CauseExecutionTimeout)
		go e.execute(e.bsd)
	case StateSetup:
		e.stashMsg(cmdStartTest{})
	default:
	}
}

func (e *Engine) onDelete() {
	switch e.state {
	case StateDeleted:
	case StateCompleted, StateFailed:
		e.transition(StateDeleted)
	default:
		e.fail(CauseCancelled)
	}
}

func (e *Engine) onChildReady(m evChildReady) {
	if e.state != StateSetup || e.ready[m.child] {
		return
	}
	e.ready[m.child] = true
	if m.bsd != nil {
		e.bsd = m.bsd
	}
	if m.secs != nil {
		e.secs = m.secs
	}
	e.log.Debug().Str("child", m.child).Int("ready", len(e.ready)).Msg("child ready")
	if len(e.ready) == expectedChildren {
		e.transition(StateLoaded)
		e.armTimer(e.cfg.Config.LoadingStateTimeout.Std(), CauseLoadingTimeout)
	}
}

func (e *Engine) onChildFailed(m evChildFailed) {
	if e.state.Terminal() {
		return
	}
	var verr *storage.ValidationError
	if errors.As(m.err, &verr) {
		e.log.Error().Err(m.err).Msg("directive validation failed")
		e.fail(CauseValidation)
		return
	}
	e.log.Error().Err(m.err).Str("child", m.child).Msg("child failed")

	if e.state == StateSetup && e.recordCrash() {
		// retry the failed stage; the crash-loop budget bounds this
		go e.setup(stageOf(m.child), e.bsd, e.secs)
		return
	}
	if e.state == StateSetup {
		e.fail(CauseChildCrashLoop)
		return
	}
	e.fail(causeOf(m.child))
}

func (e *Engine) onChildStopped(m evChildStopped) {
	if e.state != StateCompleting || e.stopped[m.child] {
		return
	}
	e.stopped[m.child] = true
	if len(e.stopped) == expectedChildren {
		e.end = time.Now().UTC()
		passed := e.result != nil && e.result.Passed
		e.success = &passed
		e.transition(StateCompleted)
		e.armTimer(e.cfg.Config.CompletedStateTimeout.Std(), retention)
	}
}

func (e *Engine) onScenarioDone(m evScenarioDone) {
	if e.state != StateExecuting {
		return
	}
	e.result = m.result
	if m.err != nil {
		e.log.Error().Err(m.err).Msg("scenario run errored")
	}
	e.transition(StateCompleting)
	e.armTimer(e.cfg.Config.ExceptionStateTimeout.Std(), CauseCleanupTimeout)
	go e.complete(e.bsd)
}

func (e *Engine) onTimer(m evTimer) {
	if m.gen != e.timerGen {
		return
	}
	switch {
	case m.cause == retention:
		e.transition(StateDeleted)
	case e.state == StateFailed:
		e.transition(StateDeleted)
	default:
		e.log.Warn().Str("cause", m.cause).Str("state", string(e.state)).Msg("state timer fired")
		e.fail(m.cause)
	}
}

// fail moves to Failed, cancels running children and arms the exception
// timer that eventually moves the test to Deleted.
func (e *Engine) fail(cause string) {
	if e.state.Terminal() {
		return
	}
	e.runCancel()
	e.cause = cause
	e.end = time.Now().UTC()
	failed := false
	e.success = &failed
	sup := e.cfg.Supervisor
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Config.ShutdownTimeout.Std())
		defer cancel()
		if sup != nil {
			_ = sup.Stop(ctx)
		}
	}()
	e.transition(StateFailed)
	e.armTimer(e.cfg.Config.ExceptionStateTimeout.Std(), e.cause)
}

func (e *Engine) transition(to State) {
	e.log.Info().Str("from", string(e.state)).Str("to", string(to)).Msg("state transition")
	e.state = to
	e.timerGen++
	e.publish()
}

func (e *Engine) armTimer(d time.Duration, cause string) {
	if d <= 0 {
		return
	}
	gen := e.timerGen
	time.AfterFunc(d, func() { e.post(evTimer{gen: gen, cause: cause}) })
}

func (e *Engine) stashMsg(msg message) {
	limit := e.cfg.Config.StashBufferSize
	if limit < 1 {
		limit = 100
	}
	if len(e.stash) >= limit {
		e.fail(CauseStashOverflow)
		return
	}
	e.stash = append(e.stash, msg)
}

func (e *Engine) unstash() {
	if len(e.stash) == 0 {
		return
	}
	pending := e.stash
	e.stash = nil
	for _, msg := range pending {
		e.handle(msg)
	}
}

// recordCrash notes one child crash and reports whether a retry is still
// within the rolling restart budget.
func (e *Engine) recordCrash() bool {
	now := time.Now()
	window := e.cfg.Config.RestartTimeRange.Std()
	kept := e.crashes[:0]
	for _, t := range e.crashes {
		if now.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	e.crashes = append(kept, now)
	return len(e.crashes) <= e.cfg.Config.MaxRestarts
}

func (e *Engine) publish() {
	snap := Snapshot{
		TestID:    e.cfg.TestID,
		State:     e.state,
		Cause:     e.cause,
		StartTime: e.start,
		EndTime:   e.end,
		Success:   e.success,
		Result:    e.result,
	}
	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
	if e.cfg.Notify != nil {
		e.cfg.Notify(snap)
	}
}

// Setup runs as a pipeline of stages; a crash retry restarts at the failed
// stage with the results of the earlier stages.
const (
	stageStorage = iota
	stageVault
	stageKafka
)

func stageOf(child string) int {
	switch child {
	case childVault:
		return stageVault
	case childKafka:
		return stageKafka
	default:
		return stageStorage
	}
}

func causeOf(child string) string {
	switch child {
	case childVault:
		return CauseVaultFailure
	case childKafka:
		return CauseKafkaUnavailable
	case childScenario:
		return CauseScenarioFailure
	default:
		return CauseStorageFailure
	}
}

func (e *Engine) setup(from int, bsd *directive.BlockStorageDirective, secs []directive.KafkaSecurityDirective) {
	ctx := e.runCtx
	if from <= stageStorage {
		b, err := e.cfg.Storage.Load(ctx, e.cfg.TestID, e.cfg.Bucket)
		if err != nil {
			e.post(evChildFailed{child: childStorage, err: err})
			return
		}
		bsd = b
		e.post(evChildReady{child: childStorage, bsd: bsd})
	}
	if from <= stageVault {
		s, err := e.cfg.Secrets.Fetch(ctx, bsd)
		if err != nil {
			e.post(evChildFailed{child: childVault, err: err})
			return
		}
		secs = s
		e.post(evChildReady{child: childVault, secs: secs})
	}
	if e.cfg.Supervisor != nil {
		if err := e.cfg.Supervisor.Initialize(ctx, bsd, secs); err != nil {
			e.post(evChildFailed{child: childKafka, err: err})
			return
		}
	}
	e.post(evChildReady{child: childKafka})
	e.post(evChildReady{child: childScenario})
}

func (e *Engine) execute(bsd *directive.BlockStorageDirective) {
	glue := append([]string{}, e.cfg.Config.Cucumber.GluePackages...)
	glue = append(glue, bsd.UserGluePackages...)
	result, err := e.cfg.Scenario.Execute(e.runCtx, scenario.RunConfig{
		TestID:       e.cfg.TestID,
		Directive:    bsd,
		GluePackages: glue,
		EvidenceDir:  bsd.EvidenceDir,
		Streams:      e.cfg.Streams,
	})
	e.post(evScenarioDone{result: result, err: err})
}

// complete uploads evidence and tears the children down, reporting one
// ChildStopped per child back to the loop.
func (e *Engine) complete(bsd *directive.BlockStorageDirective) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Config.ExceptionStateTimeout.Std())
	defer cancel()

	if err := e.cfg.Storage.Store(ctx, e.cfg.TestID, bsd.Bucket, bsd.EvidenceDir); err != nil {
		e.post(evChildFailed{child: childStorage, err: err})
		return
	}
	e.post(evChildStopped{child: childStorage})

	if e.cfg.Supervisor != nil {
		if err := e.cfg.Supervisor.Stop(ctx); err != nil {
			e.log.Warn().Err(err).Msg("stream worker teardown reported errors")
		}
	}
	e.post(evChildStopped{child: childKafka})
	e.post(evChildStopped{child: childVault})
	e.post(evChildStopped{child: childScenario})
}
