package tmsearch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseRunningUSPTO Phase = "running_uspto"
	PhaseRunningMGS   Phase = "running_mgs"
	PhaseCancelled    Phase = "cancelled"
	PhaseError        Phase = "error"
	PhaseSuccess      Phase = "success"
)

func (p Phase) Running() bool { return p == PhaseRunningUSPTO || p == PhaseRunningMGS }

func (p Phase) stage() Stage {
	switch p {
	case PhaseRunningUSPTO:
		return StageUSPTO
	case PhaseRunningMGS:
		return StageMGS
	}
	return ""
}

type WorkflowState struct {
	Phase        Phase         `json:"phase"`
	Progress     float64       `json:"progress"`
	USPTOElapsed time.Duration `json:"usptoElapsed"`
	MGSElapsed   time.Duration `json:"mgsElapsed"`
	ActiveTerm   string        `json:"activeTerm,omitempty"`
	Status       Status        `json:"status"`
}

type StageRequest struct {
	Terms []string
	Tasks []SearchTask
}

// StageHandle is a running stage. Events is closed once the stage's output
// is exhausted; Done then delivers the exit code. Events must be drained.
type StageHandle interface {
	Stage() Stage
	Events() <-chan Event
	Done() <-chan int
	Stop()
}

type StageLauncher interface {
	Launch(ctx context.Context, stage Stage, req StageRequest) (StageHandle, error)
	// SignalCancel raises the cancellation flag polled by running stages.
	SignalCancel() error
	// ClearCancel lowers it before a new workflow.
	ClearCancel() error
}

// ResultSink receives records and per-term errors from running stages.
type ResultSink interface {
	Accept(raw RawRecord)
	RecordError(raw RawRecord)
}

// Controller drives the USPTO then MGS stage sequence. Only one workflow is
// live at a time.
type Controller struct {
	mu       sync.Mutex
	launcher StageLauncher
	sink     ResultSink
	onChange func(WorkflowState)

	state      WorkflowState
	handle     StageHandle
	completed  bool
	pendingMGS []SearchTask
	ctx        context.Context
	span       trace.Span
}

func NewController(launcher StageLauncher, sink ResultSink) *Controller {
	return &Controller{
		launcher: launcher,
		sink:     sink,
		state:    WorkflowState{Phase: PhaseIdle, Status: Status{Type: StatusIdle}},
	}
}

// OnStateChange registers fn to receive a copy of the state after every
// transition or progress update. fn runs with the controller locked and must
// not call back into it.
func (c *Controller) OnStateChange(fn func(WorkflowState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) State() WorkflowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a workflow. USPTO runs first when there are terms for it;
// otherwise MGS starts directly; with neither the workflow succeeds at once.
// A live stage handle rejects the call with ErrSearchRunning.
func (c *Controller) Start(ctx context.Context, usptoTerms []string, mgsTasks []SearchTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		log.Printf("tmsearch workflow_start_rejected phase=%s", c.state.Phase)
		return ErrSearchRunning
	}
	if err := c.launcher.ClearCancel(); err != nil {
		log.Printf("tmsearch cancel_clear_failed err=%q", err.Error())
	}
	c.ctx = context.WithoutCancel(ctx)
	c.state = WorkflowState{Phase: PhaseIdle}
	c.completed = false
	c.pendingMGS = append([]SearchTask(nil), mgsTasks...)
	log.Printf("tmsearch workflow_start uspto_terms=%d mgs_tasks=%d", len(usptoTerms), len(mgsTasks))

	if len(usptoTerms) > 0 {
		_, c.span = tracer.Start(c.ctx, "tmsearch.stage.uspto", trace.WithAttributes(attribute.Int("terms", len(usptoTerms))))
		h, err := c.launcher.Launch(c.ctx, StageUSPTO, StageRequest{Terms: usptoTerms})
		if err == nil {
			c.handle = h
			c.state.Phase = PhaseRunningUSPTO
			c.state.Status = Status{Type: StatusSearching, Message: fmt.Sprintf("Starting USPTO search for %d terms...", len(usptoTerms))}
			c.notifyLocked()
			return nil
		}
		c.endSpanLocked(err)
		log.Printf("tmsearch stage_launch_failed stage=%s err=%q", StageUSPTO, err.Error())
		c.startMGSLocked("Search complete.")
		return nil
	}
	c.startMGSLocked("Results loaded from local data/cache.")
	return nil
}

// startMGSLocked launches MGS, or finishes with doneMsg when there is no MGS
// work.
func (c *Controller) startMGSLocked(doneMsg string) {
	c.handle = nil
	c.completed = false
	c.state.Progress = 0
	c.state.ActiveTerm = ""
	if len(c.pendingMGS) == 0 {
		c.state.Phase = PhaseSuccess
		c.state.Status = Status{Type: StatusSuccess, Message: doneMsg}
		log.Printf("tmsearch workflow_done phase=%s", c.state.Phase)
		c.notifyLocked()
		return
	}
	_, c.span = tracer.Start(c.ctx, "tmsearch.stage.mgs", trace.WithAttributes(attribute.Int("tasks", len(c.pendingMGS))))
	h, err := c.launcher.Launch(c.ctx, StageMGS, StageRequest{Tasks: c.pendingMGS})
	if err != nil {
		c.endSpanLocked(err)
		log.Printf("tmsearch stage_launch_failed stage=%s err=%q", StageMGS, err.Error())
		c.state.Phase = PhaseError
		c.state.Status = Status{Type: StatusError, Message: (&StageError{Stage: StageMGS, Err: err}).Error()}
		c.notifyLocked()
		return
	}
	c.handle = h
	c.state.Phase = PhaseRunningMGS
	c.state.Status = Status{Type: StatusSearching, Message: fmt.Sprintf("Starting MGS search for %d terms...", len(c.pendingMGS))}
	c.notifyLocked()
}

// HandleEvent applies one event read from h. Results and errors always reach
// the sink; state only moves while h is the live handle of a running stage.
func (c *Controller) HandleEvent(h StageHandle, ev Event) {
	switch ev.Type {
	case EventResult:
		if c.sink != nil {
			c.sink.Accept(ev.Record)
		}
	case EventError:
		log.Printf("tmsearch stage_error stage=%s term=%q message=%q", ev.Stage, ev.Record.Term, ev.Message)
		if c.sink != nil {
			c.sink.RecordError(ev.Record)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil || c.handle != h || !c.state.Phase.Running() || ev.Stage != c.state.Phase.stage() {
		return
	}
	switch ev.Type {
	case EventProgress:
		c.state.Progress = ev.Progress
		if ev.CurrentTerm != "" {
			c.state.ActiveTerm = ev.CurrentTerm
		}
		c.notifyLocked()
	case EventResult:
		if t := ev.Record.TermValue(); t != "" {
			c.state.ActiveTerm = t
		}
	case EventComplete:
		c.completed = true
		c.state.Progress = 100
		if ev.Stage == StageUSPTO {
			c.state.USPTOElapsed = ev.Elapsed
			c.state.Status = Status{Type: StatusSearching, Message: "USPTO search finished; waiting for process exit."}
			c.notifyLocked()
			return
		}
		c.state.MGSElapsed = ev.Elapsed
		c.state.Phase = PhaseSuccess
		c.state.Status = Status{Type: StatusSuccess, Message: "Search complete."}
		c.endSpanLocked(nil)
		log.Printf("tmsearch workflow_done phase=%s mgs_elapsed=%s", c.state.Phase, ev.Elapsed)
		c.notifyLocked()
	}
}

// ReadyForNextStage is the confirmation that the USPTO process has exited
// and MGS may start.
func (c *Controller) ReadyForNextStage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != PhaseRunningUSPTO {
		return
	}
	c.endSpanLocked(nil)
	c.startMGSLocked("Search complete.")
}

// StageExited reports that h exited with code. A USPTO failure still moves
// on to MGS; an MGS failure before completion ends the workflow in error.
// Exits of handles that are no longer live are ignored.
func (c *Controller) StageExited(h StageHandle, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil || c.handle != h {
		log.Printf("tmsearch stale_stage_exit code=%d phase=%s", code, c.state.Phase)
		return
	}
	stage := h.Stage()
	log.Printf("tmsearch stage_exit stage=%s code=%d phase=%s", stage, code, c.state.Phase)
	running := c.state.Phase.Running() && c.state.Phase.stage() == stage
	if !running {
		c.handle = nil
		return
	}

	switch stage {
	case StageUSPTO:
		if code != 0 {
			c.endSpanLocked(&StageError{Stage: stage, Err: fmt.Errorf("exit code %d", code)})
			log.Printf("tmsearch stage_failed stage=%s code=%d completed=%t action=continue_mgs", stage, code, c.completed)
		} else {
			c.endSpanLocked(nil)
		}
		c.startMGSLocked("Search complete.")
	case StageMGS:
		c.handle = nil
		if code != 0 {
			err := &StageError{Stage: stage, Err: fmt.Errorf("exit code %d", code)}
			c.endSpanLocked(err)
			c.state.Phase = PhaseError
			c.state.Status = Status{Type: StatusError, Message: fmt.Sprintf("MGS search failed (exit code %d).", code)}
		} else {
			c.endSpanLocked(nil)
			c.state.Phase = PhaseSuccess
			c.state.Status = Status{Type: StatusSuccess, Message: "Search complete (finalized by exit)."}
		}
		c.notifyLocked()
	}
}

// Cancel stops the active stage without waiting for it and marks the
// workflow cancelled. Once the workflow has finished it only stops a
// leftover process and the final state is kept.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Phase.Running() {
		if h := c.handle; h != nil {
			c.handle = nil
			go h.Stop()
		}
		return
	}
	if err := c.launcher.SignalCancel(); err != nil {
		log.Printf("tmsearch cancel_signal_failed err=%q", err.Error())
	}
	if h := c.handle; h != nil {
		go h.Stop()
	}
	c.handle = nil
	c.endSpanLocked(context.Canceled)
	c.state.Phase = PhaseCancelled
	c.state.Status = Status{Type: StatusCancelled, Message: "Search cancelled."}
	log.Printf("tmsearch workflow_cancelled")
	c.notifyLocked()
}

// Run pumps the active stage's events until the workflow leaves the running
// phases. Cancelling ctx cancels the workflow.
func (c *Controller) Run(ctx context.Context) (WorkflowState, error) {
	for {
		c.mu.Lock()
		h := c.handle
		c.mu.Unlock()
		if h == nil {
			return c.State(), nil
		}
		if err := c.pump(ctx, h); err != nil {
			c.Cancel()
			go drain(h)
			return c.State(), err
		}
	}
}

func (c *Controller) pump(ctx context.Context, h StageHandle) error {
	events := h.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.HandleEvent(h, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case code := <-h.Done():
		c.StageExited(h, code)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain consumes what is left of an abandoned stage so its readers can
// finish and the process gets reaped.
func drain(h StageHandle) {
	for range h.Events() {
	}
	<-h.Done()
}

func (c *Controller) endSpanLocked(err error) {
	if c.span == nil {
		return
	}
	if err != nil {
		c.span.RecordError(err)
	}
	c.span.End()
	c.span = nil
}

func (c *Controller) notifyLocked() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

// FormatElapsed renders a stage duration the way stages report it.
func FormatElapsed(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f seconds", d.Seconds())
}
