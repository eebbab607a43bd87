// Package driver is the glue: it receives one task, runs the OODA loop
// (Observe-Orient-Decide-Act) against the Reasoning Engine, Guardrail
// Pipeline, gRPC Dispatcher, and local tool handlers, and emits an
// append-only SSE-style Event stream.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tarsy-oss/funnel/pkg/audit"
	"github.com/tarsy-oss/funnel/pkg/dispatch"
	"github.com/tarsy-oss/funnel/pkg/guardrail"
	"github.com/tarsy-oss/funnel/pkg/reasoning"
	"github.com/tarsy-oss/funnel/pkg/session"
	"github.com/tarsy-oss/funnel/pkg/step"
)

const (
	defaultMaxSteps   = 8
	goalCheckInterval = 3
)

// Dispatcher is the subset of dispatch.Client the driver depends on.
type Dispatcher interface {
	Execute(ctx context.Context, agentID string, p dispatch.ExecuteParams) (dispatch.TaskResult, error)
}

// Driver runs one OODA loop per task.
type Driver struct {
	engine     *reasoning.Engine
	dispatcher Dispatcher
	local      *localHandlers
	maxSteps   int
	auditor    *audit.Writer
}

// New returns a Driver. workspaceRoot is the base directory local tool
// handlers resolve relative paths against.
func New(engine *reasoning.Engine, dispatcher Dispatcher, workspaceRoot string) *Driver {
	return &Driver{
		engine:     engine,
		dispatcher: dispatcher,
		local:      newLocalHandlers(workspaceRoot),
		maxSteps:   defaultMaxSteps,
	}
}

// WithMaxSteps overrides the default max-steps-per-task budget (5-10 per the
// driver contract).
func (d *Driver) WithMaxSteps(n int) *Driver {
	d.maxSteps = n
	return d
}

// WithAuditor attaches a best-effort audit log. A nil auditor (the default)
// disables auditing entirely — Writer.Record is a no-op on a nil receiver.
func (d *Driver) WithAuditor(w *audit.Writer) *Driver {
	d.auditor = w
	return d
}

// Run drives the whole OODA loop for one task and returns a channel of
// events. The channel is closed when the task reaches `complete` or the
// step budget is exhausted. sessionID is opaque to the driver beyond
// labeling audit records — pass "" when the caller has none (e.g. ad-hoc
// tests), the audit log simply groups those rows under an empty session.
func (d *Driver) Run(ctx context.Context, sessionID, task string, state *session.State) <-chan Event {
	events := make(chan Event, 64)

	go func() {
		defer close(events)
		d.run(ctx, sessionID, task, state, events)
	}()

	return events
}

func (d *Driver) run(ctx context.Context, sessionID, task string, state *session.State, events chan<- Event) {
	plan, err := d.engine.GenerateTaskPlan(ctx, task)
	if err != nil {
		slog.Warn("driver: task plan generation failed, continuing with fallback", "error", err)
	}
	items := make([]session.TaskPlanItem, len(plan))
	for i, desc := range plan {
		items[i] = session.TaskPlanItem{Index: i, Description: desc, Status: session.PlanPending}
	}
	state.SetTaskPlan(items)

	events <- Event{EventType: EventPlan, Content: joinPlan(plan)}

	for i := 0; i < d.maxSteps; i++ {
		proposed := d.nextStep(ctx, i, task, plan, state, events)
		if proposed == nil {
			return // context cancelled mid-stream
		}

		guarded := guardrail.Apply(proposed, state)

		if guarded.Tool == step.ToolComplete {
			events <- Event{EventType: EventComplete, StepNum: i, Result: guarded.Answer, Status: guarded.Error, Done: true}
			return
		}

		result := d.execute(ctx, guarded)
		stepID := fmt.Sprintf("step-%d", i)
		state.UpdateFromStep(stepID, string(guarded.Tool), guarded.Params, result.Output, result.Success)

		d.auditor.Record(audit.Record{
			SessionID: sessionID,
			StepID:    stepID,
			AgentID:   guarded.AgentID(),
			Tool:      guarded.Tool,
			Params:    guarded.Params,
			Output:    result.Output,
			Success:   result.Success,
			ErrorKind: result.ErrorKind,
		})

		events <- Event{
			EventType: EventResult,
			StepNum:   i,
			Tool:      string(guarded.Tool),
			Result:    result.Output,
			Status:    string(result.ErrorKind),
		}

		if (i+1)%goalCheckInterval == 0 {
			check := d.engine.CheckGoalSatisfaction(ctx, task, state)
			if check.SuggestedAction == "complete" {
				events <- Event{EventType: EventComplete, StepNum: i, Result: check.Reason, Done: true}
				return
			}
			if !check.Satisfied && hasRecentFailures(state) {
				replan, err := d.engine.GenerateReplan(ctx, task, state, check.Reason)
				if err == nil {
					replanItems := make([]session.TaskPlanItem, len(replan))
					for j, desc := range replan {
						replanItems[j] = session.TaskPlanItem{Index: j, Description: desc, Status: session.PlanPending}
					}
					state.SetTaskPlan(replanItems)
					plan = replan
				}
			}
		}
	}

	events <- Event{EventType: EventComplete, StepNum: d.maxSteps, Status: "step limit reached", Done: true}
}

func (d *Driver) nextStep(ctx context.Context, stepNum int, task string, plan []string, state *session.State, events chan<- Event) *step.Step {
	statusCB := func(msg string) {
		events <- Event{EventType: EventStatus, StepNum: stepNum, Status: msg}
	}

	var final *step.Step
	for r := range d.engine.GenerateNextStepStreaming(ctx, task, plan, nil, state, statusCB) {
		if r.Token != "" {
			events <- Event{EventType: EventThinking, StepNum: stepNum, Content: r.Token}
		}
		if r.Step != nil {
			final = r.Step
		}
	}
	return final
}

// execute dispatches a guardrail-approved step to its executor:
// execute/remote_bash go to the gRPC Dispatcher, the file/shell tools go to
// local handlers, and think/dump_state/none are no-op successes (handled
// inside localHandlers.Run).
func (d *Driver) execute(ctx context.Context, s *step.Step) step.StepResult {
	if s.Tool.IsRemoteExecute() {
		result, err := d.dispatcher.Execute(ctx, s.AgentID(), dispatch.ExecuteParams{
			TaskID:         fmt.Sprintf("%s-%s", s.AgentID(), s.StepID),
			TaskType:       dispatch.TaskShell,
			Command:        s.Command(),
			TimeoutSeconds: 30,
		})
		if err != nil {
			return step.StepResult{Success: false, ErrorKind: step.ErrorGRPC, ErrorMessage: err.Error()}
		}
		kind := step.ErrorNone
		if !result.Success {
			kind = step.ErrorExecution
		}
		return step.StepResult{Success: result.Success, Output: result.Stdout + result.Stderr, ErrorKind: kind, ErrorMessage: result.Stderr}
	}

	return d.local.Run(ctx, s)
}

func joinPlan(plan []string) string {
	out := ""
	for i, p := range plan {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%d. %s", i+1, p)
	}
	return out
}

func hasRecentFailures(state *session.State) bool {
	for _, cs := range state.LastCompletedSteps(5) {
		if !cs.Success {
			return true
		}
	}
	return false
}
