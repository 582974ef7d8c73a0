package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RunPhase labels the runner's state machine for logging and snapshots.
type RunPhase string

const (
	PhaseStart            RunPhase = "start"
	PhaseRunningAssistant RunPhase = "running_assistant"
	PhaseRunningRetrieval RunPhase = "running_retrieval"
	PhaseHalted           RunPhase = "halted"
	PhaseFailed           RunPhase = "failed"
)

const defaultMaxSteps = 6

// RetrievalNode gathers evidence for the current data questions. It may emit
// intermediate deltas for progress streaming before returning its final one.
type RetrievalNode interface {
	Run(ctx context.Context, s State, emit func(Delta) error) (Delta, error)
}

// Runner drives the research loop:
//
//	start -> assistant -> (retrieval -> assistant)* -> end
//
// Every node delta is committed through the reducer registry, after which
// OnSnapshot receives the post-merge state. The loop halts when the router
// does, or when the assistant<->retrieval round-trip budget runs out.
type Runner struct {
	Assistant *AssistantNode
	Retrieval RetrievalNode
	// MaxSteps bounds assistant<->retrieval round trips. Defaults to 6.
	MaxSteps   int
	OnSnapshot func(State)
	Logger     *slog.Logger
}

// Run executes one research turn. The returned state is always usable: on
// the Failed path it is the last good committed state, paired with the
// error. A nil error means the run halted normally (including step-budget
// truncation, which is recorded in the log).
func (r *Runner) Run(ctx context.Context, initial State, userMessage string) (State, error) {
	logger := r.logger()
	state := initial.Clone()
	phase := PhaseStart

	commit := func(d Delta) error {
		next, err := d.Apply(state)
		if err != nil {
			return err
		}
		state = next
		if r.OnSnapshot != nil {
			r.OnSnapshot(state.Clone())
		}
		return nil
	}

	fail := func(err error) (State, error) {
		phase = PhaseFailed
		logger.Error("Run failed", "error", err)
		// The caller still gets a snapshot of whatever partial state existed.
		if r.OnSnapshot != nil {
			r.OnSnapshot(state.Clone())
		}
		return state, fmt.Errorf("research run failed: %w", err)
	}

	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	if userMessage != "" {
		// A new user turn starts a new phase: the progress log resets.
		err := commit(Delta{
			ResetLogs: true,
			Messages: []Message{{
				ID:      uuid.NewString(),
				Role:    RoleUser,
				Content: userMessage,
			}},
		})
		if err != nil {
			return fail(err)
		}
	}

	steps := 0
	for {
		phase = PhaseRunningAssistant
		logger.Debug("Phase transition", "phase", phase, "step", steps)

		analyzeIdx := len(state.Logs)
		if err := commit(Delta{Logs: []LogEntry{{Message: "Analyzing your research query..."}}}); err != nil {
			return fail(err)
		}

		delta := r.Assistant.Run(ctx, state)
		delta.DoneIndexes = append(delta.DoneIndexes, analyzeIdx)
		if err := commit(delta); err != nil {
			return fail(err)
		}

		if Route(delta) == Halt {
			phase = PhaseHalted
			logger.Info("Run halted", "steps", steps)
			return state, nil
		}

		steps++
		if steps > maxSteps {
			phase = PhaseHalted
			logger.Warn("Step budget exhausted, truncating run", "max_steps", maxSteps)
			if err := commit(Delta{Logs: []LogEntry{{
				Message: fmt.Sprintf("Research truncated after %d search rounds", maxSteps),
				Done:    true,
			}}}); err != nil {
				return fail(err)
			}
			return state, nil
		}

		phase = PhaseRunningRetrieval
		logger.Debug("Phase transition", "phase", phase, "step", steps)

		retrievalDelta, err := r.Retrieval.Run(ctx, state, commit)
		if err != nil {
			return fail(err)
		}
		if err := commit(retrievalDelta); err != nil {
			return fail(err)
		}
		// Retrieval always reports back to the assistant.
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
