package agent

import (
	"fmt"
	"reflect"
)

// Strategy names a per-field merge rule.
type Strategy string

const (
	// StrategyReplace overwrites the field when the delta carries a value,
	// including an explicit empty value.
	StrategyReplace Strategy = "replace"
	// StrategyAppend concatenates new items after existing ones.
	StrategyAppend Strategy = "append"
	// StrategyAppendDedup appends only items whose identity key is not
	// already present. First write wins on collision.
	StrategyAppendDedup Strategy = "append-dedup-by-key"
	// StrategyAppendOrReset appends, or replaces outright when the delta
	// carries a reset marker. Supports positional done-flips.
	StrategyAppendOrReset Strategy = "append-or-reset"
)

// Registry maps every State field to its merge strategy. Keeping the mapping
// explicit and enumerable lets ValidateRegistry check it exhaustively against
// the struct instead of trusting an implicit convention.
var Registry = map[string]Strategy{
	"Messages":         StrategyAppend,
	"ResearchQuestion": StrategyReplace,
	"DataQuestions":    StrategyReplace,
	"Resources":        StrategyAppendDedup,
	"Report":           StrategyReplace,
	"Logs":             StrategyAppendOrReset,
}

// ValidateRegistry checks that the registry and the State struct agree field
// for field. Called from server startup and from tests.
func ValidateRegistry() error {
	t := reflect.TypeOf(State{})
	seen := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		seen[name] = true
		if _, ok := Registry[name]; !ok {
			return fmt.Errorf("state field %q has no reducer strategy", name)
		}
	}
	for name := range Registry {
		if !seen[name] {
			return fmt.Errorf("reducer strategy registered for unknown field %q", name)
		}
	}
	return nil
}

// Apply merges a delta into a state and returns the result. The input state
// is never mutated. Errors are contract violations only (a resource without
// an identity key, a done-flip out of range); provider-level failures never
// reach here.
func (d Delta) Apply(s State) (State, error) {
	out := s.Clone()

	out.Messages = append(out.Messages, d.Messages...)

	if d.ResearchQuestion != nil {
		out.ResearchQuestion = *d.ResearchQuestion
	}
	if d.Report != nil {
		out.Report = *d.Report
	}
	if d.DataQuestions != nil {
		out.DataQuestions = append([]string(nil), (*d.DataQuestions)...)
	}

	if len(d.Resources) > 0 {
		seen := make(map[string]bool, len(out.Resources))
		for _, r := range out.Resources {
			seen[r.IdentityKey()] = true
		}
		for _, r := range d.Resources {
			key := r.IdentityKey()
			if key == "" {
				return s, fmt.Errorf("resource %q has no identity key", r.Title)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Resources = append(out.Resources, r)
		}
	}

	if d.ResetLogs {
		out.Logs = append([]LogEntry(nil), d.Logs...)
	} else {
		out.Logs = append(out.Logs, d.Logs...)
	}
	for _, i := range d.DoneIndexes {
		if i < 0 || i >= len(out.Logs) {
			return s, fmt.Errorf("log done index %d out of range (len %d)", i, len(out.Logs))
		}
		out.Logs[i].Done = true
	}

	return out, nil
}
