package status

import (
	"errors"
	"time"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
)

// State is the overall boot state.
type State string

const (
	StateNotStarted State = "not started"
	StateRunning    State = "running"
	StateDone       State = "done"
	StateError      State = "error"
	StateDegraded   State = "degraded"
	StateDisabled   State = "disabled"
)

// Terminal reports whether the state will not change during this boot.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateError, StateDegraded, StateDisabled:
		return true
	}
	return false
}

// StageSummary describes one stage for display.
type StageSummary struct {
	Name              string     `json:"name" yaml:"name"`
	State             State      `json:"state" yaml:"state"`
	Start             *time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	Finished          *time.Time `json:"finished,omitempty" yaml:"finished,omitempty"`
	Errors            []string   `json:"errors" yaml:"errors"`
	RecoverableErrors []string   `json:"recoverable_errors" yaml:"recoverable_errors"`
}

// Duration returns how long the stage took, or 0 when not finished.
func (s StageSummary) Duration() time.Duration {
	if s.Start == nil || s.Finished == nil {
		return 0
	}
	return s.Finished.Sub(*s.Start)
}

// Summary is the condensed view printed by "cinit status".
type Summary struct {
	State             State          `json:"status" yaml:"status"`
	Detail            string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Datasource        string         `json:"datasource" yaml:"datasource"`
	BootID            string         `json:"boot_id,omitempty" yaml:"boot_id,omitempty"`
	Stage             string         `json:"stage,omitempty" yaml:"stage,omitempty"`
	LastUpdate        string         `json:"last_update,omitempty" yaml:"last_update,omitempty"`
	Stages            []StageSummary `json:"stages" yaml:"stages"`
	Errors            []string       `json:"errors" yaml:"errors"`
	RecoverableErrors []string       `json:"recoverable_errors" yaml:"recoverable_errors"`
}

// ExitCode maps the state to the exit code of "cinit status": 1 for
// errors, 2 for recoverable errors, otherwise 0.
func (s Summary) ExitCode() int {
	switch {
	case s.State == StateError:
		return 1
	case s.State == StateDegraded || len(s.RecoverableErrors) > 0:
		return 2
	}
	return 0
}

func fromTimestamp(ts *float64) *time.Time {
	if ts == nil {
		return nil
	}
	sec := int64(*ts)
	t := time.Unix(sec, int64((*ts-float64(sec))*float64(time.Second))).UTC()
	return &t
}

// Summarize condenses st. A nil st means no stage has run yet.
func Summarize(st *Status, enabled bool) Summary {
	sum := Summary{
		Stages:            []StageSummary{},
		Errors:            []string{},
		RecoverableErrors: []string{},
	}
	if !enabled {
		sum.State = StateDisabled
		return sum
	}
	if st == nil {
		sum.State = StateNotStarted
		return sum
	}

	v1 := st.V1
	sum.Datasource = v1.Datasource
	sum.BootID = v1.BootID
	sum.LastUpdate = v1.LastUpdate

	started := false
	for _, key := range StageKeys {
		rec, _ := v1.ForStage(key)
		ss := StageSummary{
			Name:              key,
			State:             StateNotStarted,
			Start:             fromTimestamp(rec.Start),
			Finished:          fromTimestamp(rec.Finished),
			Errors:            nonNil(rec.Errors),
			RecoverableErrors: nonNil(rec.RecoverableErrors),
		}
		switch {
		case rec.Done() && len(rec.Errors) > 0:
			ss.State = StateError
		case rec.Done() && len(rec.RecoverableErrors) > 0:
			ss.State = StateDegraded
		case rec.Done():
			ss.State = StateDone
		case rec.Started():
			ss.State = StateRunning
		}
		started = started || rec.Started()
		sum.Stages = append(sum.Stages, ss)
		sum.Errors = append(sum.Errors, ss.Errors...)
		sum.RecoverableErrors = append(sum.RecoverableErrors, ss.RecoverableErrors...)
	}

	switch {
	case v1.Stage != nil:
		sum.State = StateRunning
		sum.Stage = *v1.Stage
	case len(sum.Errors) > 0:
		sum.State = StateError
	case v1.ModulesFinal.Done() && len(sum.RecoverableErrors) > 0:
		sum.State = StateDegraded
	case v1.ModulesFinal.Done():
		sum.State = StateDone
	case started:
		sum.State = StateRunning
	default:
		sum.State = StateNotStarted
	}
	return sum
}

// Load reads the status files under p and summarizes them.
func Load(p *paths.Paths) Summary {
	if disabled, reason := Disabled(p); disabled {
		sum := Summarize(nil, false)
		sum.Detail = reason
		return sum
	}
	st, err := Read(p)
	if errors.Is(err, ErrNotRun) {
		return Summarize(nil, true)
	}
	if err != nil {
		sum := Summarize(nil, true)
		sum.State = StateError
		sum.Errors = append(sum.Errors, err.Error())
		return sum
	}
	return Summarize(st, true)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
