// Package status records boot progress in status.json and result.json and
// summarizes it for "cinit status".
package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

const (
	// StatusFile tracks every stage of the current boot.
	StatusFile = "status.json"
	// ResultFile is written once the final stage is done.
	ResultFile = "result.json"
	// EnabledMarker is created by the generator when cinit should run.
	EnabledMarker = "enabled"
	// DisabledMarker is created by the generator when cinit is disabled.
	// It holds the reason.
	DisabledMarker = "disabled"
)

// Stage keys in boot order.
const (
	StageLocal   = "init-local"
	StageNetwork = "init"
	StageConfig  = "modules-config"
	StageFinal   = "modules-final"
)

// StageKeys lists the tracked stages in boot order.
var StageKeys = []string{StageLocal, StageNetwork, StageConfig, StageFinal}

// ErrNotRun is returned by Read before any stage has written status.
var ErrNotRun = errors.New("cinit has not run")

// ErrUnknownStage is returned for stage keys outside StageKeys.
var ErrUnknownStage = errors.New("unknown stage")

// StageStatus is the record of one stage.
type StageStatus struct {
	Start             *float64 `json:"start"`
	Finished          *float64 `json:"finished"`
	Errors            []string `json:"errors"`
	RecoverableErrors []string `json:"recoverable_errors"`
}

// Started reports whether the stage began.
func (s *StageStatus) Started() bool { return s != nil && s.Start != nil }

// Done reports whether the stage finished.
func (s *StageStatus) Done() bool { return s != nil && s.Finished != nil }

// V1 is the versioned body of status.json.
type V1 struct {
	Datasource    string      `json:"datasource"`
	Stage         *string     `json:"stage"`
	BootID        string      `json:"boot_id"`
	RunID         string      `json:"run_id"`
	LastUpdate    string      `json:"last_update"`
	InitLocal     StageStatus `json:"init-local"`
	Init          StageStatus `json:"init"`
	ModulesConfig StageStatus `json:"modules-config"`
	ModulesFinal  StageStatus `json:"modules-final"`
}

// ForStage returns the record for key.
func (v *V1) ForStage(key string) (*StageStatus, error) {
	switch key {
	case StageLocal:
		return &v.InitLocal, nil
	case StageNetwork:
		return &v.Init, nil
	case StageConfig:
		return &v.ModulesConfig, nil
	case StageFinal:
		return &v.ModulesFinal, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStage, key)
}

// Status is the content of status.json.
type Status struct {
	V1 V1 `json:"v1"`
}

// Result is the content of result.json.
type Result struct {
	V1 struct {
		Datasource string   `json:"datasource"`
		Errors     []string `json:"errors"`
	} `json:"v1"`
}

// Read loads status.json.
func Read(p *paths.Paths) (*Status, error) {
	var st Status
	err := utils.ReadJSON(p.RunFile(StatusFile), &st)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	return &st, nil
}

// ReadResult loads result.json.
func ReadResult(p *paths.Paths) (*Result, error) {
	var res Result
	err := utils.ReadJSON(p.RunFile(ResultFile), &res)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	return &res, nil
}

// Disabled reports whether the generator disabled cinit for this boot, and
// why.
func Disabled(p *paths.Paths) (bool, string) {
	data, err := os.ReadFile(p.RunFile(DisabledMarker))
	if err != nil {
		return false, ""
	}
	return true, strings.TrimSpace(string(data))
}

// Tracker updates status.json as stages start and finish.
type Tracker struct {
	paths *paths.Paths

	mu     sync.Mutex
	status Status
}

// NewTracker loads the status of the current boot, or starts a fresh one
// when the file is missing or belongs to another boot.
func NewTracker(p *paths.Paths, bootID string) *Tracker {
	t := &Tracker{paths: p}
	if st, err := Read(p); err == nil && st.V1.BootID == bootID {
		t.status = *st
	}
	t.status.V1.BootID = bootID
	t.status.V1.RunID = uuid.NewString()
	return t
}

// Status returns a copy of the tracked status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetDatasource records the datasource used for this boot.
func (t *Tracker) SetDatasource(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.V1.Datasource = name
	return t.save()
}

// Start marks stage as running and clears its previous outcome.
func (t *Tracker) Start(stage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.status.V1.ForStage(stage)
	if err != nil {
		return err
	}
	now := timestamp(time.Now())
	*st = StageStatus{Start: &now, Errors: []string{}, RecoverableErrors: []string{}}
	t.status.V1.Stage = &stage
	return t.save()
}

// Finish marks stage as done with its fatal and recoverable errors.
func (t *Tracker) Finish(stage string, errs, recoverable []error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.status.V1.ForStage(stage)
	if err != nil {
		return err
	}
	now := timestamp(time.Now())
	if st.Start == nil {
		st.Start = &now
	}
	st.Finished = &now
	st.Errors = appendMessages(st.Errors, errs)
	st.RecoverableErrors = appendMessages(st.RecoverableErrors, recoverable)
	t.status.V1.Stage = nil
	return t.save()
}

// WriteResult writes result.json from the errors of every stage.
func (t *Tracker) WriteResult() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res Result
	res.V1.Datasource = t.status.V1.Datasource
	res.V1.Errors = []string{}
	for _, key := range StageKeys {
		st, _ := t.status.V1.ForStage(key)
		res.V1.Errors = append(res.V1.Errors, st.Errors...)
	}
	return utils.WriteJSONAtomic(t.paths.RunFile(ResultFile), res, 0644)
}

func (t *Tracker) save() error {
	t.status.V1.LastUpdate = time.Now().UTC().Format(time.RFC1123)
	if err := utils.WriteJSONAtomic(t.paths.RunFile(StatusFile), t.status, 0644); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

func timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func appendMessages(dst []string, errs []error) []string {
	if dst == nil {
		dst = []string{}
	}
	for _, err := range errs {
		if err != nil {
			dst = append(dst, err.Error())
		}
	}
	return dst
}

// Wait polls status until the boot is done, failed or disabled.
func Wait(ctx context.Context, p *paths.Paths, interval time.Duration) (Summary, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sum := Load(p)
		if sum.State.Terminal() {
			return sum, nil
		}
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		case <-ticker.C:
		}
	}
}
