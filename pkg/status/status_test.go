package status

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

func TestRead_NotRun(t *testing.T) {
	_, err := Read(paths.New(t.TempDir()))

	assert.ErrorIs(t, err, ErrNotRun)
}

func TestTracker_Lifecycle(t *testing.T) {
	p := paths.New(t.TempDir())
	tr := NewTracker(p, "boot-1")

	require.NoError(t, tr.Start(StageLocal))
	st, err := Read(p)
	require.NoError(t, err)
	require.NotNil(t, st.V1.Stage)
	assert.Equal(t, StageLocal, *st.V1.Stage)
	assert.Equal(t, "boot-1", st.V1.BootID)
	assert.NotEmpty(t, st.V1.RunID)
	assert.True(t, st.V1.InitLocal.Started())
	assert.False(t, st.V1.InitLocal.Done())

	require.NoError(t, tr.SetDatasource("NoCloud"))
	require.NoError(t, tr.Finish(StageLocal, nil, []error{errors.New("module x failed")}))

	st, err = Read(p)
	require.NoError(t, err)
	assert.Nil(t, st.V1.Stage)
	assert.Equal(t, "NoCloud", st.V1.Datasource)
	assert.True(t, st.V1.InitLocal.Done())
	assert.Equal(t, []string{"module x failed"}, st.V1.InitLocal.RecoverableErrors)
	assert.Equal(t, []string{}, st.V1.InitLocal.Errors)
}

func TestTracker_UnknownStage(t *testing.T) {
	tr := NewTracker(paths.New(t.TempDir()), "b")

	assert.ErrorIs(t, tr.Start("generator"), ErrUnknownStage)
}

func TestNewTracker_ResumesSameBoot(t *testing.T) {
	p := paths.New(t.TempDir())
	first := NewTracker(p, "boot-1")
	require.NoError(t, first.Start(StageLocal))
	require.NoError(t, first.Finish(StageLocal, nil, nil))

	same := NewTracker(p, "boot-1")
	sameStatus := same.Status()
	assert.True(t, sameStatus.V1.InitLocal.Done())
	assert.NotEqual(t, first.Status().V1.RunID, same.Status().V1.RunID)

	next := NewTracker(p, "boot-2")
	nextStatus := next.Status()
	assert.False(t, nextStatus.V1.InitLocal.Started(), "a new boot starts from scratch")
}

func TestWriteResult(t *testing.T) {
	p := paths.New(t.TempDir())
	tr := NewTracker(p, "b")
	require.NoError(t, tr.SetDatasource("Ec2"))
	require.NoError(t, tr.Start(StageNetwork))
	require.NoError(t, tr.Finish(StageNetwork, []error{errors.New("no datasource")}, nil))

	require.NoError(t, tr.WriteResult())

	res, err := ReadResult(p)
	require.NoError(t, err)
	assert.Equal(t, "Ec2", res.V1.Datasource)
	assert.Equal(t, []string{"no datasource"}, res.V1.Errors)
}

func runStages(t *testing.T, tr *Tracker, keys []string, recoverable, fatal map[string]error) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, tr.Start(k))
		var errs, rec []error
		if err := fatal[k]; err != nil {
			errs = append(errs, err)
		}
		if err := recoverable[k]; err != nil {
			rec = append(rec, err)
		}
		require.NoError(t, tr.Finish(k, errs, rec))
	}
}

func TestSummarize(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name        string
		keys        []string
		recoverable map[string]error
		fatal       map[string]error
		running     string
		want        State
		wantExit    int
	}{
		{name: "done", keys: StageKeys, want: StateDone, wantExit: 0},
		{name: "partial", keys: StageKeys[:2], want: StateRunning, wantExit: 0},
		{name: "in progress", keys: StageKeys[:1], running: StageNetwork, want: StateRunning, wantExit: 0},
		{name: "degraded", keys: StageKeys, recoverable: map[string]error{StageConfig: boom}, want: StateDegraded, wantExit: 2},
		{name: "error", keys: StageKeys[:2], fatal: map[string]error{StageNetwork: boom}, want: StateError, wantExit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paths.New(t.TempDir())
			tr := NewTracker(p, "b")
			runStages(t, tr, tt.keys, tt.recoverable, tt.fatal)
			if tt.running != "" {
				require.NoError(t, tr.Start(tt.running))
			}

			sum := Load(p)

			assert.Equal(t, tt.want, sum.State)
			assert.Equal(t, tt.wantExit, sum.ExitCode())
			assert.Len(t, sum.Stages, len(StageKeys))
		})
	}
}

func TestSummarize_StageDetails(t *testing.T) {
	p := paths.New(t.TempDir())
	tr := NewTracker(p, "b")
	runStages(t, tr, StageKeys[:2], map[string]error{StageNetwork: errors.New("runcmd failed")}, nil)

	sum := Load(p)

	assert.Equal(t, StateDone, sum.Stages[0].State)
	assert.Equal(t, StateDegraded, sum.Stages[1].State)
	assert.Equal(t, StateNotStarted, sum.Stages[2].State)
	require.NotNil(t, sum.Stages[0].Start)
	assert.GreaterOrEqual(t, sum.Stages[0].Duration(), time.Duration(0))
	assert.Equal(t, []string{"runcmd failed"}, sum.RecoverableErrors)
	assert.Equal(t, 2, sum.ExitCode())
}

func TestLoad_DisabledAndNotStarted(t *testing.T) {
	p := paths.New(t.TempDir())
	assert.Equal(t, StateNotStarted, Load(p).State)

	require.NoError(t, utils.WriteFileAtomic(p.RunFile(DisabledMarker), []byte("disabled by kernel command line\n"), 0644))
	sum := Load(p)
	assert.Equal(t, StateDisabled, sum.State)
	assert.Equal(t, "disabled by kernel command line", sum.Detail)
	assert.Equal(t, 0, sum.ExitCode())
}

func TestLoad_Corrupt(t *testing.T) {
	p := paths.New(t.TempDir())
	require.NoError(t, os.MkdirAll(p.RunDir, 0755))
	require.NoError(t, os.WriteFile(p.RunFile(StatusFile), []byte("{not json"), 0644))

	assert.Equal(t, StateError, Load(p).State)
}

func TestWait(t *testing.T) {
	p := paths.New(t.TempDir())
	tr := NewTracker(p, "b")
	runStages(t, tr, StageKeys[:3], nil, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = tr.Start(StageFinal)
		_ = tr.Finish(StageFinal, nil, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := Wait(ctx, p, 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, StateDone, sum.State)
}

func TestWait_ContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	sum, err := Wait(ctx, paths.New(t.TempDir()), 5*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateNotStarted, sum.State)
}
