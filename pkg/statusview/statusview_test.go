package statusview

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaspreet-dot-casa/cinit/pkg/status"
)

func sampleSummary(state status.State) status.Summary {
	start := time.Now().Add(-time.Minute)
	end := start.Add(1500 * time.Millisecond)
	return status.Summary{
		State:      state,
		Datasource: "NoCloud",
		BootID:     "boot-1",
		Stages: []status.StageSummary{
			{Name: status.StageLocal, State: status.StateDone, Start: &start, Finished: &end},
			{Name: status.StageNetwork, State: status.StateRunning, Start: &end},
			{Name: status.StageConfig, State: status.StateNotStarted},
		},
		Errors:            []string{},
		RecoverableErrors: []string{"module runcmd failed: exit status 1"},
	}
}

func TestStateColor(t *testing.T) {
	for _, s := range []status.State{
		status.StateDone, status.StateRunning, status.StateDegraded,
		status.StateError, status.StateDisabled, status.StateNotStarted,
	} {
		t.Run(string(s), func(t *testing.T) {
			assert.Contains(t, RenderState(s), string(s))
		})
	}
}

func TestRenderTable(t *testing.T) {
	sum := sampleSummary(status.StateRunning)

	short := RenderTable(sum, false)
	assert.Contains(t, short, "status:")
	assert.Contains(t, short, "running")
	assert.NotContains(t, short, "NoCloud")

	long := RenderTable(sum, true)
	assert.Contains(t, long, "NoCloud")
	assert.Contains(t, long, status.StageLocal)
	assert.Contains(t, long, "1.5s")
	assert.Contains(t, long, "recoverable errors:")
	assert.Contains(t, long, "module runcmd failed")
	assert.NotContains(t, long, "\nerrors:")
}

func TestModel_QuitsWhenDone(t *testing.T) {
	calls := 0
	m := NewWithLoader(func() status.Summary {
		calls++
		return sampleSummary(status.StateRunning)
	}, time.Millisecond)

	require.NotNil(t, m.Init())

	msg := m.refresh()
	updated, cmd := m.Update(msg)
	model := updated.(Model)
	assert.Equal(t, 1, calls)
	assert.False(t, model.Done())
	assert.NotNil(t, cmd)
	assert.Contains(t, model.View(), "waiting for boot to finish")

	updated, cmd = model.Update(SummaryMsg{Summary: sampleSummary(status.StateDone)})
	model = updated.(Model)
	assert.True(t, model.Done())
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, status.StateDone, model.Summary().State)
}

func TestModel_QuitKey(t *testing.T) {
	m := NewWithLoader(func() status.Summary { return status.Summary{} }, time.Second)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.True(t, updated.(Model).quitting)
}

func TestModel_ViewBeforeLoad(t *testing.T) {
	m := NewWithLoader(func() status.Summary { return status.Summary{} }, time.Second)

	assert.Contains(t, m.View(), "Reading status")
}
