package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuslens/internal/classify"
	"focuslens/internal/config"
	"focuslens/internal/ipc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DatabasePath: filepath.Join(dir, "focuslens.db"),
		SocketPath:   filepath.Join(dir, "fl.sock"),
		PollInterval: 50 * time.Millisecond,
		AFKThreshold: 3 * time.Minute,
		Detector: config.DetectorConfig{
			Shell:        "sh",
			Script:       "exit 0",
			ProbeCommand: "exit 1",
			ProbeTimeout: time.Second,
		},
		LLM: config.LLMConfig{Backend: "disabled"},
	}
}

func TestProcessCommand(t *testing.T) {
	a, err := NewApp(testConfig(t))
	require.NoError(t, err)
	defer a.storage.Close()

	resp := a.processCommand(ipc.Command{Name: ipc.CmdPing})
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdPause})
	assert.True(t, resp.Success)
	assert.True(t, a.engine.Paused())
	resp = a.processCommand(ipc.Command{Name: ipc.CmdPause})
	assert.Equal(t, "Tracking already paused", resp.Message)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdResume})
	assert.True(t, resp.Success)
	assert.False(t, a.engine.Paused())

	resp = a.processCommand(ipc.Command{
		Name: ipc.CmdSetAFKThreshold,
		Args: map[string]interface{}{"duration": "10s"},
	})
	assert.True(t, resp.Success)
	assert.Equal(t, "AFK threshold set to 30s", resp.Message)

	resp = a.processCommand(ipc.Command{
		Name: ipc.CmdSetAFKThreshold,
		Args: map[string]interface{}{"duration": "soon"},
	})
	assert.False(t, resp.Success)

	resp = a.processCommand(ipc.Command{Name: ipc.CmdGetStatus})
	require.True(t, resp.Success)
	st, ok := resp.Data.(ipc.StatusData)
	require.True(t, ok)
	assert.Equal(t, "30s", st.AFKThreshold)
	assert.False(t, st.Refine.Enabled)
	assert.Equal(t, "stopped", st.Detector)
	assert.Nil(t, st.SegmentSince, "no segment open before tracking starts")

	resp = a.processCommand(ipc.Command{Name: "explode"})
	assert.False(t, resp.Success)
}

func TestInvalidRulesRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classify.Rules = []classify.RuleSpec{{Name: "broken", App: "x", Categories: []string{"nonsense"}}}

	_, err := NewApp(cfg)
	assert.ErrorContains(t, err, "classify.rules")
}

func TestRunServesSocketAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApp(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	require.Eventually(t, func() bool {
		resp, err := ipc.Send(cfg.SocketPath, ipc.Command{Name: ipc.CmdPing})
		return err == nil && resp.Success
	}, 3*time.Second, 20*time.Millisecond)

	a.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.False(t, a.engine.Running())
}
