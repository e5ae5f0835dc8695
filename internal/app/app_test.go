package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modkit/internal/app"
	"github.com/vk/modkit/internal/testutil"
)

func TestNewConfigRequiresModsRoot(t *testing.T) {
	t.Parallel()
	_, err := app.NewConfig(app.Config{})
	assert.Error(t, err)
}

func TestNewConfigDefaultsTickInterval(t *testing.T) {
	t.Parallel()
	cfg, err := app.NewConfig(app.Config{ModsRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Greater(t, cfg.TickInterval, time.Duration(0))
}

func TestAppRunLoadsTicksAndShutsDown(t *testing.T) {
	t.Parallel()
	// Core points at the builtin heartbeat extension.
	root := testutil.WriteModTree(t, map[string]string{
		"Core/config.json":          `{"id": {"name": "Core", "version": "1.0.0"}, "assemblyFile": "heartbeat"}`,
		"Core/Content/greeting.txt": "hello",
	})

	buf := &testutil.SafeBuffer{}
	cfg, err := app.NewConfig(app.Config{
		ModsRoot:     root,
		LogFormat:    "text",
		LogLevel:     "debug",
		TickInterval: time.Millisecond,
		TickCount:    3,
	})
	require.NoError(t, err)

	a := app.NewApp(buf, cfg)
	require.NoError(t, a.Run(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Mod loaded")
	assert.Contains(t, out, "Heartbeat ready")
	assert.Contains(t, out, "Update loop finished")
	assert.Empty(t, a.Manager().Mods(), "shutdown must clear the registry")
}

func TestAppRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	root := testutil.WriteModTree(t, map[string]string{
		"Core/config.json": `{"id": {"name": "Core", "version": "1.0.0"}}`,
	})

	buf := &testutil.SafeBuffer{}
	cfg, err := app.NewConfig(app.Config{
		ModsRoot:     root,
		LogFormat:    "text",
		TickInterval: time.Millisecond,
		TickCount:    -1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.NewApp(buf, cfg).Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean stop")
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop after context cancellation")
	}
}
