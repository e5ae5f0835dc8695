package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/modkit/internal/app"
	"github.com/vk/modkit/internal/extension"
	"github.com/vk/modkit/internal/manager"
	"github.com/vk/modkit/internal/testutil"
)

// recordingModule adapts the recording extension double to the compiled-in
// module contract, one constructor per name.
type recordingModule struct {
	rec   *testutil.Recorder
	names []string
}

func (m *recordingModule) Register(r *extension.Registry) {
	for _, name := range m.names {
		r.Register(name, func() extension.Extension {
			return &testutil.RecordingExt{Rec: m.rec}
		})
	}
}

// newTestApp builds an app over a materialized mod tree with recording
// extensions registered under the given names.
func newTestApp(t *testing.T, files map[string]string, cfg app.Config, names ...string) (*app.App, *testutil.Recorder, *testutil.SafeBuffer) {
	t.Helper()
	cfg.ModsRoot = testutil.WriteModTree(t, files)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	full, err := app.NewConfig(cfg)
	require.NoError(t, err)

	rec := testutil.NewRecorder()
	buf := &testutil.SafeBuffer{}
	a := app.NewApp(buf, full, &recordingModule{rec: rec, names: names})
	return a, rec, buf
}

// loadAndCleanup runs one batch and registers the manager shutdown.
func loadAndCleanup(t *testing.T, a *app.App) *manager.Manager {
	t.Helper()
	mgr := a.Manager()
	require.NoError(t, mgr.LoadBatch(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return mgr
}

// rewriteFile overwrites one file under dir.
func rewriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
