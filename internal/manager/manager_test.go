package manager_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/extension"
	"github.com/vk/modkit/internal/manager"
	"github.com/vk/modkit/internal/testutil"
)

type fixture struct {
	mgr *manager.Manager
	rec *testutil.Recorder
	log *testutil.SafeBuffer
}

func newFixture(t *testing.T, files map[string]string, extNames ...string) *fixture {
	t.Helper()
	root := testutil.WriteModTree(t, files)
	rec := testutil.NewRecorder()
	buf := &testutil.SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mgr, err := manager.New(manager.Options{
		ModsRoot:        root,
		PollInterval:    time.Millisecond,
		MaxStalledPolls: 10,
	}, testutil.RegisterRecording(rec, extNames...), assets.NewRegistry(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return &fixture{mgr: mgr, rec: rec, log: buf}
}

func requireStatus(t *testing.T, mgr *manager.Manager, name string, want manager.Status) *manager.Mod {
	t.Helper()
	mod, ok := mgr.Mod(name)
	require.True(t, ok, "mod %q not in registry", name)
	require.Equal(t, want.String(), mod.Status().String(), "mod %q: %v", name, mod.Err())
	return mod
}

func TestLoadBatchOrdersByDependencies(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"UI/config.json":      testutil.Manifest("UI", "1.0.0", testutil.Dep("Physics", ">=1.0.0"), testutil.Dep("Core", ">=1.0.0")),
		"Core/config.json":    testutil.Manifest("Core", "1.0.0"),
		"Physics/config.json": testutil.Manifest("Physics", "2.1.0", testutil.Dep("Core", ">=1.0.0")),
	}, "Core", "Physics", "UI")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)
	requireStatus(t, fx.mgr, "Physics", manager.StatusLoaded)
	requireStatus(t, fx.mgr, "UI", manager.StatusLoaded)

	order := fx.rec.LoadOrder()
	require.Len(t, order, 3)
	assert.Equal(t, "Core", order[0], "Core has no dependencies and must load first")
	assert.Equal(t, "UI", order[2], "UI depends on both others and must load last")
}

func TestLoadBatchMissingDependencyFailsDependents(t *testing.T) {
	t.Parallel()
	// No Core directory at all: Physics and UI can never load.
	fx := newFixture(t, map[string]string{
		"Physics/config.json": testutil.Manifest("Physics", "2.1.0", testutil.Dep("Core", ">=1.0.0")),
		"UI/config.json":      testutil.Manifest("UI", "1.0.0", testutil.Dep("Physics", ">=2.0.0")),
	}, "Physics", "UI")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	physics := requireStatus(t, fx.mgr, "Physics", manager.StatusFailed)
	assert.Contains(t, physics.Err().Error(), "Core")

	ui := requireStatus(t, fx.mgr, "UI", manager.StatusFailed)
	assert.Error(t, ui.Err())

	assert.Empty(t, fx.rec.LoadOrder(), "nothing should have loaded")
}

func TestLoadBatchBadManifestIsPerModFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json":   testutil.Manifest("Core", "1.0.0"),
		"Broken/config.json": `{"id": {"name": }`,
	}, "Core")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)
	broken := requireStatus(t, fx.mgr, "Broken", manager.StatusFailed)
	assert.Error(t, broken.Err())
}

func TestLoadBatchMissingManifestIsPerModFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json": testutil.Manifest("Core", "1.0.0"),
		"Empty/readme.txt": "not a mod",
	}, "Core")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)
	requireStatus(t, fx.mgr, "Empty", manager.StatusFailed)
}

func TestLoadBatchCycleFailsBothMods(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"A/config.json":    testutil.Manifest("A", "1.0.0", testutil.Dep("B", ">=1.0.0")),
		"B/config.json":    testutil.Manifest("B", "1.0.0", testutil.Dep("A", ">=1.0.0")),
		"Solo/config.json": testutil.Manifest("Solo", "1.0.0"),
	}, "A", "B", "Solo")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	requireStatus(t, fx.mgr, "A", manager.StatusFailed)
	requireStatus(t, fx.mgr, "B", manager.StatusFailed)
	requireStatus(t, fx.mgr, "Solo", manager.StatusLoaded)
}

func TestLoadBatchOptionalDependencySkipped(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"UI/config.json": testutil.Manifest("UI", "1.0.0", testutil.OptionalDep("Themes", ">=1.0.0")),
	}, "UI")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))
	requireStatus(t, fx.mgr, "UI", manager.StatusLoaded)
}

func TestLoadBatchVersionRangeRejected(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json":    testutil.Manifest("Core", "1.0.0"),
		"Physics/config.json": testutil.Manifest("Physics", "1.0.0", testutil.Dep("Core", ">=2.0.0")),
	}, "Core", "Physics")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)
	physics := requireStatus(t, fx.mgr, "Physics", manager.StatusFailed)
	assert.Contains(t, physics.Err().Error(), "Core")
}

func TestLoadBatchFailedLoadHookFailsDependents(t *testing.T) {
	t.Parallel()
	root := testutil.WriteModTree(t, map[string]string{
		"Core/config.json":    testutil.Manifest("Core", "1.0.0"),
		"Physics/config.json": testutil.Manifest("Physics", "1.0.0", testutil.Dep("Core", ">=1.0.0")),
	})
	rec := testutil.NewRecorder()
	exts := extension.NewRegistry()
	exts.Register("Core", func() extension.Extension {
		return &testutil.RecordingExt{Rec: rec, LoadErr: assert.AnError}
	})
	exts.Register("Physics", func() extension.Extension {
		return &testutil.RecordingExt{Rec: rec}
	})

	mgr, err := manager.New(manager.Options{
		ModsRoot:        root,
		PollInterval:    time.Millisecond,
		MaxStalledPolls: 10,
	}, exts, assets.NewRegistry(), slog.Default())
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	require.NoError(t, mgr.LoadBatch(context.Background()))

	requireStatus(t, mgr, "Core", manager.StatusFailed)
	physics := requireStatus(t, mgr, "Physics", manager.StatusFailed)
	assert.Contains(t, physics.Err().Error(), "Core")
	assert.Equal(t, 0, rec.Count("Physics", "load"))
}

func TestLoadBatchContentOnlyMod(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json":         testutil.ContentOnlyManifest("Core", "1.0.0"),
		"Core/Content/texts/hello": "hello from core",
	})

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))
	requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)

	h, err := fx.mgr.Assets().Fetch(context.Background(), "Core:/texts/hello")
	require.NoError(t, err)
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello from core"), v)
}

func TestLoadBatchDuplicateNameConflict(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"CoreA/config.json": testutil.Manifest("Core", "1.0.0"),
		"CoreB/config.json": testutil.Manifest("Core", "1.1.0"),
	}, "Core")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	// Exactly one Core is live; the other directory's slot records the
	// conflict.
	core := requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)
	require.NotNil(t, core.Config())

	var conflicts int
	for _, mod := range fx.mgr.Mods() {
		if mod.Status() == manager.StatusFailed {
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)
}

func TestUpdateTicksOnlyLoadedMods(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json":    testutil.Manifest("Core", "1.0.0"),
		"Physics/config.json": testutil.Manifest("Physics", "1.0.0", testutil.Dep("Ghost", ">=1.0.0")),
	}, "Core", "Physics")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))
	require.NoError(t, fx.mgr.Update(context.Background()))
	require.NoError(t, fx.mgr.Update(context.Background()))

	assert.Equal(t, 2, fx.rec.Count("Core", "tick"))
	assert.Equal(t, 0, fx.rec.Count("Physics", "tick"))
}

func TestUpdateTickErrorDoesNotStopPass(t *testing.T) {
	t.Parallel()
	root := testutil.WriteModTree(t, map[string]string{
		"Angry/config.json": testutil.Manifest("Angry", "1.0.0"),
		"Calm/config.json":  testutil.Manifest("Calm", "1.0.0"),
	})
	rec := testutil.NewRecorder()
	exts := extension.NewRegistry()
	exts.Register("Angry", func() extension.Extension {
		return &testutil.RecordingExt{Rec: rec, TickErr: assert.AnError}
	})
	exts.Register("Calm", func() extension.Extension {
		return &testutil.RecordingExt{Rec: rec}
	})

	mgr, err := manager.New(manager.Options{ModsRoot: root}, exts, assets.NewRegistry(), slog.Default())
	require.NoError(t, err)
	defer mgr.Close(context.Background())

	require.NoError(t, mgr.LoadBatch(context.Background()))

	err = mgr.Update(context.Background())
	var loadErr *manager.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "Angry", loadErr.Mod)
	assert.Equal(t, 1, rec.Count("Calm", "tick"), "the failing mod must not block the others")
}

func TestReloadPreservesAssetCache(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json":          testutil.Manifest("Core", "1.0.0"),
		"Core/Content/greeting.txt": "v1",
	}, "Core")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))
	core := requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)
	firstGen := core.Instance().Generation()
	cacheBefore := core.Cache()
	require.NotNil(t, cacheBefore)

	h, err := fx.mgr.Assets().Fetch(context.Background(), "Core:/greeting")
	require.NoError(t, err)
	v, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, fx.mgr.Reload(context.Background(), "Core"))
	requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)

	assert.Same(t, cacheBefore, core.Cache(), "reload must keep the asset cache")
	assert.Greater(t, core.Instance().Generation(), firstGen)
	assert.Equal(t, 1, fx.rec.Count("Core", "unload"))
	assert.Equal(t, 2, fx.rec.Count("Core", "load"))

	// The cached value is still warm: no refresh happened.
	h, err = fx.mgr.Assets().Fetch(context.Background(), "Core:/greeting")
	require.NoError(t, err)
	v, err = h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestReloadUnknownAndUnloadedMods(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Broken/config.json": `not json`,
	})
	require.NoError(t, fx.mgr.LoadBatch(context.Background()))

	assert.Error(t, fx.mgr.Reload(context.Background(), "Ghost"))
	assert.ErrorIs(t, fx.mgr.Reload(context.Background(), "Broken"), manager.ErrNotLoaded)
}

func TestCloseUnloadsEverything(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json":          testutil.Manifest("Core", "1.0.0"),
		"Core/Content/greeting.txt": "hi",
	}, "Core")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))
	require.NoError(t, fx.mgr.Close(context.Background()))

	assert.Equal(t, 1, fx.rec.Count("Core", "unload"))
	assert.Empty(t, fx.mgr.Mods())

	_, err := fx.mgr.Assets().Fetch(context.Background(), "Core:/greeting")
	assert.Error(t, err, "closing must unregister the mod's asset prefix")
}

func TestModInfoReporting(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, map[string]string{
		"Core/config.json": testutil.Manifest("Core", "1.2.3"),
	}, "Core")

	require.NoError(t, fx.mgr.LoadBatch(context.Background()))
	core := requireStatus(t, fx.mgr, "Core", manager.StatusLoaded)

	info := core.Info()
	assert.Equal(t, "Core", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "loaded", info.Status)
	assert.Empty(t, info.Error)
}
