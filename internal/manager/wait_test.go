package manager

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/extension"
	"github.com/vk/modkit/internal/manifest"
	"github.com/vk/modkit/internal/modid"
)

func newWaitManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Options{
		ModsRoot:        t.TempDir(),
		PollInterval:    time.Millisecond,
		MaxStalledPolls: 3,
	}, extension.NewRegistry(), assets.NewRegistry(), slog.Default())
	require.NoError(t, err)
	return m
}

func pendingMod(name string) *Mod {
	cfg := &manifest.Config{ID: modid.MustParse(name, "1.0.0")}
	return &Mod{name: name, status: StatusLoading, config: cfg}
}

func configWithDeps(name string, deps ...modid.Dependency) *manifest.Config {
	return &manifest.Config{ID: modid.MustParse(name, "1.0.0"), Dependencies: deps}
}

// A dependency that stays pending forever must trip the stall detector:
// the waiter raises the shared skip flag and then fails, because the
// missing dependency is a hard one.
func TestAwaitDependenciesStalledHardDependencyFails(t *testing.T) {
	t.Parallel()
	m := newWaitManager(t)
	require.NoError(t, m.mods.add(pendingMod("Core")))

	dep, err := modid.ParseDependency("Core", ">=1.0.0", false)
	require.NoError(t, err)
	cfg := configWithDeps("Physics", dep)
	require.NoError(t, m.mods.add(&Mod{name: "Physics", status: StatusConfigParsed, config: cfg}))

	batch := &batchState{}
	err = m.awaitDependencies(context.Background(), batch, cfg)

	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Contains(t, depErr.Error(), "Core")
	assert.True(t, batch.skip.Load(), "the stalled waiter must raise the shared skip flag")
}

// Under the skip flag a waiter missing only optional dependencies proceeds.
func TestAwaitDependenciesSkipProceedsWithoutOptional(t *testing.T) {
	t.Parallel()
	m := newWaitManager(t)
	require.NoError(t, m.mods.add(pendingMod("Telemetry")))

	dep, err := modid.ParseDependency("Telemetry", ">=1.0.0", true)
	require.NoError(t, err)
	cfg := configWithDeps("UI", dep)
	require.NoError(t, m.mods.add(&Mod{name: "UI", status: StatusConfigParsed, config: cfg}))

	batch := &batchState{}
	batch.skip.Store(true)
	assert.NoError(t, m.awaitDependencies(context.Background(), batch, cfg))
}

// A waiter observing its hard dependency fail stops immediately, without
// waiting for the stall bound.
func TestAwaitDependenciesFailedProviderFailsFast(t *testing.T) {
	t.Parallel()
	m := newWaitManager(t)
	failed := pendingMod("Core")
	failed.fail(assert.AnError)
	require.True(t, m.mods.put(failed), "put must accept a free slot")

	dep, err := modid.ParseDependency("Core", ">=1.0.0", false)
	require.NoError(t, err)
	cfg := configWithDeps("Physics", dep)
	require.NoError(t, m.mods.add(&Mod{name: "Physics", status: StatusConfigParsed, config: cfg}))

	var depErr *DependencyError
	err = m.awaitDependencies(context.Background(), &batchState{}, cfg)
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "Physics", depErr.Mod)
}

// A loaded provider outside the declared version range can never satisfy
// the dependency and counts as failed.
func TestDepStateVersionMismatchIsFailed(t *testing.T) {
	t.Parallel()
	m := newWaitManager(t)
	core := pendingMod("Core")
	core.markLoaded()
	require.NoError(t, m.mods.add(core))

	dep, err := modid.ParseDependency("Core", ">=2.0.0", false)
	require.NoError(t, err)
	assert.Equal(t, depFailed, m.mods.depState(dep))

	inRange, err := modid.ParseDependency("Core", ">=1.0.0", false)
	require.NoError(t, err)
	assert.Equal(t, depMet, m.mods.depState(inRange))
}

func TestRegistryAddRejectsLiveDuplicate(t *testing.T) {
	t.Parallel()
	m := newWaitManager(t)
	require.NoError(t, m.mods.add(pendingMod("Core")))
	assert.Error(t, m.mods.add(pendingMod("Core")))

	core, ok := m.mods.get("Core")
	require.True(t, ok)
	core.fail(assert.AnError)
	assert.NoError(t, m.mods.add(pendingMod("Core")), "a failed slot is replaceable")
}
