package host

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modkit/internal/assets"
	"github.com/vk/modkit/internal/extension"
)

type fakeHost struct{}

func (fakeHost) ModName() string          { return "test" }
func (fakeHost) Logger() *slog.Logger     { return slog.Default() }
func (fakeHost) Assets() *assets.Registry { return assets.NewRegistry() }

// trackedExt records lifecycle calls. It has fields so it is a real heap
// allocation and the collectibility probe applies.
type trackedExt struct {
	loads   int
	ticks   int
	unloads int
}

func (e *trackedExt) Load(context.Context, extension.Host) error { e.loads++; return nil }
func (e *trackedExt) Tick(context.Context) error                 { e.ticks++; return nil }
func (e *trackedExt) Unload(context.Context) error               { e.unloads++; return nil }

func newRegistryWith(t *testing.T, name string, ctor extension.Constructor) *extension.Registry {
	t.Helper()
	r := extension.NewRegistry()
	r.Register(name, ctor)
	return r
}

func TestLoadRunsLoadHook(t *testing.T) {
	t.Parallel()
	var created *trackedExt
	reg := newRegistryWith(t, "gameplay", func() extension.Extension {
		created = &trackedExt{}
		return created
	})
	h := New(reg)

	inst, err := h.Load(context.Background(), "gameplay", fakeHost{})
	require.NoError(t, err)
	assert.Equal(t, 1, created.loads)
	assert.Equal(t, "gameplay", inst.Ref())
	assert.Same(t, created, inst.Extension())
}

func TestLoadUnknownRef(t *testing.T) {
	t.Parallel()
	h := New(extension.NewRegistry())
	_, err := h.Load(context.Background(), "ghost", fakeHost{})
	assert.Error(t, err)
}

func TestLoadEmptyRefIsNoOp(t *testing.T) {
	t.Parallel()
	h := New(extension.NewRegistry())
	inst, err := h.Load(context.Background(), "", fakeHost{})
	require.NoError(t, err)
	assert.IsType(t, &extension.NoOp{}, inst.Extension())

	// No-op instances are trivially collectible; unload must not wait.
	start := time.Now()
	require.NoError(t, inst.Unload(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerationsIncrease(t *testing.T) {
	t.Parallel()
	reg := newRegistryWith(t, "gameplay", func() extension.Extension { return &trackedExt{} })
	h := New(reg)

	first, err := h.Load(context.Background(), "gameplay", fakeHost{})
	require.NoError(t, err)
	second, err := h.Load(context.Background(), "gameplay", fakeHost{})
	require.NoError(t, err)
	assert.Greater(t, second.Generation(), first.Generation())
}

func TestUnloadWaitsForCollection(t *testing.T) {
	t.Parallel()
	reg := newRegistryWith(t, "gameplay", func() extension.Extension { return &trackedExt{} })
	h := New(reg)

	inst, err := h.Load(context.Background(), "gameplay", fakeHost{})
	require.NoError(t, err)

	require.NoError(t, inst.Unload(context.Background()))
	assert.Nil(t, inst.Extension(), "extension reference must be dropped by unload")

	// Unloading again is a no-op.
	require.NoError(t, inst.Unload(context.Background()))
}

func TestUnloadFailsWhileReferenceIsHeld(t *testing.T) {
	t.Parallel()
	reg := newRegistryWith(t, "gameplay", func() extension.Extension { return &trackedExt{} })
	h := New(reg)

	inst, err := h.Load(context.Background(), "gameplay", fakeHost{})
	require.NoError(t, err)

	// Simulate a leaked reference: the test keeps the extension alive, so
	// the collectibility wait must expire instead of hanging forever.
	leaked := inst.Extension()
	require.NotNil(t, leaked)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = inst.Unload(ctx)
	require.ErrorIs(t, err, ErrNotCollected)

	// Keep the leaked reference live past the unload attempt.
	assert.Equal(t, 1, leaked.(*trackedExt).unloads)
}
