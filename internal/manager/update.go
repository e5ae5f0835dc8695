package manager

import (
	"context"
)

// Update ticks every loaded mod once, in name order. A tick failure is
// logged against its mod and does not stop the pass; the first failure is
// returned so callers can count bad ticks.
func (m *Manager) Update(ctx context.Context) error {
	var first error
	for _, mod := range m.mods.loaded() {
		inst := mod.Instance()
		if inst == nil {
			continue
		}
		ext := inst.Extension()
		if ext == nil {
			// Mid-reload: the module is between unload and load.
			continue
		}
		if err := ext.Tick(ctx); err != nil {
			m.logger.Error("Mod tick failed.", "mod", mod.Name(), "error", err)
			if first == nil {
				first = &LoadError{Mod: mod.Name(), Err: err}
			}
		}
	}
	return first
}
