// Package heartbeat is a small builtin extension: it logs a pulse every few
// update ticks and, when its mod ships a greeting asset, says hello with it.
// It doubles as the reference implementation of the extension contract.
package heartbeat

import (
	"context"
	"strings"

	"github.com/vk/modkit/internal/extension"
)

// defaultEvery is how many ticks pass between pulses.
const defaultEvery = 60

// Module registers the heartbeat constructor.
type Module struct{}

// Register implements extension.Module.
func (*Module) Register(r *extension.Registry) {
	r.Register("heartbeat", func() extension.Extension {
		return &Heartbeat{every: defaultEvery}
	})
}

// Heartbeat counts update ticks and logs a pulse every N of them.
type Heartbeat struct {
	every    int
	ticks    int
	greeting string
	host     extension.Host
}

// Load implements extension.Extension. The greeting asset is optional; a
// mod without one just pulses silently.
func (h *Heartbeat) Load(ctx context.Context, host extension.Host) error {
	h.host = host

	if handle, err := host.Assets().Fetch(ctx, host.ModName()+":/greeting"); err == nil {
		if v, err := handle.Await(ctx); err == nil {
			if b, ok := v.([]byte); ok {
				h.greeting = strings.TrimSpace(string(b))
			}
		}
	}

	if h.greeting != "" {
		host.Logger().Info("💓 Heartbeat ready.", "greeting", h.greeting)
	} else {
		host.Logger().Info("💓 Heartbeat ready.")
	}
	return nil
}

// Tick implements extension.Extension.
func (h *Heartbeat) Tick(context.Context) error {
	h.ticks++
	if h.ticks%h.every == 0 {
		h.host.Logger().Info("💓 Heartbeat.", "ticks", h.ticks)
	}
	return nil
}

// Unload implements extension.Extension.
func (h *Heartbeat) Unload(context.Context) error {
	h.host = nil
	return nil
}
