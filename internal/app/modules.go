package app

import (
	"github.com/vk/modkit/internal/extension"
	"github.com/vk/modkit/modules/heartbeat"
)

// coreModules is the definitive list of all extension modules compiled into
// the modkit binary. A mod's assemblyFile field picks one by its registered
// name.
var coreModules = []extension.Module{
	&heartbeat.Module{},
}
