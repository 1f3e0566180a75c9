// Package preset provides named built-in command groups and their
// resolution against user-defined presets from the config file.
package preset

import (
	"github.com/agent462/muster/internal/config"
	"github.com/agent462/muster/internal/inventory"
	"github.com/agent462/muster/internal/naming"
)

// BuiltinPresets returns all built-in presets keyed by name.
func BuiltinPresets() map[string]config.Preset {
	return map[string]config.Preset{
		"version":    builtinVersion(),
		"health":     builtinHealth(),
		"interfaces": builtinInterfaces(),
		"routing":    builtinRouting(),
		"inventory":  builtinInventory(),
		"alarms":     builtinAlarms(),
	}
}

// IsBuiltin reports whether name is a built-in preset.
func IsBuiltin(name string) bool {
	_, ok := BuiltinPresets()[name]
	return ok
}

// Resolve looks up a preset by name. User-defined presets in cfg override
// built-ins. Returns the preset, whether a built-in exists for that name,
// and whether the preset was found at all.
func Resolve(name string, cfg *config.Config) (config.Preset, bool, bool) {
	_, isBuiltin := BuiltinPresets()[name]

	if cfg != nil {
		if p, ok := cfg.Presets[name]; ok {
			return p, isBuiltin, true
		}
	}

	if isBuiltin {
		return BuiltinPresets()[name], true, true
	}

	return config.Preset{}, false, false
}

// Merged returns built-in presets merged with user-defined presets.
// User presets override built-ins with the same name.
func Merged(cfg *config.Config) map[string]config.Preset {
	merged := make(map[string]config.Preset)
	for name, p := range BuiltinPresets() {
		merged[name] = p
	}
	if cfg != nil {
		for name, p := range cfg.Presets {
			merged[name] = p
		}
	}
	return merged
}

// Group converts a resolved preset into a command group whose id is the
// sanitized preset name, so preset output files name like file-based groups.
func Group(name string, p config.Preset) inventory.CommandGroup {
	return inventory.CommandGroup{
		ID:       naming.Sanitize(name),
		Commands: append([]string(nil), p.Commands...),
	}
}

// --- individual built-in presets ---

func builtinVersion() config.Preset {
	return config.Preset{
		Description: "Software version and active packages",
		Commands: []string{
			"show version",
			"show install active summary",
		},
	}
}

func builtinHealth() config.Preset {
	return config.Preset{
		Description: "Platform state, redundancy, environment, CPU and memory",
		Commands: []string{
			"show platform",
			"show redundancy summary",
			"show environment all",
			"show processes cpu",
			"show memory summary",
		},
	}
}

func builtinInterfaces() config.Preset {
	return config.Preset{
		Description: "Interface and neighbor state",
		Commands: []string{
			"show interfaces brief",
			"show ipv4 interface brief",
			"show lldp neighbors",
		},
	}
}

func builtinRouting() config.Preset {
	return config.Preset{
		Description: "Routing table and protocol adjacency summaries",
		Commands: []string{
			"show route summary",
			"show bgp all all summary",
			"show ospf neighbor",
			"show mpls ldp neighbor brief",
		},
	}
}

func builtinInventory() config.Preset {
	return config.Preset{
		Description: "Hardware inventory and diagnostics",
		Commands: []string{
			"show inventory",
			"show diag summary",
		},
	}
}

func builtinAlarms() config.Preset {
	return config.Preset{
		Description: "Active alarms and recent log entries",
		Commands: []string{
			"show alarms brief system active",
			"show logging last 100",
		},
	}
}
