package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agent462/muster/internal/preset"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the builtin and config-defined command presets",
	RunE:  runPresets,
}

func runPresets(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	merged := preset.Merged(cfg)
	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i > 0 {
			fmt.Println()
		}
		p := merged[name]

		origin := ""
		if _, fromConfig := cfg.Presets[name]; fromConfig {
			origin = " (user)"
			if preset.IsBuiltin(name) {
				origin = " (user override)"
			}
		}
		if p.Description != "" {
			fmt.Printf("%s%s: %s\n", name, origin, p.Description)
		} else {
			fmt.Printf("%s%s\n", name, origin)
		}
		for _, c := range p.Commands {
			fmt.Printf("  %s\n", c)
		}
	}
	return nil
}
