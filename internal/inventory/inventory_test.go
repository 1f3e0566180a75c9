package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", name, err)
	}
	return path
}

func TestLoadGroups(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "daily-check.txt", `! morning sweep
show version

  show interfaces brief
! trailer comment
show route summary
`)

	var l Loader
	groups := l.LoadGroups([]string{path})
	if len(groups) != 1 {
		t.Fatalf("LoadGroups returned %d groups, want 1", len(groups))
	}
	if groups[0].ID != "daily-check" {
		t.Errorf("group ID = %q, want %q", groups[0].ID, "daily-check")
	}
	want := []string{"show version", "show interfaces brief", "show route summary"}
	if !reflect.DeepEqual(groups[0].Commands, want) {
		t.Errorf("commands = %v, want %v", groups[0].Commands, want)
	}
}

func TestLoadGroupsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "show version\n")
	writeFile(t, dir, "a.txt", "show platform\n")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatalf("Mkdir error: %v", err)
	}
	writeFile(t, filepath.Join(dir, "nested"), "c.txt", "show inventory\n")

	var l Loader
	groups := l.LoadGroups([]string{dir})
	if len(groups) != 2 {
		t.Fatalf("LoadGroups returned %d groups, want 2 (no recursion)", len(groups))
	}
	if groups[0].ID != "a" || groups[1].ID != "b" {
		t.Errorf("group IDs = %q, %q, want a, b", groups[0].ID, groups[1].ID)
	}
}

func TestLoadGroupsMissingPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "real.txt", "show version\n")

	var warnings []string
	l := Loader{Warnf: func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}}

	groups := l.LoadGroups([]string{filepath.Join(dir, "no-such-file.txt"), path})
	if len(groups) != 1 {
		t.Fatalf("LoadGroups returned %d groups, want 1", len(groups))
	}
	if groups[0].ID != "real" {
		t.Errorf("group ID = %q, want %q", groups[0].ID, "real")
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
}

func TestLoadGroupsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.txt", "! nothing but comments\n\n")

	var l Loader
	groups := l.LoadGroups([]string{path})
	if len(groups) != 1 {
		t.Fatalf("LoadGroups returned %d groups, want 1", len(groups))
	}
	if len(groups[0].Commands) != 0 {
		t.Errorf("commands = %v, want none", groups[0].Commands)
	}
}

func TestLoadHosts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pops.txt", `# core routers
10.1.1.1
10.1.1.2 edge router two
router3.example.net	router3
10.1.1.2 edge router two
`)

	var l Loader
	hosts := l.LoadHosts([]string{path})
	want := []HostEntry{
		{Address: "10.1.1.1", DisplayName: "10.1.1.1"},
		{Address: "10.1.1.2", DisplayName: "edge router two"},
		{Address: "router3.example.net", DisplayName: "router3"},
		{Address: "10.1.1.2", DisplayName: "edge router two"},
	}
	if !reflect.DeepEqual(hosts, want) {
		t.Errorf("LoadHosts = %v, want %v", hosts, want)
	}
}

func TestLoadInitCommands(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "init.txt", "terminal length 0\nterminal width 512\n")
	second := writeFile(t, dir, "more.txt", "! extras\nterminal monitor disable\n")

	var l Loader
	cmds := l.LoadInitCommands([]string{first, second})
	want := []string{"terminal length 0", "terminal width 512", "terminal monitor disable"}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("LoadInitCommands = %v, want %v", cmds, want)
	}
}

func TestParseHostLine(t *testing.T) {
	tests := []struct {
		line string
		want HostEntry
	}{
		{"10.0.0.1", HostEntry{"10.0.0.1", "10.0.0.1"}},
		{"10.0.0.1 core", HostEntry{"10.0.0.1", "core"}},
		{"10.0.0.1   spaced   name", HostEntry{"10.0.0.1", "spaced   name"}},
		{"10.0.0.1\ttabbed", HostEntry{"10.0.0.1", "tabbed"}},
	}
	for _, tt := range tests {
		if got := parseHostLine(tt.line); got != tt.want {
			t.Errorf("parseHostLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
