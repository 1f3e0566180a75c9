// Package inventory loads the declarative inputs of a collection run:
// host lists and command groups, as line-oriented text files.
package inventory

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/agent462/muster/internal/naming"
)

// Comment characters for the two file grammars.
const (
	HostComment    = '#'
	CommandComment = '!'
)

// CommandGroup is a named, ordered set of commands originating from one
// input file (directories contribute one group per contained file).
type CommandGroup struct {
	ID       string
	Commands []string
}

// HostEntry is one line of a host file: an address to dial and the display
// name used in output paths and reports. DisplayName falls back to Address
// when the line has no second token. Duplicates are kept and processed
// independently.
type HostEntry struct {
	Address     string
	DisplayName string
}

// Loader reads host and command files. Wherever an input path is missing or
// unreadable the Loader warns and skips rather than failing the run; empty
// results are legal and the caller decides whether they are fatal.
type Loader struct {
	// Warnf receives non-fatal input problems. Nil discards them.
	Warnf func(format string, args ...any)
}

func (l *Loader) warnf(format string, args ...any) {
	if l.Warnf != nil {
		l.Warnf(format, args...)
	}
}

// LoadGroups reads command files (or directories of command files) into
// CommandGroups. Lines beginning with '!' and blank lines are dropped;
// group ids derive from the sanitized file base name.
func (l *Loader) LoadGroups(paths []string) []CommandGroup {
	return l.loadLines(paths, CommandComment)
}

// LoadInitCommands reads init-command files with the command grammar and
// flattens them into a single ordered sequence.
func (l *Loader) LoadInitCommands(paths []string) []string {
	var cmds []string
	for _, g := range l.loadLines(paths, CommandComment) {
		cmds = append(cmds, g.Commands...)
	}
	return cmds
}

// LoadHosts reads host files into HostEntries, preserving file order. Each
// effective line splits on its first whitespace run into address and display
// name; lines beginning with '#' and blank lines are dropped.
func (l *Loader) LoadHosts(paths []string) []HostEntry {
	var hosts []HostEntry
	for _, g := range l.loadLines(paths, HostComment) {
		for _, line := range g.Commands {
			hosts = append(hosts, parseHostLine(line))
		}
	}
	return hosts
}

// loadLines expands paths (directories one level deep), reads each file,
// and keeps non-blank, non-comment lines in order.
func (l *Loader) loadLines(paths []string, comment byte) []CommandGroup {
	var groups []CommandGroup
	for _, path := range l.expandPaths(paths) {
		lines, err := readEffectiveLines(path, comment)
		if err != nil {
			l.warnf("skipping %s: %v", path, err)
			continue
		}
		groups = append(groups, CommandGroup{
			ID:       naming.GroupID(path),
			Commands: lines,
		})
	}
	return groups
}

// expandPaths replaces directory paths with the regular files they contain
// (non-recursive, name order) and drops paths that do not exist.
func (l *Loader) expandPaths(paths []string) []string {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.warnf("invalid path %s: %v", path, err)
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			l.warnf("invalid path %s: %v", path, err)
			continue
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}
	return files
}

func readEffectiveLines(path string, comment byte) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == comment {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// parseHostLine splits a trimmed host line on the first whitespace run.
func parseHostLine(line string) HostEntry {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return HostEntry{Address: line, DisplayName: line}
	}
	return HostEntry{
		Address:     line[:i],
		DisplayName: strings.TrimSpace(line[i:]),
	}
}
