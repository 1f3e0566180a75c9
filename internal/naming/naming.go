// Package naming maps (group, device, command) tuples to output artifacts:
// path-safe tokens, templated file names, and templated bodies.
package naming

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// DefaultFilenameTemplate yields one file per (group, device, command).
const DefaultFilenameTemplate = "{prefix}{cmd_file_name}__{device_name}__{command}{suffix}"

// DefaultSuffix is the extension appended to generated file names.
const DefaultSuffix = ".txt"

// DefaultBodyTemplate frames each command's output with a banner.
const DefaultBodyTemplate = `=============================================================
== Device: {device}
== Command: {command}
== Timestamp: {time}
=============================================================
{output}
`

// maxCommandToken caps the sanitized command portion of a file name.
const maxCommandToken = 30

// Sanitize keeps letters, digits, spaces, hyphens, and underscores, drops
// everything else, trims surrounding whitespace, and replaces the remaining
// spaces with underscores. It is the single normalization applied wherever
// a string becomes part of a path or identifier. Idempotent.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

// CommandToken derives the file-name token for a command: Sanitize truncated
// to at most 30 characters. Truncation happens on the sanitized string so a
// cut never lands inside characters the sanitizer would have dropped anyway.
func CommandToken(command string) string {
	t := Sanitize(command)
	runes := []rune(t)
	if len(runes) > maxCommandToken {
		return string(runes[:maxCommandToken])
	}
	return t
}

// GroupID derives a command-group identifier from a file path: the base
// name minus a trailing ".txt", sanitized.
func GroupID(path string) string {
	base := filepath.Base(path)
	return Sanitize(strings.TrimSuffix(base, ".txt"))
}

// Namer renders output paths and bodies for collected command output.
type Namer struct {
	outputDir        string
	filenameTemplate string
	bodyTemplate     string
	prefix           string
	suffix           string
}

// Config holds the naming inputs resolved from flags and config files.
// Empty templates fall back to the defaults; Prefix and Suffix are used
// verbatim (an explicitly empty suffix is legal).
type Config struct {
	OutputDir        string
	FilenameTemplate string
	BodyTemplate     string
	Prefix           string
	Suffix           string
}

// New creates a Namer for the given output directory and templates.
func New(cfg Config) *Namer {
	n := &Namer{
		outputDir:        cfg.OutputDir,
		filenameTemplate: cfg.FilenameTemplate,
		bodyTemplate:     cfg.BodyTemplate,
		prefix:           cfg.Prefix,
		suffix:           cfg.Suffix,
	}
	if n.filenameTemplate == "" {
		n.filenameTemplate = DefaultFilenameTemplate
	}
	if n.bodyTemplate == "" {
		n.bodyTemplate = DefaultBodyTemplate
	}
	return n
}

// Path renders the artifact path for one command's output. The device name
// is sanitized here; groupID is expected to already be sanitized (group ids
// are produced by GroupID at load time). Templates that omit {command} (or
// reference no placeholders at all) are legal: colliding paths accumulate
// via append-mode writes. The rendered name is not validated to stay inside
// the output directory.
func (n *Namer) Path(groupID, deviceName, command string) string {
	name := strings.NewReplacer(
		"{prefix}", n.prefix,
		"{cmd_file_name}", groupID,
		"{device_name}", Sanitize(deviceName),
		"{command}", CommandToken(command),
		"{suffix}", n.suffix,
	).Replace(n.filenameTemplate)
	return filepath.Join(n.outputDir, name)
}

// Body renders the artifact body for one command's output. The device name
// and command are embedded raw (only file names are sanitized), and the
// output payload is included as-is: arbitrary bytes and newlines pass
// through untouched.
func (n *Namer) Body(deviceName, groupID, command string, ts time.Time, output string) string {
	return strings.NewReplacer(
		"{device}", deviceName,
		"{cmd_file_name}", groupID,
		"{command}", command,
		"{time}", ts.Format(time.DateTime),
		"{output}", output,
	).Replace(n.bodyTemplate)
}
