package naming

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"show version", "show_version"},
		{"show ip int brief | inc up", "show_ip_int_brief__inc_up"},
		{"  padded  ", "padded"},
		{"core-rtr_01", "core-rtr_01"},
		{"rp/0/rsp0/cpu0:router#", "rp0rsp0cpu0router"},
		{"", ""},
		{"!@#$%^&*()", ""},
		{"a\tb", "ab"},
		{"émission über", "émission_über"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"show version",
		"  show   running-config  ",
		"weird!chars@here",
		"already_sanitized-token",
		"",
		"ünïcode words",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestCommandToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"show version", "show_version"},
		{"show ip interface brief location 0/RSP0/CPU0", "show_ip_interface_brief_locati"},
		{"", ""},
		{"////", ""},
	}
	for _, tt := range tests {
		if got := CommandToken(tt.in); got != tt.want {
			t.Errorf("CommandToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandTokenLength(t *testing.T) {
	inputs := []string{
		strings.Repeat("show bgp vrf all neighbors detail ", 4),
		strings.Repeat("é", 60),
		"!@#$%",
		"short",
	}
	for _, in := range inputs {
		got := CommandToken(in)
		if n := utf8.RuneCountInString(got); n > 30 {
			t.Errorf("CommandToken(%q) has %d runes, want <= 30", in, n)
		}
	}
}

func TestGroupID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/cmds/xr-health.txt", "xr-health"},
		{"show commands.txt", "show_commands"},
		{"plain", "plain"},
		{"dir/sub/ospf.txt.txt", "ospftxt"},
	}
	for _, tt := range tests {
		if got := GroupID(tt.in); got != tt.want {
			t.Errorf("GroupID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPathDefaultTemplate(t *testing.T) {
	n := New(Config{OutputDir: "/out", Suffix: ".txt"})

	got := n.Path("daily", "router1", "show version")
	want := filepath.Join("/out", "daily__router1__show_version.txt")
	if got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestPathDistinctCommands(t *testing.T) {
	n := New(Config{OutputDir: "/out", Suffix: ".txt"})

	a := n.Path("g", "r1", "show version")
	b := n.Path("g", "r1", "show clock")
	if a == b {
		t.Fatalf("distinct commands produced the same path %q", a)
	}
}

func TestPathPrefixAndSuffix(t *testing.T) {
	n := New(Config{OutputDir: "/out", Prefix: "run42_", Suffix: ".log"})

	got := n.Path("g", "r1", "show clock")
	want := filepath.Join("/out", "run42_g__r1__show_clock.log")
	if got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestPathTemplateWithoutCommand(t *testing.T) {
	n := New(Config{
		OutputDir:        "/out",
		FilenameTemplate: "{cmd_file_name}-{device_name}{suffix}",
		Suffix:           ".txt",
	})

	a := n.Path("g", "r1", "show version")
	b := n.Path("g", "r1", "show clock")
	if a != b {
		t.Errorf("template without {command} should collide: %q vs %q", a, b)
	}
	want := filepath.Join("/out", "g-r1.txt")
	if a != want {
		t.Errorf("Path = %q, want %q", a, want)
	}
}

func TestPathConstantTemplate(t *testing.T) {
	n := New(Config{OutputDir: "/out", FilenameTemplate: "everything.log"})

	if got, want := n.Path("g", "r1", "show clock"), filepath.Join("/out", "everything.log"); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestBodyDefaultTemplate(t *testing.T) {
	n := New(Config{OutputDir: "/out"})
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	body := n.Body("router1", "daily", "show version", ts, "Cisco IOS XR Software\n")

	for _, want := range []string{
		"== Device: router1",
		"== Command: show version",
		"== Timestamp: 2025-03-14 09:26:53",
		"Cisco IOS XR Software\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestBodyRawOutput(t *testing.T) {
	n := New(Config{OutputDir: "/out"})
	raw := "line1\r\n\x1b[31mred\x1b[0m\n{not-a-placeholder}\n\x00binary"

	body := n.Body("r1", "g", "show foo", time.Now(), raw)
	if !strings.Contains(body, raw) {
		t.Errorf("raw output was altered in body:\n%q", body)
	}
}

func TestWriterAppendAccumulates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	w := NewWriter()

	if err := w.Append(path, []byte("first\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(path, []byte("second\n")); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got, want := string(data), "first\nsecond\n"; got != want {
		t.Errorf("file content = %q, want %q (appends must accumulate in order)", got, want)
	}
}

func TestWriterDoesNotTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(path, []byte("pre-existing\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w := NewWriter()
	if err := w.Append(path, []byte("appended\n")); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got, want := string(data), "pre-existing\nappended\n"; got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}
