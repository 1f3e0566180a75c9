package config

import (
	"fmt"
	"os"
	"time"
)

// Run is the fully resolved description of one collection run: config file
// values overlaid by command-line flags. It is built once before the run
// starts and not modified afterwards.
type Run struct {
	// Input sources.
	HostPaths    []string
	CIDR         string
	CommandPaths []string
	PresetNames  []string
	InitPaths    []string

	// Output naming.
	OutputDir    string
	Prefix       string
	Suffix       string
	Template     string
	BodyTemplate string // path to a body template file, "" selects the builtin banner

	// Transport.
	User               string
	Port               int
	ProxyJump          string
	IdentityFiles      []string
	KnownHostsFile     string
	AcceptUnknownHosts bool
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration

	// Credentials.
	AccountsFile string
	PasswordSet  bool
	AskPass      bool

	// Behavior.
	Concurrency    int
	RecordFailures bool
	HistoryEnabled bool
	HistoryPath    string
	ArchiveTarget  string
	Progress       bool
	Quiet          bool
}

// Validate enforces the preconditions that can be checked before dialing
// anything: input sources are present, the output directory exists, and at
// least one credential mechanism is configured.
func (r *Run) Validate() error {
	if len(r.HostPaths) == 0 && r.CIDR == "" {
		return fmt.Errorf("no hosts: provide host files or --cidr")
	}
	if len(r.CommandPaths) == 0 && len(r.PresetNames) == 0 {
		return fmt.Errorf("no commands: provide command files or --preset")
	}

	info, err := os.Stat(r.OutputDir)
	if err != nil {
		return fmt.Errorf("output directory %s: %w", r.OutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory %s is not a directory", r.OutputDir)
	}

	if !r.hasCredentialMechanism() {
		return fmt.Errorf("no credential mechanism configured: use --ask-pass, " +
			"a password, an accounts file, an identity file, or an SSH agent")
	}

	if r.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", r.Concurrency)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", r.Port)
	}
	if r.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", r.ConnectTimeout)
	}
	if r.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %s", r.CommandTimeout)
	}

	return nil
}

func (r *Run) hasCredentialMechanism() bool {
	if r.AskPass || r.PasswordSet || r.AccountsFile != "" {
		return true
	}
	if len(r.IdentityFiles) > 0 {
		return true
	}
	return os.Getenv("SSH_AUTH_SOCK") != ""
}
