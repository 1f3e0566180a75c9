package config

import (
	"strings"
	"testing"
	"time"
)

func validRun(t *testing.T) *Run {
	t.Helper()
	return &Run{
		HostPaths:      []string{"hosts.txt"},
		CommandPaths:   []string{"commands.txt"},
		OutputDir:      t.TempDir(),
		Port:           22,
		Concurrency:    4,
		ConnectTimeout: 15 * time.Second,
		CommandTimeout: 30 * time.Second,
		AskPass:        true,
	}
}

func TestRunValidate(t *testing.T) {
	if err := validRun(t).Validate(); err != nil {
		t.Fatalf("Validate() on a complete run = %v, want nil", err)
	}
}

func TestRunValidateNoHosts(t *testing.T) {
	r := validRun(t)
	r.HostPaths = nil
	r.CIDR = ""

	if err := r.Validate(); err == nil {
		t.Error("expected error when no host source is given")
	}
}

func TestRunValidateCIDRCountsAsHosts(t *testing.T) {
	r := validRun(t)
	r.HostPaths = nil
	r.CIDR = "10.0.0.0/29"

	if err := r.Validate(); err != nil {
		t.Errorf("Validate() with CIDR only = %v, want nil", err)
	}
}

func TestRunValidateNoCommands(t *testing.T) {
	r := validRun(t)
	r.CommandPaths = nil
	r.PresetNames = nil

	if err := r.Validate(); err == nil {
		t.Error("expected error when no command source is given")
	}
}

func TestRunValidatePresetCountsAsCommands(t *testing.T) {
	r := validRun(t)
	r.CommandPaths = nil
	r.PresetNames = []string{"version"}

	if err := r.Validate(); err != nil {
		t.Errorf("Validate() with preset only = %v, want nil", err)
	}
}

func TestRunValidateMissingOutputDir(t *testing.T) {
	r := validRun(t)
	r.OutputDir = "/nonexistent/muster-output"

	err := r.Validate()
	if err == nil {
		t.Fatal("expected error for missing output directory")
	}
	if !strings.Contains(err.Error(), "output directory") {
		t.Errorf("error = %v, want mention of output directory", err)
	}
}

func TestRunValidateNoCredentials(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	r := validRun(t)
	r.AskPass = false
	r.PasswordSet = false
	r.AccountsFile = ""
	r.IdentityFiles = nil

	err := r.Validate()
	if err == nil {
		t.Fatal("expected error when no credential mechanism is configured")
	}
	if !strings.Contains(err.Error(), "credential") {
		t.Errorf("error = %v, want mention of credentials", err)
	}
}

func TestRunValidateCredentialMechanisms(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	tests := []struct {
		name  string
		tweak func(*Run)
	}{
		{"ask-pass", func(r *Run) { r.AskPass = true }},
		{"password", func(r *Run) { r.PasswordSet = true }},
		{"accounts file", func(r *Run) { r.AccountsFile = "accounts.yaml" }},
		{"identity file", func(r *Run) { r.IdentityFiles = []string{"~/.ssh/id_ed25519"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRun(t)
			r.AskPass = false
			tt.tweak(r)
			if err := r.Validate(); err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestRunValidateAgentCountsAsCredentials(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "/tmp/fake-agent.sock")

	r := validRun(t)
	r.AskPass = false

	if err := r.Validate(); err != nil {
		t.Errorf("Validate() with SSH agent = %v, want nil", err)
	}
}

func TestRunValidateBounds(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*Run)
	}{
		{"zero concurrency", func(r *Run) { r.Concurrency = 0 }},
		{"port too low", func(r *Run) { r.Port = 0 }},
		{"port too high", func(r *Run) { r.Port = 70000 }},
		{"zero connect timeout", func(r *Run) { r.ConnectTimeout = 0 }},
		{"negative command timeout", func(r *Run) { r.CommandTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRun(t)
			tt.tweak(r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
