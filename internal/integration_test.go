package internal_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agent462/muster/internal/archive"
	"github.com/agent462/muster/internal/collector"
	"github.com/agent462/muster/internal/credentials"
	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/device/devicetest"
	"github.com/agent462/muster/internal/history"
	"github.com/agent462/muster/internal/inventory"
	"github.com/agent462/muster/internal/naming"
	"github.com/agent462/muster/internal/ui/report"
)

// fleetFactory routes each host to its own in-process device. Every test
// device listens on 127.0.0.1 with a random port, so the endpoint's display
// name picks the real factory configured for that port.
type fleetFactory struct {
	byName map[string]device.Factory
}

func (f *fleetFactory) Open(ctx context.Context, ep device.Endpoint) (device.Session, error) {
	inner, ok := f.byName[ep.DisplayName]
	if !ok {
		return nil, fmt.Errorf("no route to %s", ep.DisplayName)
	}
	return inner.Open(ctx, ep)
}

func portFactory(t *testing.T, port int) *device.SSHFactory {
	t.Helper()
	factory, err := device.NewSSHFactory(device.Config{
		Port:               port,
		AcceptUnknownHosts: true,
		ConnectTimeout:     5 * time.Second,
		CommandTimeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSHFactory: %v", err)
	}
	return factory
}

func startDevice(t *testing.T, prompt string, replies map[string]string) (*devicetest.Server, *device.SSHFactory) {
	t.Helper()
	opts := []devicetest.Option{
		devicetest.WithPassword("relay4me"),
		devicetest.WithPrompt(prompt),
	}
	for cmd, out := range replies {
		opts = append(opts, devicetest.WithReply(cmd, out))
	}
	srv := devicetest.Start(t, opts...)
	_, port := devicetest.ParseAddr(t, srv.Addr)
	return srv, portFactory(t, port)
}

// TestFleetCollection walks the whole pipeline over real SSH: devices,
// session dialogs, the orchestrator, output files, the report, and the run
// ledger. One device rejects a command and one host is unreachable; neither
// disturbs the rest of the fleet.
func TestFleetCollection(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	versionOut := "Cisco IOS XR Software, Version 7.9.2"
	clockOut := "12:00:00.000 UTC Mon Aug 24 2026"

	core1, core1Factory := startDevice(t, "RP/0/RSP0/CPU0:core1#", map[string]string{
		"terminal length 0": "",
		"show version":      versionOut,
		"show clock":        clockOut,
	})
	_, core2Factory := startDevice(t, "core2#", map[string]string{
		"terminal length 0": "",
		"show version":      versionOut,
		"show clock":        clockOut,
	})
	// edge1 knows show version but rejects show clock.
	_, edge1Factory := startDevice(t, "edge1>", map[string]string{
		"terminal length 0": "",
		"show version":      versionOut,
	})

	fleet := &fleetFactory{byName: map[string]device.Factory{
		"core1": core1Factory,
		"core2": core2Factory,
		"edge1": edge1Factory,
		"edge9": portFactory(t, 1), // nothing listens there
	}}

	hosts := []inventory.HostEntry{
		{Address: "127.0.0.1", DisplayName: "core1"},
		{Address: "127.0.0.1", DisplayName: "core2"},
		{Address: "127.0.0.1", DisplayName: "edge1"},
		{Address: "127.0.0.1", DisplayName: "edge9"},
	}

	outputDir := t.TempDir()
	runner := &collector.SessionRunner{
		Factory:      fleet,
		Credentials:  credentials.Static{Username: "netops", Password: "relay4me"},
		Namer:        naming.New(naming.Config{OutputDir: outputDir, Suffix: ".txt"}),
		Writer:       naming.NewWriter(),
		InitCommands: []string{"terminal length 0"},
		Groups: []inventory.CommandGroup{{
			ID:       "daily",
			Commands: []string{"show version", "show clock"},
		}},
	}

	outcomes := collector.New(runner, collector.WithConcurrency(2)).
		Run(context.Background(), hosts)

	if len(outcomes) != len(hosts) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(hosts))
	}
	for i, o := range outcomes {
		if o.Host.DisplayName != hosts[i].DisplayName {
			t.Errorf("outcomes[%d] = %q, want %q (input order)", i, o.Host.DisplayName, hosts[i].DisplayName)
		}
	}

	if !outcomes[0].OK() || outcomes[0].Captured() != 2 {
		t.Errorf("core1: OK=%v captured=%d, want clean run with 2 captures (connectErr=%v)",
			outcomes[0].OK(), outcomes[0].Captured(), outcomes[0].ConnectErr)
	}
	if !outcomes[1].OK() {
		t.Errorf("core2 not OK: %v", outcomes[1].ConnectErr)
	}
	if outcomes[2].Rejected() != 1 || outcomes[2].Captured() != 1 {
		t.Errorf("edge1: rejected=%d captured=%d, want 1 and 1", outcomes[2].Rejected(), outcomes[2].Captured())
	}
	if outcomes[2].ConnectErr != nil {
		t.Errorf("edge1 rejection killed the session: %v", outcomes[2].ConnectErr)
	}
	if outcomes[3].ConnectErr == nil {
		t.Error("edge9 ConnectErr = nil, want unreachable")
	}

	// The device saw init first, then the group in order.
	wantSent := []string{"terminal length 0", "show version", "show clock"}
	if got := core1.Commands(); !equalSlices(got, wantSent) {
		t.Errorf("core1 received %v, want %v", got, wantSent)
	}

	// Captured output landed under group__host__command names with banners.
	data, err := os.ReadFile(filepath.Join(outputDir, "daily__core1__show_version.txt"))
	if err != nil {
		t.Fatalf("reading core1 output: %v", err)
	}
	if !strings.Contains(string(data), versionOut) {
		t.Errorf("core1 output missing device text:\n%s", data)
	}
	if !strings.Contains(string(data), "== Device: core1") {
		t.Errorf("core1 output missing banner:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "daily__edge1__show_clock.txt")); err == nil {
		t.Error("rejected command produced an output file")
	}

	formatted := report.NewFormatter(false, false).Format(outcomes)
	for _, want := range []string{"core1", "edge1", "5 commands captured", "1 rejected", "1 host unreachable"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("report missing %q:\n%s", want, formatted)
		}
	}

	// The ledger records the same totals the report shows.
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	started := time.Now()
	runID, err := store.BeginRun(started, outputDir)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := store.FinishRun(runID, started.Add(3*time.Second), outcomes); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := store.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Hosts != 4 || runs[0].Captured != 5 || runs[0].Failed != 1 {
		t.Errorf("ledger run = hosts %d captured %d failed %d, want 4/5/1",
			runs[0].Hosts, runs[0].Captured, runs[0].Failed)
	}

	records, err := store.HostResults(runID)
	if err != nil {
		t.Fatalf("HostResults: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("len(records) = %d, want 4", len(records))
	}
	if records[2].Rejected != 1 {
		t.Errorf("edge1 record rejected = %d, want 1", records[2].Rejected)
	}
	if records[3].ErrorText == "" {
		t.Error("edge9 record has no error text")
	}
}

// TestFleetCollectionArchive runs a collection and pushes the output
// directory to an SFTP target, the way collect --archive does.
func TestFleetCollectionArchive(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, deviceFactory := startDevice(t, "core1#", map[string]string{
		"show version": "Cisco IOS XR Software, Version 7.9.2",
	})

	outputDir := t.TempDir()
	runner := &collector.SessionRunner{
		Factory:     &fleetFactory{byName: map[string]device.Factory{"core1": deviceFactory}},
		Credentials: credentials.Static{Username: "netops", Password: "relay4me"},
		Namer:       naming.New(naming.Config{OutputDir: outputDir, Suffix: ".txt"}),
		Writer:      naming.NewWriter(),
		Groups: []inventory.CommandGroup{{
			ID:       "daily",
			Commands: []string{"show version"},
		}},
	}

	outcomes := collector.New(runner).Run(context.Background(),
		[]inventory.HostEntry{{Address: "127.0.0.1", DisplayName: "core1"}})
	if !outcomes[0].OK() {
		t.Fatalf("collection failed: %v", outcomes[0].ConnectErr)
	}

	remoteRoot := t.TempDir()
	sftpSrv := devicetest.Start(t,
		devicetest.WithPassword("vaultpw"),
		devicetest.WithSFTP(remoteRoot),
	)
	host, port := devicetest.ParseAddr(t, sftpSrv.Addr)

	remoteDir := filepath.Join(remoteRoot, "runs")
	results, err := archive.New(portFactory(t, port)).Upload(context.Background(), device.Endpoint{
		Address:  host,
		Username: "archiver",
		Password: "vaultpw",
	}, remoteDir, outputDir)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}

	local, err := os.ReadFile(filepath.Join(outputDir, "daily__core1__show_version.txt"))
	if err != nil {
		t.Fatalf("reading local output: %v", err)
	}
	remote, err := os.ReadFile(filepath.Join(remoteDir, "daily__core1__show_version.txt"))
	if err != nil {
		t.Fatalf("reading archived output: %v", err)
	}
	if string(local) != string(remote) {
		t.Errorf("archived content differs from local:\nlocal:\n%s\nremote:\n%s", local, remote)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
