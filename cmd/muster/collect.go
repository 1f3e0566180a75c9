package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agent462/muster/internal/archive"
	"github.com/agent462/muster/internal/collector"
	"github.com/agent462/muster/internal/config"
	"github.com/agent462/muster/internal/credentials"
	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/history"
	"github.com/agent462/muster/internal/inventory"
	"github.com/agent462/muster/internal/naming"
	"github.com/agent462/muster/internal/pathutil"
	"github.com/agent462/muster/internal/preset"
	"github.com/agent462/muster/internal/ui/progress"
	"github.com/agent462/muster/internal/ui/report"
)

// errRunFailed marks a completed run with at least one failed host; main
// maps it to exit code 1.
var errRunFailed = errors.New("one or more hosts failed")

// cidrProbeTimeout bounds each TCP probe of a --cidr sweep. Closed ports
// answer immediately; only filtered addresses wait this long.
const cidrProbeTimeout = 2 * time.Second

var (
	collectHosts      []string
	collectCommands   []string
	collectPresets    []string
	collectCIDR       string
	collectOutputDir  string
	collectUsername   string
	collectPassword   string
	collectAskPass    bool
	collectAccounts   string
	collectInitFiles  []string
	collectTemplate   string
	collectBodyTmpl   string
	collectPrefix     string
	collectSuffix     string
	collectConc       int
	collectTimeout    time.Duration
	collectConnectTO  time.Duration
	collectRecord     bool
	collectHistoryDB  string
	collectArchive    string
	collectInsecure   bool
	collectKnownHosts string
	collectProxyJump  string
	collectPort       int
	collectIdentity   []string
	collectProgress   bool
	collectNoProgress bool
	collectQuiet      bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run command groups against a fleet and save the output",
	RunE:  runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.StringSliceVar(&collectHosts, "hosts", nil, "host file(s): one address per line, optional display name after it")
	f.StringSliceVar(&collectCommands, "commands", nil, "command file(s) or directories of command files")
	f.StringSliceVar(&collectPresets, "preset", nil, "builtin or config-defined command group(s) to add")
	f.StringVar(&collectCIDR, "cidr", "", "sweep an IPv4 range for SSH listeners and add them as hosts")
	f.StringVar(&collectOutputDir, "output-dir", ".", "directory for captured output, created if absent")
	f.StringVar(&collectUsername, "username", "", "SSH username (prompts for the password when given alone)")
	f.StringVar(&collectPassword, "password", "", "SSH password for every host")
	f.BoolVar(&collectAskPass, "ask-pass", false, "always prompt for the SSH password")
	f.StringVar(&collectAccounts, "accounts", "", "accounts YAML file mapping host globs to credentials")
	f.StringSliceVar(&collectInitFiles, "init-commands", nil, "file(s) of session setup commands (default \"terminal length 0\")")
	f.StringVar(&collectTemplate, "filename-template", "", "output file name template (rendered names are not confined to the output dir)")
	f.StringVar(&collectBodyTmpl, "body-template", "", "file holding the banner template for each capture")
	f.StringVar(&collectPrefix, "prefix", "", "string prepended to every output file name")
	f.StringVar(&collectSuffix, "suffix", ".txt", "string appended to every output file name")
	f.IntVar(&collectConc, "concurrency", 8, "number of hosts collected at once")
	f.DurationVar(&collectTimeout, "timeout", 30*time.Second, "per-command timeout")
	f.DurationVar(&collectConnectTO, "connect-timeout", 15*time.Second, "dial, handshake, and first-prompt timeout")
	f.BoolVar(&collectRecord, "record-failures", false, "also write the device's rejection text for failed commands")
	f.StringVar(&collectHistoryDB, "history-db", "", "run-ledger database (default ~/.local/share/muster/history.db)")
	f.StringVar(&collectArchive, "archive", "", "upload the output dir after the run ([user@]host:/remote/dir)")
	f.BoolVar(&collectInsecure, "insecure", false, "skip host key verification")
	f.StringVar(&collectKnownHosts, "known-hosts", "", "verify host keys against this file")
	f.StringVar(&collectProxyJump, "proxy-jump", "", "dial through jump host(s), comma separated")
	f.IntVar(&collectPort, "port", 22, "SSH port")
	f.StringSliceVar(&collectIdentity, "identity", nil, "private key file(s) to authenticate with")
	f.BoolVar(&collectProgress, "progress", true, "show the live host table on a terminal")
	f.BoolVar(&collectNoProgress, "no-progress", false, "never show the live host table")
	f.BoolVar(&collectQuiet, "quiet", false, "print nothing unless something failed")
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run := buildRun(cmd, cfg)

	if run.OutputDir != "" {
		if err := pathutil.EnsureDir(run.OutputDir); err != nil {
			return fmt.Errorf("output directory: %w", err)
		}
	}
	if err := run.Validate(); err != nil {
		return err
	}

	password := collectPassword
	if run.AskPass && run.AccountsFile == "" {
		password, err = promptPassword(run.User)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	warnf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
	}

	loader := &inventory.Loader{Warnf: warnf}
	hosts := loader.LoadHosts(run.HostPaths)
	if run.CIDR != "" {
		swept, err := inventory.CIDRScan(ctx, run.CIDR, run.Port, 0, cidrProbeTimeout)
		if err != nil {
			return err
		}
		if !run.Quiet {
			fmt.Fprintf(os.Stderr, "cidr %s: %d hosts answered on port %d\n", run.CIDR, len(swept), run.Port)
		}
		hosts = append(hosts, swept...)
	}
	if len(hosts) == 0 {
		return errors.New("no hosts to collect from")
	}

	groups := loader.LoadGroups(run.CommandPaths)
	for _, name := range run.PresetNames {
		p, _, ok := preset.Resolve(name, cfg)
		if !ok {
			return fmt.Errorf("unknown preset %q (run \"muster presets\" to list them)", name)
		}
		groups = append(groups, preset.Group(name, p))
	}
	commandCount := 0
	for _, g := range groups {
		commandCount += len(g.Commands)
	}
	if commandCount == 0 {
		return errors.New("no commands to run")
	}

	initCommands := cfg.Defaults.InitCommands
	if len(run.InitPaths) > 0 {
		initCommands = loader.LoadInitCommands(run.InitPaths)
	}

	bodyTemplate := ""
	if run.BodyTemplate != "" {
		data, err := os.ReadFile(run.BodyTemplate)
		if err != nil {
			warnf("body template %s: %v (using the default banner)", run.BodyTemplate, err)
		} else {
			bodyTemplate = string(data)
		}
	}

	source, err := buildCredentials(run, password)
	if err != nil {
		return err
	}

	factory, err := device.NewSSHFactory(device.Config{
		User:               run.User,
		Port:               run.Port,
		ProxyJump:          run.ProxyJump,
		IdentityFiles:      run.IdentityFiles,
		KnownHostsFile:     run.KnownHostsFile,
		AcceptUnknownHosts: run.AcceptUnknownHosts,
		ConnectTimeout:     run.ConnectTimeout,
		CommandTimeout:     run.CommandTimeout,
	})
	if err != nil {
		return err
	}
	defer device.CloseAgent()

	runner := &collector.SessionRunner{
		Factory:     factory,
		Credentials: source,
		Namer: naming.New(naming.Config{
			OutputDir:        run.OutputDir,
			FilenameTemplate: run.Template,
			BodyTemplate:     bodyTemplate,
			Prefix:           run.Prefix,
			Suffix:           run.Suffix,
		}),
		Writer:         naming.NewWriter(),
		InitCommands:   initCommands,
		Groups:         groups,
		RecordFailures: run.RecordFailures,
		Warnf:          warnf,
	}

	store, runID := openHistory(run, warnf)
	if store != nil {
		defer store.Close()
	}

	interactive := run.Progress && !run.Quiet && term.IsTerminal(int(os.Stdout.Fd()))

	var outcomes []*collector.HostOutcome
	if interactive {
		outcomes = collectWithProgress(ctx, runner, run.Concurrency, hosts, commandCount)
	} else {
		if !run.Quiet {
			fmt.Printf("collecting %d commands from %d hosts\n", commandCount, len(hosts))
		}
		orch := collector.New(runner, collector.WithConcurrency(run.Concurrency))
		outcomes = orch.Run(ctx, hosts)
	}

	if store != nil {
		if err := store.FinishRun(runID, time.Now(), outcomes); err != nil {
			warnf("history: %v", err)
		}
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}

	if !run.Quiet || failed > 0 {
		formatter := report.NewFormatter(term.IsTerminal(int(os.Stdout.Fd())), run.Quiet)
		fmt.Print(formatter.Format(outcomes))
	}

	if run.ArchiveTarget != "" {
		if err := archiveRun(ctx, factory, source, run); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}

	if failed > 0 {
		return errRunFailed
	}
	return nil
}

// buildRun overlays explicitly set flags onto the config file values.
func buildRun(cmd *cobra.Command, cfg *config.Config) *config.Run {
	run := &config.Run{
		HostPaths:    collectHosts,
		CIDR:         collectCIDR,
		CommandPaths: collectCommands,
		PresetNames:  collectPresets,
		InitPaths:    collectInitFiles,

		OutputDir:    cfg.Output.Dir,
		Prefix:       cfg.Output.Prefix,
		Suffix:       cfg.Output.Suffix,
		Template:     cfg.Output.Template,
		BodyTemplate: cfg.Output.BodyTemplate,

		User:               cfg.SSH.User,
		Port:               cfg.SSH.Port,
		ProxyJump:          cfg.SSH.ProxyJump,
		IdentityFiles:      cfg.SSH.IdentityFiles,
		KnownHostsFile:     cfg.SSH.KnownHostsFile,
		AcceptUnknownHosts: cfg.SSH.AcceptUnknownHosts,
		ConnectTimeout:     cfg.Defaults.ConnectTimeout.Duration,
		CommandTimeout:     cfg.Defaults.CommandTimeout.Duration,

		AccountsFile: cfg.Defaults.AccountsFile,

		Concurrency:    cfg.Defaults.Concurrency,
		RecordFailures: collectRecord,
		HistoryEnabled: cfg.History.Enabled,
		HistoryPath:    cfg.History.Path,
		ArchiveTarget:  collectArchive,
		Progress:       cfg.Defaults.Progress,
		Quiet:          collectQuiet,
	}

	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		run.OutputDir = collectOutputDir
	}
	if flags.Changed("prefix") {
		run.Prefix = collectPrefix
	}
	if flags.Changed("suffix") {
		run.Suffix = collectSuffix
	}
	if flags.Changed("filename-template") {
		run.Template = collectTemplate
	}
	if flags.Changed("body-template") {
		run.BodyTemplate = collectBodyTmpl
	}
	if flags.Changed("username") {
		run.User = collectUsername
	}
	if flags.Changed("port") {
		run.Port = collectPort
	}
	if flags.Changed("proxy-jump") {
		run.ProxyJump = collectProxyJump
	}
	if len(collectIdentity) > 0 {
		run.IdentityFiles = collectIdentity
	}
	if flags.Changed("known-hosts") {
		run.KnownHostsFile = collectKnownHosts
		run.AcceptUnknownHosts = false
	}
	if collectInsecure {
		run.AcceptUnknownHosts = true
	}
	if flags.Changed("connect-timeout") {
		run.ConnectTimeout = collectConnectTO
	}
	if flags.Changed("timeout") {
		run.CommandTimeout = collectTimeout
	}
	if flags.Changed("accounts") {
		run.AccountsFile = collectAccounts
	}
	if flags.Changed("concurrency") {
		run.Concurrency = collectConc
	}
	if flags.Changed("history-db") {
		run.HistoryPath = collectHistoryDB
		run.HistoryEnabled = true
	}
	if collectNoProgress {
		run.Progress = false
	} else if flags.Changed("progress") {
		run.Progress = collectProgress
	}

	run.OutputDir = pathutil.ExpandHome(run.OutputDir)
	run.AccountsFile = pathutil.ExpandHome(run.AccountsFile)
	run.BodyTemplate = pathutil.ExpandHome(run.BodyTemplate)
	run.HistoryPath = pathutil.ExpandHome(run.HistoryPath)
	run.KnownHostsFile = pathutil.ExpandHome(run.KnownHostsFile)

	run.PasswordSet = collectPassword != ""
	run.AskPass = collectAskPass
	if !run.PasswordSet && !run.AskPass && run.AccountsFile == "" &&
		flags.Changed("username") && term.IsTerminal(int(os.Stdin.Fd())) {
		run.AskPass = true
	}

	return run
}

func buildCredentials(run *config.Run, password string) (credentials.Source, error) {
	if run.AccountsFile != "" {
		return credentials.LoadAccounts(run.AccountsFile)
	}
	return credentials.Static{Username: run.User, Password: password}, nil
}

func promptPassword(user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("cannot prompt for a password: stdin is not a terminal")
	}
	if user != "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
	}
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// openHistory opens the run ledger and records the run start. Ledger
// problems degrade to warnings; they never block a collection.
func openHistory(run *config.Run, warnf func(string, ...any)) (*history.Store, int64) {
	if !run.HistoryEnabled {
		return nil, 0
	}
	path := run.HistoryPath
	if path == "" {
		path = config.DefaultHistoryPath()
	}
	if path == "" {
		warnf("history: cannot resolve a database path; skipping the ledger")
		return nil, 0
	}

	store, err := history.Open(path)
	if err != nil {
		warnf("history: %v", err)
		return nil, 0
	}
	runID, err := store.BeginRun(time.Now(), run.OutputDir)
	if err != nil {
		warnf("history: %v", err)
		store.Close()
		return nil, 0
	}
	return store, runID
}

// collectWithProgress runs the orchestrator behind the live host table.
// The orchestrator feeds events into a channel the UI consumes; closing the
// channel tells the UI the run is over, and quitting the UI cancels the run.
func collectWithProgress(ctx context.Context, runner *collector.SessionRunner, concurrency int, hosts []inventory.HostEntry, commandsPerHost int) []*collector.HostOutcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan collector.Event, len(hosts))
	emit := func(ev collector.Event) { events <- ev }
	runner.OnEvent = emit
	orch := collector.New(runner,
		collector.WithConcurrency(concurrency),
		collector.WithEvents(emit),
	)

	done := make(chan []*collector.HostOutcome, 1)
	go func() {
		outcomes := orch.Run(runCtx, hosts)
		close(events)
		done <- outcomes
	}()

	model := progress.New(progress.Config{
		Hosts:           hosts,
		CommandsPerHost: commandsPerHost,
		Events:          events,
	})
	if _, err := tea.NewProgram(model).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: progress display: %v\n", err)
	}

	// Quitting the display aborts the run: stop launching hosts and drain
	// the event stream so in-flight workers never block on send.
	cancel()
	go func() {
		for range events {
		}
	}()
	return <-done
}

// archiveRun pushes the finished output directory to the --archive target.
func archiveRun(ctx context.Context, dialer archive.Dialer, source credentials.Source, run *config.Run) error {
	target, err := archive.ParseTarget(run.ArchiveTarget)
	if err != nil {
		return err
	}

	// The archive host authenticates like any device: an accounts entry or
	// the run credentials, with the agent and identity files as fallback.
	creds, err := source.Lookup(target.Host)
	if err != nil {
		creds = credentials.Credentials{}
	}
	username := target.User
	if username == "" {
		username = creds.Username
	}

	results, err := archive.New(dialer).Upload(ctx, device.Endpoint{
		Address:  target.Host,
		Username: username,
		Password: creds.Password,
	}, target.Path, run.OutputDir)
	if err != nil {
		return err
	}

	var total int64
	for _, r := range results {
		total += r.Bytes
	}
	if !run.Quiet {
		fmt.Printf("archived %d files (%d bytes) to %s:%s\n", len(results), total, target.Host, target.Path)
	}
	return nil
}
