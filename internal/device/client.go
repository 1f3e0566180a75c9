package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/agent462/muster/internal/pathutil"
)

// DefaultPromptPattern matches the privileged and unprivileged prompts of
// Cisco-style CLIs, including IOS XR's rack/slot/module prefix
// ("RP/0/RSP0/CPU0:core1#"). It is applied to the last line of output.
const DefaultPromptPattern = `^(?:\w+/\w+/\w+/\w+:)?[\w.-]+[#>]\s*$`

// SSHFactory opens interactive device sessions over SSH.
type SSHFactory struct {
	conf   Config
	prompt *regexp.Regexp
}

// NewSSHFactory builds a factory, compiling the prompt pattern.
func NewSSHFactory(conf Config) (*SSHFactory, error) {
	pattern := conf.PromptPattern
	if pattern == "" {
		pattern = DefaultPromptPattern
	}
	prompt, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("prompt pattern: %w", err)
	}
	return &SSHFactory{conf: conf, prompt: prompt}, nil
}

// Open dials the endpoint, requests a PTY and shell, and waits for the
// first prompt so the returned session starts synchronized. The connect
// timeout covers all of that.
func (f *SSHFactory) Open(ctx context.Context, ep Endpoint) (Session, error) {
	if f.conf.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.conf.ConnectTimeout)
		defer cancel()
	}

	ep = f.resolveEndpoint(ep)

	cl, err := f.dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	sess, err := newShellSession(ctx, cl, ep.Address, f.prompt, f.conf.CommandTimeout)
	if err != nil {
		cl.Close()
		return nil, err
	}
	return sess, nil
}

// DialClient opens a plain SSH client to the endpoint without starting the
// interactive dialog, for callers that speak another protocol over the
// connection (SFTP). The returned closer tears down the connection and any
// jump hops.
func (f *SSHFactory) DialClient(ctx context.Context, ep Endpoint) (*ssh.Client, io.Closer, error) {
	if f.conf.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.conf.ConnectTimeout)
		defer cancel()
	}

	ep = f.resolveEndpoint(ep)
	cl, err := f.dial(ctx, ep)
	if err != nil {
		return nil, nil, err
	}
	return cl.sshClient, cl, nil
}

// client wraps an SSH connection to a single device, plus any jump-host
// connections it was tunneled through.
type client struct {
	addr        string
	sshClient   *ssh.Client
	jumpClients []*client
}

// Close closes the connection and any jump-host connections in reverse
// order (innermost first).
func (c *client) Close() error {
	var firstErr error
	if c.sshClient != nil {
		firstErr = c.sshClient.Close()
	}
	for i := len(c.jumpClients) - 1; i >= 0; i-- {
		if err := c.jumpClients[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dial connects to the endpoint, through jump hosts when configured.
func (f *SSHFactory) dial(ctx context.Context, ep Endpoint) (*client, error) {
	if f.conf.ProxyJump != "" && f.conf.ProxyJump != "none" {
		return f.dialViaProxy(ctx, ep)
	}
	return f.dialDirect(ctx, ep)
}

func (f *SSHFactory) dialDirect(ctx context.Context, ep Endpoint) (*client, error) {
	sshConf, err := f.clientConfig(ep)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(ep.Address, fmt.Sprintf("%d", ep.Port))
	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &client{addr: ep.Address, sshClient: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// dialViaProxy chains through one or more comma-separated jump hosts, then
// dials the device through the last jump connection. Jump hosts never see
// the device password; they authenticate with the agent or identity files.
func (f *SSHFactory) dialViaProxy(ctx context.Context, ep Endpoint) (*client, error) {
	specs := strings.Split(f.conf.ProxyJump, ",")
	var jumpClients []*client

	closeAll := func() {
		for i := len(jumpClients) - 1; i >= 0; i-- {
			jumpClients[i].Close()
		}
	}

	jumpEp := f.jumpEndpoint(specs[0])
	prev, err := f.dialDirect(ctx, jumpEp)
	if err != nil {
		return nil, fmt.Errorf("dial jump host %q: %w", specs[0], err)
	}
	jumpClients = append(jumpClients, prev)

	for _, spec := range specs[1:] {
		next, err := f.dialThrough(ctx, prev, f.jumpEndpoint(spec))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("dial jump host %q: %w", spec, err)
		}
		jumpClients = append(jumpClients, next)
		prev = next
	}

	final, err := f.dialThrough(ctx, prev, ep)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("dial %s via proxy: %w", ep.Address, err)
	}
	final.jumpClients = jumpClients
	return final, nil
}

// dialThrough tunnels an SSH connection through an existing client.
func (f *SSHFactory) dialThrough(ctx context.Context, proxy *client, ep Endpoint) (*client, error) {
	sshConf, err := f.clientConfig(ep)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(ep.Address, fmt.Sprintf("%d", ep.Port))
	conn, err := proxy.sshClient.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel through %s to %s: %w", proxy.addr, addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s (via %s): %w", addr, proxy.addr, err)
	}

	return &client{addr: ep.Address, sshClient: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// jumpEndpoint parses a jump host spec ("user@host:port", "host:port",
// "user@host", "host") into an endpoint resolved like any other, but with
// no device password.
func (f *SSHFactory) jumpEndpoint(spec string) Endpoint {
	user, hostname, port := parseJumpHost(spec)
	return f.resolveEndpoint(Endpoint{Address: hostname, Port: port, Username: user})
}

func parseJumpHost(spec string) (user, hostname string, port int) {
	spec = strings.TrimSpace(spec)

	if i := strings.Index(spec, "@"); i >= 0 {
		user = spec[:i]
		spec = spec[i+1:]
	}

	if host, portStr, err := net.SplitHostPort(spec); err == nil {
		hostname = host
		fmt.Sscanf(portStr, "%d", &port)
	} else {
		hostname = spec
	}

	return user, hostname, port
}

// clientConfig builds the SSH client config for one endpoint.
func (f *SSHFactory) clientConfig(ep Endpoint) (*ssh.ClientConfig, error) {
	hostKeyCallback, err := f.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}
	return &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            f.authMethods(ep),
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// authMethods constructs the ordered auth chain for an endpoint. Network
// devices are password-first: the endpoint password (when present) is
// offered as both password and keyboard-interactive auth, then the agent,
// then identity files.
func (f *SSHFactory) authMethods(ep Endpoint) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if ep.Password != "" {
		password := ep.Password
		methods = append(methods, ssh.Password(password))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}))
	}

	if agentAuth := agentAuthMethod(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	for _, keyFile := range f.identityFiles(ep.Address) {
		if signer := loadKeySigner(keyFile); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	return methods
}

// sharedAgent holds a lazily-initialized, process-wide SSH agent connection.
// Uses a mutex instead of sync.Once so a failed dial can be retried.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent closes the shared SSH agent connection, if any.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}
}

// agentAuthMethod returns an auth method using the SSH agent, or nil if the
// agent is unavailable or has no keys.
func agentAuthMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	if sharedAgent.client != nil {
		if keys, err := sharedAgent.client.List(); err == nil {
			if len(keys) > 0 {
				return ssh.PublicKeysCallback(sharedAgent.client.Signers)
			}
			return nil
		}
		// Stale connection, close and retry.
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	sharedAgent.conn = conn
	sharedAgent.client = agent.NewClient(conn)

	keys, err := sharedAgent.client.List()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

// loadKeySigner reads a private key file and returns a signer.
func loadKeySigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

// hostKeyCallback builds the host key verification callback.
func (f *SSHFactory) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if f.conf.KnownHostsFile != "" {
		callback, err := knownhosts.New(pathutil.ExpandHome(f.conf.KnownHostsFile))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.conf.KnownHostsFile, err)
		}
		return callback, nil
	}

	if f.conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	knownHostsPath := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; set ssh.accept_unknown_hosts: true to skip verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// dialContext dials a network address with context cancellation support.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
