// Package devicetest provides an in-process SSH server that behaves like a
// network device's interactive CLI, for testing session dialogs.
package devicetest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Handler resolves a command to its output. ok=false makes the device
// reject the command like an unparseable one.
type Handler func(cmd string) (output string, ok bool)

// ServerConfig holds options for a test device.
type ServerConfig struct {
	ClientPubKey ssh.PublicKey
	PasswordAuth string
	NoAuth       bool
	Banner       string
	Prompt       string
	Replies      map[string]string
	Handler      Handler
	HangOn       map[string]bool
	NoEcho       bool
	SFTPRoot     string
}

// Option configures a test device.
type Option func(*ServerConfig)

// WithPublicKey configures the device to accept the given public key.
func WithPublicKey(pub ssh.PublicKey) Option {
	return func(c *ServerConfig) { c.ClientPubKey = pub }
}

// WithPassword configures the device to accept the given password.
func WithPassword(pw string) Option {
	return func(c *ServerConfig) { c.PasswordAuth = pw }
}

// WithNoAuth configures the device to accept any connection.
func WithNoAuth() Option {
	return func(c *ServerConfig) { c.NoAuth = true }
}

// WithBanner sets text printed before the first prompt.
func WithBanner(banner string) Option {
	return func(c *ServerConfig) { c.Banner = banner }
}

// WithPrompt sets the prompt line. The default is "router1#".
func WithPrompt(prompt string) Option {
	return func(c *ServerConfig) { c.Prompt = prompt }
}

// WithReply registers canned output for a command. Commands without a
// reply are rejected with a syntax-error marker.
func WithReply(cmd, output string) Option {
	return func(c *ServerConfig) {
		if c.Replies == nil {
			c.Replies = make(map[string]string)
		}
		c.Replies[cmd] = output
	}
}

// WithHandler resolves commands through a function instead of the canned
// reply map.
func WithHandler(h Handler) Option {
	return func(c *ServerConfig) { c.Handler = h }
}

// WithHangOn makes the device swallow a command: no output, no prompt.
func WithHangOn(cmd string) Option {
	return func(c *ServerConfig) {
		if c.HangOn == nil {
			c.HangOn = make(map[string]bool)
		}
		c.HangOn[cmd] = true
	}
}

// WithNoEcho stops the device echoing input back, like a CLI that honors
// the requested terminal mode.
func WithNoEcho() Option {
	return func(c *ServerConfig) { c.NoEcho = true }
}

// WithSFTP enables the sftp subsystem with the given directory as the
// server's working directory.
func WithSFTP(root string) Option {
	return func(c *ServerConfig) { c.SFTPRoot = root }
}

// Server is a running test device.
type Server struct {
	Addr string

	listener net.Listener
	done     chan struct{}

	mu       sync.Mutex
	commands []string
}

// Start launches an in-process device. Shutdown is registered with
// t.Cleanup.
func Start(t *testing.T, opts ...Option) *Server {
	t.Helper()

	cfg := &ServerConfig{Prompt: "router1#"}
	for _, opt := range opts {
		opt(cfg)
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	serverConf := &ssh.ServerConfig{NoClientAuth: cfg.NoAuth}
	serverConf.AddHostKey(hostSigner)

	if cfg.ClientPubKey != nil {
		expected := cfg.ClientPubKey.Marshal()
		serverConf.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(expected) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		}
	}

	if cfg.PasswordAuth != "" {
		serverConf.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == cfg.PasswordAuth {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &Server{
		Addr:     listener.Addr().String(),
		listener: listener,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(srv.done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handleConnection(conn, serverConf, cfg)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-srv.done
	})

	return srv
}

// Commands returns every command line the device has received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *Server) record(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *Server) handleConnection(conn net.Conn, config *ssh.ServerConfig, cfg *ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests, cfg)
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *ServerConfig) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			s.runDialog(ch, cfg)
			return
		case "subsystem":
			if cfg.SFTPRoot != "" && subsystemName(req.Payload) == "sftp" {
				req.Reply(true, nil)
				serveSFTP(ch, cfg.SFTPRoot)
				return
			}
			req.Reply(false, nil)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// subsystemName extracts the subsystem name from a request payload
// (a length-prefixed SSH string).
func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(binary.BigEndian.Uint32(payload))
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}

func serveSFTP(ch ssh.Channel, root string) {
	server, err := sftp.NewServer(ch, sftp.WithServerWorkingDirectory(root))
	if err != nil {
		return
	}
	defer server.Close()
	server.Serve()
}

// runDialog plays the device side of the CLI: banner, prompt, then an
// echo/output/prompt exchange per received line.
func (s *Server) runDialog(ch ssh.Channel, cfg *ServerConfig) {
	if cfg.Banner != "" {
		io.WriteString(ch, cfg.Banner)
	}
	io.WriteString(ch, cfg.Prompt)

	var line []byte
	buf := make([]byte, 256)
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return
		}
		line = append(line, buf[:n]...)

		for {
			i := bytes.IndexByte(line, '\n')
			if i < 0 {
				break
			}
			cmd := strings.TrimRight(string(line[:i]), "\r")
			line = line[i+1:]
			s.record(cmd)

			if cfg.HangOn[cmd] {
				continue
			}

			if !cfg.NoEcho {
				io.WriteString(ch, cmd+"\r\n")
			}

			output, ok := s.resolve(cmd, cfg)
			if !ok {
				output = "% Invalid input detected at '^' marker."
			}
			if output != "" {
				io.WriteString(ch, strings.ReplaceAll(output, "\n", "\r\n")+"\r\n")
			}
			io.WriteString(ch, cfg.Prompt)
		}
	}
}

func (s *Server) resolve(cmd string, cfg *ServerConfig) (string, bool) {
	if cfg.Handler != nil {
		return cfg.Handler(cmd)
	}
	output, ok := cfg.Replies[cmd]
	return output, ok
}

// GenerateKey creates an ed25519 key pair and writes the private key to a
// temp file. Returns the public key and the path to the private key file.
func GenerateKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	pemBlock := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyPath, pemBlock, 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	return signer.PublicKey(), keyPath
}

// ParseAddr splits an address into host and port.
func ParseAddr(t *testing.T, addr string) (host string, port int) {
	t.Helper()
	h, portStr, _ := net.SplitHostPort(addr)
	var p int
	fmt.Sscanf(portStr, "%d", &p)
	return h, p
}
