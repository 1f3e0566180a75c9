package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// shellSession drives a device CLI over an SSH shell channel with a PTY.
// Reads are anchored on the prompt: every write is followed by accumulating
// output until the device prints its prompt again.
type shellSession struct {
	addr    string
	cl      *client
	sess    *ssh.Session
	stdin   io.WriteCloser
	chunks  <-chan chunk
	done    chan struct{}
	prompt  *regexp.Regexp
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

type chunk struct {
	data []byte
	err  error
}

// newShellSession requests a PTY and shell on an established connection and
// drains the login banner up to the first prompt.
func newShellSession(ctx context.Context, cl *client, addr string, prompt *regexp.Regexp, timeout time.Duration) (*shellSession, error) {
	sess, err := cl.sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session on %s: %w", addr, err)
	}

	// Devices ignore the requested ECHO mode often enough that the echoed
	// command is stripped from output either way.
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 24, 512, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("request pty on %s: %w", addr, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe on %s: %w", addr, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe on %s: %w", addr, err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start shell on %s: %w", addr, err)
	}

	s := &shellSession{
		addr:    addr,
		cl:      cl,
		sess:    sess,
		stdin:   stdin,
		done:    make(chan struct{}),
		prompt:  prompt,
		timeout: timeout,
	}
	s.chunks = pump(stdout, s.done)

	if _, err := s.readUntilPrompt(ctx); err != nil {
		close(s.done)
		sess.Close()
		return nil, fmt.Errorf("waiting for prompt from %s: %w", addr, err)
	}

	return s, nil
}

// Send writes one command and accumulates output until the next prompt.
// Reading through to the prompt is also what keeps the dialog synchronized
// after a parser rejection, so a *SyntaxError leaves the session usable.
func (s *shellSession) Send(ctx context.Context, command string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return "", fmt.Errorf("send %q to %s: %w", command, s.addr, err)
	}

	raw, err := s.readUntilPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("command %q on %s: %w", command, s.addr, err)
	}

	output := stripDialog(raw, command, s.prompt)
	if marker := syntaxMarker(output); marker != "" {
		return output, &SyntaxError{Command: command, Marker: marker}
	}
	return output, nil
}

func (s *shellSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.sess.Close(); err != nil && err != io.EOF {
			s.closeErr = err
		}
		if err := s.cl.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// readUntilPrompt accumulates output until the last line matches the
// prompt. Whatever was read is returned alongside any error, so partial
// output stays available to callers that want it.
func (s *shellSession) readUntilPrompt(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	for {
		if s.promptReady(buf.Bytes()) {
			return buf.String(), nil
		}
		select {
		case c, ok := <-s.chunks:
			if !ok {
				return buf.String(), fmt.Errorf("session closed while waiting for prompt: %w", io.EOF)
			}
			if c.err != nil {
				return buf.String(), c.err
			}
			buf.Write(c.data)
		case <-ctx.Done():
			return buf.String(), ctx.Err()
		}
	}
}

// promptReady reports whether the last (possibly unterminated) line of buf
// matches the prompt.
func (s *shellSession) promptReady(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	tail := buf
	if i := bytes.LastIndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}
	line := strings.TrimRight(string(tail), "\r")
	if line == "" {
		return false
	}
	return s.prompt.MatchString(line)
}

// stripDialog removes carriage returns, the echoed command from the head,
// and the prompt from the tail of one command's raw output.
func stripDialog(raw, command string, prompt *regexp.Regexp) string {
	raw = strings.ReplaceAll(raw, "\r", "")
	lines := strings.Split(raw, "\n")

	// The echo may share a line with a re-printed prompt, so a suffix
	// match is enough.
	if len(lines) > 0 {
		head := strings.TrimSpace(lines[0])
		if head == command || strings.HasSuffix(head, command) {
			lines = lines[1:]
		}
	}

	if n := len(lines); n > 0 && prompt.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}

	return strings.Join(lines, "\n")
}

// pump reads stdout into chunks until the reader fails or done closes.
func pump(r io.Reader, done <-chan struct{}) <-chan chunk {
	ch := make(chan chunk)
	go func() {
		defer close(ch)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- chunk{data: data}:
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case ch <- chunk{err: err}:
				case <-done:
				}
				return
			}
		}
	}()
	return ch
}
