// Package archive uploads finished run output to a remote host via SFTP.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/agent462/muster/internal/device"
)

// Target is a parsed scp-style archive destination.
type Target struct {
	User string
	Host string
	Path string
}

// ParseTarget parses "[user@]host:/remote/dir".
func ParseTarget(spec string) (Target, error) {
	var t Target
	rest := spec
	if i := strings.Index(rest, "@"); i >= 0 {
		t.User = rest[:i]
		rest = rest[i+1:]
	}
	i := strings.Index(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return Target{}, fmt.Errorf("archive target %q: want [user@]host:/remote/dir", spec)
	}
	t.Host = rest[:i]
	t.Path = rest[i+1:]
	return t, nil
}

// Dialer opens the SSH connection the upload rides on.
type Dialer interface {
	DialClient(ctx context.Context, ep device.Endpoint) (*ssh.Client, io.Closer, error)
}

// FileResult reports one uploaded file.
type FileResult struct {
	LocalPath  string
	RemotePath string
	Bytes      int64
	Checksum   string
}

// Uploader pushes a local run directory to a directory on one archive host.
type Uploader struct {
	dialer      Dialer
	concurrency int
	progress    ProgressFunc
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithConcurrency sets the maximum number of parallel file uploads.
func WithConcurrency(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

// WithProgress installs a transfer progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(u *Uploader) { u.progress = fn }
}

// New creates an Uploader.
func New(dialer Dialer, opts ...Option) *Uploader {
	u := &Uploader{
		dialer:      dialer,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload copies every regular file under localDir to remoteDir on the
// endpoint, preserving the directory layout. Files upload in parallel over
// one SFTP session; each is verified by re-reading the remote copy and
// comparing SHA-256 checksums. The first failure cancels the rest.
func (u *Uploader) Upload(ctx context.Context, ep device.Endpoint, remoteDir, localDir string) ([]FileResult, error) {
	files, err := listFiles(localDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	sshClient, closer, err := u.dialer.DialClient(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, rel := range files {
		g.Go(func() error {
			res, err := u.uploadFile(gctx, sftpClient,
				filepath.Join(localDir, rel),
				path.Join(remoteDir, filepath.ToSlash(rel)))
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (u *Uploader) uploadFile(ctx context.Context, client *sftp.Client, localPath, remotePath string) (FileResult, error) {
	res := FileResult{LocalPath: localPath, RemotePath: remotePath}

	localFile, err := os.Open(localPath)
	if err != nil {
		return res, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer localFile.Close()

	stat, err := localFile.Stat()
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", localPath, err)
	}

	// Use path (not filepath) because the remote side is always Unix.
	remoteDir := path.Dir(remotePath)
	if remoteDir != "." && remoteDir != "/" {
		if err := client.MkdirAll(remoteDir); err != nil {
			return res, fmt.Errorf("create remote dir %s: %w", remoteDir, err)
		}
	}

	remoteFile, err := client.Create(remotePath)
	if err != nil {
		return res, fmt.Errorf("create %s: %w", remotePath, err)
	}

	hasher := sha256.New()
	pw := newProgressWriter(remoteFile, filepath.Base(localPath), stat.Size(), u.progress)
	written, err := copyWithContext(ctx, io.MultiWriter(pw, hasher), localFile)
	// Close the remote file to flush writes before checksum verification.
	remoteFile.Close()
	res.Bytes = written
	if err != nil {
		return res, fmt.Errorf("copy %s: %w", localPath, err)
	}

	res.Checksum = hex.EncodeToString(hasher.Sum(nil))

	remoteSum, err := remoteSHA256(client, remotePath)
	if err != nil {
		return res, fmt.Errorf("verify %s: %w", remotePath, err)
	}
	if remoteSum != res.Checksum {
		return res, fmt.Errorf("checksum mismatch for %s: local=%s remote=%s", remotePath, res.Checksum, remoteSum)
	}
	return res, nil
}

// listFiles returns the relative paths of every regular file under root.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
