package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent462/muster/internal/archive"
	"github.com/agent462/muster/internal/device"
	"github.com/agent462/muster/internal/device/devicetest"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		spec    string
		want    archive.Target
		wantErr bool
	}{
		{
			spec: "backup@archive.example.net:/srv/muster",
			want: archive.Target{User: "backup", Host: "archive.example.net", Path: "/srv/muster"},
		},
		{
			spec: "archive.example.net:/srv/muster",
			want: archive.Target{Host: "archive.example.net", Path: "/srv/muster"},
		},
		{
			spec: "backup@archive:runs",
			want: archive.Target{User: "backup", Host: "archive", Path: "runs"},
		},
		{spec: "archive.example.net", wantErr: true},
		{spec: "archive.example.net:", wantErr: true},
		{spec: ":/srv/muster", wantErr: true},
	}

	for _, tt := range tests {
		got, err := archive.ParseTarget(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTarget(%q) = %+v, want error", tt.spec, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q): %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.spec, got, tt.want)
		}
	}
}

func testFactory(t *testing.T) *device.SSHFactory {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")
	factory, err := device.NewSSHFactory(device.Config{
		AcceptUnknownHosts: true,
		ConnectTimeout:     5 * time.Second,
		CommandTimeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSSHFactory: %v", err)
	}
	return factory
}

func writeRunDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"daily__core1__show_version.txt": "version output for core1\n",
		"daily__core2__show_version.txt": "version output for core2\n",
		filepath.Join("extra", "notes.txt"): "operator notes\n",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestUploadRunDirectory(t *testing.T) {
	remoteRoot := t.TempDir()
	srv := devicetest.Start(t,
		devicetest.WithPassword("pw"),
		devicetest.WithSFTP(remoteRoot),
	)
	host, port := devicetest.ParseAddr(t, srv.Addr)

	localDir := writeRunDir(t)
	remoteDir := filepath.Join(remoteRoot, "runs", "2026-08-25")

	var progressCalls int
	uploader := archive.New(testFactory(t),
		archive.WithConcurrency(2),
		archive.WithProgress(func(file string, transferred, total int64) {
			progressCalls++
		}),
	)

	results, err := uploader.Upload(context.Background(), device.Endpoint{
		Address:  host,
		Port:     port,
		Username: "archiver",
		Password: "pw",
	}, remoteDir, localDir)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for _, res := range results {
		if res.Checksum == "" {
			t.Errorf("%s: empty checksum", res.RemotePath)
		}
		if res.Bytes == 0 {
			t.Errorf("%s: zero bytes written", res.RemotePath)
		}
	}

	data, err := os.ReadFile(filepath.Join(remoteDir, "daily__core1__show_version.txt"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(data) != "version output for core1\n" {
		t.Errorf("uploaded content = %q", data)
	}

	nested, err := os.ReadFile(filepath.Join(remoteDir, "extra", "notes.txt"))
	if err != nil {
		t.Fatalf("read nested uploaded file: %v", err)
	}
	if string(nested) != "operator notes\n" {
		t.Errorf("nested content = %q", nested)
	}

	if progressCalls == 0 {
		t.Error("progress callback was never called")
	}
}

func TestUploadEmptyDirectory(t *testing.T) {
	results, err := archive.New(testFactory(t)).Upload(context.Background(),
		device.Endpoint{Address: "127.0.0.1", Port: 1, Username: "x"},
		"/srv/muster", t.TempDir())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestUploadMissingLocalDir(t *testing.T) {
	_, err := archive.New(testFactory(t)).Upload(context.Background(),
		device.Endpoint{Address: "127.0.0.1", Port: 1, Username: "x"},
		"/srv/muster", filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("Upload with missing local dir did not fail")
	}
}

func TestUploadDialFailure(t *testing.T) {
	localDir := writeRunDir(t)
	_, err := archive.New(testFactory(t)).Upload(context.Background(),
		device.Endpoint{Address: "127.0.0.1", Port: 1, Username: "x", Password: "pw"},
		"/srv/muster", localDir)
	if err == nil {
		t.Fatal("Upload against closed port did not fail")
	}
}
