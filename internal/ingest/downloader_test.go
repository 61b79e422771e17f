package ingest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseFetchOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		wantErr bool
		title   string
	}{
		{
			name:  "bare metadata line",
			out:   `{"file":"/tmp/x.m4a","title":"Song"}`,
			title: "Song",
		},
		{
			name: "progress noise before metadata",
			out: "resolving formats...\ndownloading 45%\ndownloading 100%\n" +
				`{"file":"/tmp/x.m4a","title":"Song","duration_seconds":200}`,
			title: "Song",
		},
		{
			name:    "empty output",
			out:     "",
			wantErr: true,
		},
		{
			name:    "no metadata line",
			out:     "downloading...\ndone",
			wantErr: true,
		},
		{
			name:    "metadata missing file path",
			out:     `{"title":"Song"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			out:     `{"file": broken`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseFetchOutput(tt.out)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFetchOutput() = %+v, want error", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFetchOutput() error: %v", err)
			}
			if result.Title != tt.title {
				t.Errorf("Title = %q, want %q", result.Title, tt.title)
			}
		})
	}
}

func writeFetcherScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fetcher scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fetcher.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecDownloaderRunsCommand(t *testing.T) {
	script := writeFetcherScript(t, `
dest="$2"
printf 'fake audio' > "$dest/audio.m4a"
echo "downloading 100%"
echo "{\"file\":\"$dest/audio.m4a\",\"title\":\"Test Song\",\"channel_id\":\"chan-1\",\"channel_name\":\"Test Channel\",\"duration_seconds\":123}"
`)

	d := NewExecDownloader(script, zerolog.Nop())
	destDir := t.TempDir()

	result, err := d.Fetch(context.Background(), "dQw4w9WgXcQ", destDir)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if result.Title != "Test Song" {
		t.Errorf("Title = %q", result.Title)
	}
	if result.ChannelID != "chan-1" || result.DurationSeconds != 123 {
		t.Errorf("metadata = %+v", result)
	}

	content, err := os.ReadFile(result.FilePath)
	if err != nil || string(content) != "fake audio" {
		t.Errorf("fetched file = %q, err %v", content, err)
	}
}

func TestExecDownloaderSurfacesStderr(t *testing.T) {
	script := writeFetcherScript(t, `
echo "ERROR: no audio formats found" >&2
exit 1
`)

	d := NewExecDownloader(script, zerolog.Nop())

	_, err := d.Fetch(context.Background(), "gone", t.TempDir())
	if err == nil {
		t.Fatal("Fetch() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "no audio formats found") {
		t.Errorf("error %q does not carry stderr output", err)
	}
}

func TestExecDownloaderRejectsMissingFile(t *testing.T) {
	script := writeFetcherScript(t, `
echo "{\"file\":\"$2/never-written.m4a\",\"title\":\"Ghost\"}"
`)

	d := NewExecDownloader(script, zerolog.Nop())

	_, err := d.Fetch(context.Background(), "ghost", t.TempDir())
	if err == nil {
		t.Fatal("Fetch() succeeded for a file the fetcher never wrote")
	}
}

func TestTailOf(t *testing.T) {
	if got := tailOf("short", 10); got != "short" {
		t.Errorf("tailOf() = %q", got)
	}
	long := strings.Repeat("a", 20) + "end"
	if got := tailOf(long, 5); got != "aaend" {
		t.Errorf("tailOf() = %q", got)
	}
}
