package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aiulian25/soundwave/internal/config"
	"github.com/aiulian25/soundwave/internal/models"
)

func TestNewService(t *testing.T) {
	log := zerolog.Nop()

	tests := []struct {
		name                string
		bucket              string
		expectedStorageType string
	}{
		{
			name:                "filesystem storage when no bucket configured",
			bucket:              "",
			expectedStorageType: "filesystem",
		},
		{
			name:                "s3 storage when bucket configured",
			bucket:              "soundwave-media",
			expectedStorageType: "s3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				MediaRoot:         t.TempDir(),
				S3Bucket:          tt.bucket,
				S3Region:          "us-east-1",
				S3AccessKeyID:     "test",
				S3SecretAccessKey: "test",
			}

			svc, err := NewService(cfg, log)
			if err != nil {
				t.Fatalf("NewService() error: %v", err)
			}
			if svc.storage == nil {
				t.Fatal("NewService() storage is nil")
			}

			switch tt.expectedStorageType {
			case "filesystem":
				if _, ok := svc.storage.(*FilesystemStorage); !ok {
					t.Errorf("NewService() storage type = %T, want *FilesystemStorage", svc.storage)
				}
			case "s3":
				if _, ok := svc.storage.(*S3Storage); !ok {
					t.Errorf("NewService() storage type = %T, want *S3Storage", svc.storage)
				}
			}
		})
	}
}

func TestBuildTrackPath(t *testing.T) {
	tests := []struct {
		name      string
		ownerID   string
		trackID   string
		extension string
		expected  string
	}{
		{
			name:      "standard path",
			ownerID:   "owner-a",
			trackID:   "abcd1234efgh5678",
			extension: ".m4a",
			expected:  "owner-a/ab/cd/abcd1234efgh5678.m4a",
		},
		{
			name:      "short trackID",
			ownerID:   "owner-b",
			trackID:   "abc",
			extension: ".opus",
			expected:  "owner-b/abc.opus",
		},
		{
			name:      "exactly 4 chars",
			ownerID:   "owner-c",
			trackID:   "abcd",
			extension: ".mp3",
			expected:  "owner-c/ab/cd/abcd.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildTrackPath(tt.ownerID, tt.trackID, tt.extension)
			if result != tt.expected {
				t.Errorf("buildTrackPath() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestFilesystemRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFilesystemStorage(t.TempDir(), zerolog.Nop())

	content := []byte("not really audio")
	path, size, err := fs.Store(ctx, "owner-a", "abcd1234", ".m4a", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("Store() size = %d, want %d", size, len(content))
	}
	if path != filepath.Join("owner-a", "ab", "cd", "abcd1234.m4a") {
		t.Errorf("Store() path = %q", path)
	}

	exists, err := fs.Exists(ctx, path)
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	reader, err := fs.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	got, err := io.ReadAll(reader)
	reader.Close()
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("Open() read %q, err %v, want %q", got, err, content)
	}

	url, err := fs.URL(ctx, path)
	if err != nil || url != "" {
		t.Errorf("URL() = %q, %v; filesystem should serve through Open", url, err)
	}

	if err := fs.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	exists, _ = fs.Exists(ctx, path)
	if exists {
		t.Error("file still exists after Delete()")
	}

	// Deleting an already-gone file is not an error.
	if err := fs.Delete(ctx, path); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
}

func TestFilesystemListScopedToPrefix(t *testing.T) {
	ctx := context.Background()
	fs := NewFilesystemStorage(t.TempDir(), zerolog.Nop())

	seed := func(owner, track string) string {
		t.Helper()
		path, _, err := fs.Store(ctx, owner, track, ".m4a", bytes.NewReader([]byte("x")))
		if err != nil {
			t.Fatalf("Store(%s/%s) error: %v", owner, track, err)
		}
		return path
	}

	wantA := []string{seed("owner-a", "track001"), seed("owner-a", "track002")}
	seed("owner-b", "track003")

	var got []string
	err := fs.List(ctx, "owner-a", func(path string, size int64) error {
		got = append(got, path)
		return nil
	})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}

	sort.Strings(got)
	sort.Strings(wantA)
	if len(got) != len(wantA) {
		t.Fatalf("List() returned %d paths, want %d: %v", len(got), len(wantA), got)
	}
	for i := range got {
		if got[i] != wantA[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], wantA[i])
		}
	}

	// Listing a prefix with no files is a no-op, not an error.
	if err := fs.List(ctx, "owner-z", func(string, int64) error { return nil }); err != nil {
		t.Errorf("List() on empty prefix error: %v", err)
	}
}

func newVerifyTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Track{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestVerifyBothDirections(t *testing.T) {
	ctx := context.Background()
	db := newVerifyTestDB(t)
	fs := NewFilesystemStorage(t.TempDir(), zerolog.Nop())
	verifier := NewVerifier(db, fs, zerolog.Nop())

	intact, _, err := fs.Store(ctx, "owner-a", "trackaaaa", ".m4a", bytes.NewReader([]byte("keep")))
	if err != nil {
		t.Fatal(err)
	}
	returned, _, err := fs.Store(ctx, "owner-a", "trackcccc", ".m4a", bytes.NewReader([]byte("back")))
	if err != nil {
		t.Fatal(err)
	}

	rows := []models.Track{
		{ID: "track-a", OwnerID: "owner-a", YoutubeID: "yt-a", StoragePath: intact, Status: models.TrackReady},
		{ID: "track-b", OwnerID: "owner-a", YoutubeID: "yt-b", StoragePath: "owner-a/go/ne/gone.m4a", Status: models.TrackReady},
		{ID: "track-c", OwnerID: "owner-a", YoutubeID: "yt-c", StoragePath: returned, Status: models.TrackMissing},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatal(err)
		}
	}

	orphanPath := filepath.Join("owner-a", "stray.m4a")
	full := filepath.Join(fs.root, orphanPath)
	if err := os.WriteFile(full, []byte("stray bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := verifier.Verify(ctx, "owner-a", true)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	if report.TracksChecked != 3 {
		t.Errorf("TracksChecked = %d, want 3", report.TracksChecked)
	}
	if len(report.MissingTracks) != 1 || report.MissingTracks[0] != "track-b" {
		t.Errorf("MissingTracks = %v, want [track-b]", report.MissingTracks)
	}
	if len(report.RestoredTracks) != 1 || report.RestoredTracks[0] != "track-c" {
		t.Errorf("RestoredTracks = %v, want [track-c]", report.RestoredTracks)
	}
	if len(report.OrphanFiles) != 1 || report.OrphanFiles[0] != orphanPath {
		t.Errorf("OrphanFiles = %v, want [%s]", report.OrphanFiles, orphanPath)
	}
	if report.OrphanBytes != int64(len("stray bytes")) {
		t.Errorf("OrphanBytes = %d", report.OrphanBytes)
	}

	var trackB, trackC models.Track
	db.First(&trackB, "id = ?", "track-b")
	db.First(&trackC, "id = ?", "track-c")
	if trackB.Status != models.TrackMissing {
		t.Errorf("track-b status = %s, want missing", trackB.Status)
	}
	if trackC.Status != models.TrackReady {
		t.Errorf("track-c status = %s, want ready", trackC.Status)
	}

	removed, err := verifier.RemoveOrphans(ctx, report.OrphanFiles)
	if err != nil || removed != 1 {
		t.Fatalf("RemoveOrphans() = %d, %v, want 1", removed, err)
	}
	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Error("orphan file still on disk after RemoveOrphans()")
	}
}

func TestVerifyWithoutRepairLeavesStatusAlone(t *testing.T) {
	ctx := context.Background()
	db := newVerifyTestDB(t)
	fs := NewFilesystemStorage(t.TempDir(), zerolog.Nop())
	verifier := NewVerifier(db, fs, zerolog.Nop())

	row := models.Track{
		ID: "track-b", OwnerID: "owner-a", YoutubeID: "yt-b",
		StoragePath: "owner-a/go/ne/gone.m4a", Status: models.TrackReady,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatal(err)
	}

	report, err := verifier.Verify(ctx, "", false)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if len(report.MissingTracks) != 1 {
		t.Fatalf("MissingTracks = %v, want one entry", report.MissingTracks)
	}

	var after models.Track
	db.First(&after, "id = ?", "track-b")
	if after.Status != models.TrackReady {
		t.Errorf("status = %s, want ready untouched without repair", after.Status)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		ext      string
		expected string
	}{
		{".mp3", "audio/mpeg"},
		{".m4a", "audio/mp4"},
		{"opus", "audio/ogg"},
		{".webm", "audio/webm"},
		{".xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := contentTypeFor(tt.ext); got != tt.expected {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tt.ext, got, tt.expected)
		}
	}
}
