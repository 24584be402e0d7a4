package relocate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackend counts operations so tests can assert how often the relocator
// actually uploads.
type fakeBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int
	saveErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (f *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBackend) Save(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.objects[key] = content
	return "http://cdn.test/" + key, nil
}

func (f *fakeBackend) URL(ctx context.Context, key string) (string, error) {
	return "http://cdn.test/" + key, nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBackend) PurgeExpired(ctx context.Context, ttl int) (int, error) { return 0, nil }

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestRelocateCachedSkipsSecondUpload(t *testing.T) {
	backend := newFakeBackend()
	r := NewRelocator(backend, true, nil)
	dir := t.TempDir()

	first := writeArtifact(t, dir, "a.png", "samebytes")
	url1, err := r.Relocate(context.Background(), first, "deadbeef")
	if err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}
	if url1 != "http://cdn.test/deadbeef.png" {
		t.Fatalf("url = %q", url1)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatal("local artifact should be removed after upload")
	}

	second := writeArtifact(t, dir, "b.png", "samebytes")
	url2, err := r.Relocate(context.Background(), second, "deadbeef")
	if err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}
	if url2 != url1 {
		t.Fatalf("url2 = %q, want %q", url2, url1)
	}
	if backend.saves != 1 {
		t.Fatalf("saves = %d, want 1 (cache hit must skip upload)", backend.saves)
	}
	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Fatal("local artifact should be removed on cache hit")
	}
}

func TestRelocateDisabledCacheUploadsEveryTime(t *testing.T) {
	backend := newFakeBackend()
	r := NewRelocator(backend, false, nil)
	dir := t.TempDir()

	first := writeArtifact(t, dir, "a.png", "samebytes")
	url1, err := r.Relocate(context.Background(), first, "deadbeef")
	if err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}
	second := writeArtifact(t, dir, "b.png", "samebytes")
	url2, err := r.Relocate(context.Background(), second, "deadbeef")
	if err != nil {
		t.Fatalf("Relocate() error = %v", err)
	}
	if url1 == url2 {
		t.Fatalf("urls equal (%q), want fresh key per relocation", url1)
	}
	if backend.saves != 2 {
		t.Fatalf("saves = %d, want 2", backend.saves)
	}
}

func TestRelocateFailurePreservesLocalFile(t *testing.T) {
	backend := newFakeBackend()
	backend.saveErr = errors.New("bucket unavailable")
	r := NewRelocator(backend, true, nil)

	path := writeArtifact(t, t.TempDir(), "a.png", "bytes")
	if _, err := r.Relocate(context.Background(), path, "cafebabe"); err == nil {
		t.Fatal("Relocate() error = nil, want upload failure")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("local artifact missing after failed upload: %v", err)
	}
}

func TestRelocateRequiresHash(t *testing.T) {
	r := NewRelocator(newFakeBackend(), true, nil)
	if _, err := r.Relocate(context.Background(), "/tmp/x.png", ""); err == nil {
		t.Fatal("Relocate() error = nil, want error for empty hash")
	}
}

func TestLocalBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "http://localhost:8080/")
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	url, err := l.Save(context.Background(), "abc.png", []byte("bytes"), "image/png")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if url != "http://localhost:8080/tmp/abc.png" {
		t.Fatalf("url = %q", url)
	}

	exists, err := l.Exists(context.Background(), "abc.png")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	if err := l.Delete(context.Background(), "abc.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	exists, _ = l.Exists(context.Background(), "abc.png")
	if exists {
		t.Fatal("Exists() = true after delete")
	}
}

func TestLocalBackendRejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "http://localhost:8080")
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	for _, key := range []string{"../escape.png", "..", "", "/../../etc/passwd"} {
		if _, err := l.Save(context.Background(), key, []byte("x"), "image/png"); err == nil {
			t.Fatalf("Save(%q) error = nil, want traversal rejection", key)
		}
	}
}

func TestLocalBackendPurgeExpired(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "http://localhost:8080")
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	old := filepath.Join(dir, "old.png")
	fresh := filepath.Join(dir, "fresh.png")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := l.PurgeExpired(context.Background(), 3600)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("stale file still present")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file removed: %v", err)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := []struct {
		ext  string
		want string
	}{
		{".png", "image/png"},
		{".mp4", "video/mp4"},
		{".weird", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := contentTypeFor(tc.ext); !strings.HasPrefix(got, tc.want) {
			t.Fatalf("contentTypeFor(%q) = %q, want prefix %q", tc.ext, got, tc.want)
		}
	}
}
