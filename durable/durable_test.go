package durable

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "baked"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPersist_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("jpeg bytes here")
	src := writeTemp(t, "camplus-snapshot-1.jpg", data)

	dest, err := s.Persist(context.Background(), src)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("written bytes differ from read-back bytes")
	}
	if !strings.HasSuffix(dest, ".jpg") {
		t.Errorf("destination not forced to .jpg: %s", dest)
	}
	if filepath.Dir(dest) != s.Dir() {
		t.Errorf("destination outside stable dir: %s", dest)
	}
}

func TestPersist_DistinctFilesPerCall(t *testing.T) {
	// No dedup at this layer: two persists of the same temp file must
	// produce two independently verifiable stable files.
	var tick int64 = 1_700_000_000_000
	s := newTestStore(t)
	s.now = func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}
	src := writeTemp(t, "snap.jpg", []byte("payload"))

	first, err := s.Persist(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Persist(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("expected distinct stable files, got %s twice", first)
	}
	for _, p := range []string{first, second} {
		if !Exists(p) {
			t.Errorf("stable file not verifiable: %s", p)
		}
	}
}

func TestPersist_SourceMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Persist(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
}

func TestPersist_EmptySourceFails(t *testing.T) {
	s := newTestStore(t)
	src := writeTemp(t, "empty.jpg", nil)
	_, err := s.Persist(context.Background(), src)
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing for zero-size source, got %v", err)
	}
}

func TestPersist_AcceptsFileScheme(t *testing.T) {
	s := newTestStore(t)
	src := writeTemp(t, "scheme.jpg", []byte("x"))
	dest, err := s.Persist(context.Background(), "file://"+src)
	if err != nil {
		t.Fatalf("persist file:// uri: %v", err)
	}
	if !Exists(dest) {
		t.Error("destination missing")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"photo.PNG", "photo.jpg"},
		{"photo.jpeg", "photo.jpg"},
		{"weird name (1).jpg", "weird_name__1_.jpg"},
		{"snap%20shot.jpg", "snap_shot.jpg"},
		{"snap%2520shot.jpg", "snap_shot.jpg"}, // double-encoded
		{"no-extension", "no-extension.jpg"},
		{"", "snap.jpg"},
	}
	for _, c := range cases {
		if got := SanitizeName(c.in); got != c.want {
			t.Errorf("SanitizeName(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEnsureFile_DataURI(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("fake image payload")
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)

	path, err := s.EnsureFile(uri)
	if err != nil {
		t.Fatalf("ensure data uri: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("decoded payload mismatch")
	}
}

func TestEnsureFile_PassThroughAndRejects(t *testing.T) {
	s := newTestStore(t)

	if got, err := s.EnsureFile("file:///a/b.jpg"); err != nil || got != "/a/b.jpg" {
		t.Errorf("file:// passthrough: got %q, %v", got, err)
	}
	if got, err := s.EnsureFile("/a/b.jpg"); err != nil || got != "/a/b.jpg" {
		t.Errorf("bare path passthrough: got %q, %v", got, err)
	}
	if _, err := s.EnsureFile("https://example.com/x.jpg"); err == nil {
		t.Error("remote scheme should be rejected")
	}
	if _, err := s.EnsureFile("data:image/jpeg;base64,!!!"); err == nil {
		t.Error("bad base64 should be rejected")
	}
	if _, err := s.EnsureFile(""); err == nil {
		t.Error("empty uri should be rejected")
	}
}
