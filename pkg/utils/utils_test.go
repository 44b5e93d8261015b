package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestMediaFilename(t *testing.T) {
	for in, want := range map[string]string{
		"https://cdn.example/a/clip.mp4?sig=abc": "clip.mp4",
		"/tmp/photo.png":                         "photo.png",
		"":                                       "downloaded_media",
	} {
		if got := MediaFilename(in); got != want {
			t.Errorf("MediaFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetMediaReaderHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("pixels"))
	}))
	defer srv.Close()

	rc, name, err := GetMediaReader(context.Background(), srv.URL+"/img.png?x=1")
	if err != nil {
		t.Fatalf("GetMediaReader() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "pixels" || name != "img.png" {
		t.Errorf("got %q, %q", data, name)
	}

	if _, _, err := GetMediaReader(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestGetMediaReaderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	rc, name, err := GetMediaReader(context.Background(), path)
	if err != nil {
		t.Fatalf("GetMediaReader() error = %v", err)
	}
	rc.Close()
	if name != "local.jpg" {
		t.Errorf("name = %q", name)
	}
}

func TestRotatableLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewRotatableLogger(path, 10, 2)
	defer l.Close()

	if _, err := l.Write([]byte("first line of output\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Write([]byte("second\n")); err != nil {
		t.Fatal(err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "first line of output\n" {
		t.Errorf("backup = %q", backup)
	}
	current, _ := os.ReadFile(path)
	if string(current) != "second\n" {
		t.Errorf("current = %q", current)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != zerolog.DebugLevel {
		t.Error("DEBUG should parse")
	}
	if ParseLevel("") != zerolog.InfoLevel || ParseLevel("loud") != zerolog.InfoLevel {
		t.Error("unknown levels should fall back to info")
	}
}
