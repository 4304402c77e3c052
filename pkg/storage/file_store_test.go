package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePutGetDelete(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "moms/1/attachments/notes.txt", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := s.Get(ctx, "moms/1/attachments/notes.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := s.Delete(ctx, "moms/1/attachments/notes.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "moms/1/attachments/notes.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "moms/1/attachments/notes.txt"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestFileStoreKeepsKeysInsideBase(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(filepath.Join(base, "objects"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := s.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("object escaped the base directory")
	}
	if _, err := os.Stat(filepath.Join(base, "objects", "escape.txt")); err != nil {
		t.Fatalf("expected object inside base: %v", err)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\doc.txt`: "doc.txt",
		"   ":                 "attachment",
		"":                    "attachment",
	}
	for in, want := range cases {
		if got := SafeFilename(in); got != want {
			t.Fatalf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAttachmentDisposition(t *testing.T) {
	if got := AttachmentDisposition("weekly sync.pdf"); got != `attachment; filename="weekly sync.pdf"` {
		t.Fatalf("disposition = %q", got)
	}
	if got := AttachmentDisposition(""); got != "attachment" {
		t.Fatalf("disposition = %q", got)
	}
}
