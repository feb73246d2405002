package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store := NewArtifactStore(t.TempDir())

	uri, err := store.Write("job-1", "result.json", []byte(`{"total":1337}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if uri != "artifact://job-1/result.json" {
		t.Fatalf("unexpected uri %q", uri)
	}

	name, ok := ResolveFilenameFromURI(uri)
	if !ok || name != "result.json" {
		t.Fatalf("resolve = %q, %v; want result.json", name, ok)
	}

	data, err := store.Read("job-1", "result.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"total":1337}` {
		t.Fatalf("unexpected contents %q", data)
	}

	info, err := store.Stat("job-1", "result.json")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size != int64(len(data)) || info.LastModified.IsZero() {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestPublicBaseURIRoundTrip(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), WithPublicBase("https://files.example.com/artifacts/"))

	uri, err := store.Write("job-2", "result.json", []byte("x"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if uri != "https://files.example.com/artifacts/job-2/result.json" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if name, ok := ResolveFilenameFromURI(uri); !ok || name != "result.json" {
		t.Fatalf("resolve = %q, %v", name, ok)
	}
}

func TestWriteIsIdempotentPerJobDir(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root)

	for i := 0; i < 2; i++ {
		if _, err := store.Write("job-3", "a.bin", []byte{byte(i)}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	data, err := store.Read("job-3", "a.bin")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 1 || data[0] != 1 {
		t.Fatalf("expected last write to win, got %v", data)
	}

	entries, err := os.ReadDir(filepath.Join(root, "job-3"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestValidateFilenameRejectsTraversal(t *testing.T) {
	bad := []string{"", ".", "..", "../etc/passwd", "a/../../b", "/etc/passwd", `..\secret`, "sub/file.json", `\abs`}
	for _, name := range bad {
		if err := ValidateFilename(name); !errors.Is(err, ErrInvalidFilename) {
			t.Fatalf("expected %q to be rejected, got %v", name, err)
		}
	}
	for _, name := range []string{"result.json", "report-v2.csv", "..hidden"} {
		if err := ValidateFilename(name); err != nil {
			t.Fatalf("expected %q to be accepted, got %v", name, err)
		}
	}
}

func TestWriteRejectsTraversal(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	if _, err := store.Write("job-1", "../escape.json", []byte("x")); !errors.Is(err, ErrInvalidFilename) {
		t.Fatalf("expected invalid filename, got %v", err)
	}
	if _, err := store.Write("../job", "result.json", []byte("x")); !errors.Is(err, ErrInvalidFilename) {
		t.Fatalf("expected invalid job id, got %v", err)
	}
}

func TestResolveFilenameFromURIRejectsUnsafeNames(t *testing.T) {
	for _, uri := range []string{
		"",
		"artifact://job-1",
		"artifact://job-1/",
		"https://files.example.com/job-1/..%2Fsecret",
		"https://files.example.com/job-1/%2E%2E",
	} {
		if name, ok := ResolveFilenameFromURI(uri); ok {
			t.Fatalf("expected %q to be rejected, got %q", uri, name)
		}
	}
}

func TestMissingArtifact(t *testing.T) {
	store := NewArtifactStore(t.TempDir())

	exists, err := store.Exists("job-9", "result.json")
	if err != nil || exists {
		t.Fatalf("exists = %v, %v; want false, nil", exists, err)
	}
	if _, err := store.Read("job-9", "result.json"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := store.URIFor("job-9", "result.json"); got != "artifact://job-9/result.json" {
		t.Fatalf("unexpected uri %q", got)
	}
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root)
	if _, err := store.Write("job-1", "result.json", []byte("{}")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.Remove("job-1", "result.json"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if exists, _ := store.Exists("job-1", "result.json"); exists {
		t.Fatal("artifact still present")
	}
	if _, err := os.Stat(filepath.Join(root, "job-1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty job dir should be removed, stat err = %v", err)
	}

	if err := store.Remove("job-1", "result.json"); err != nil {
		t.Fatalf("removing a missing artifact: %v", err)
	}
	if err := store.Remove("job-1", "../escape"); !errors.Is(err, ErrInvalidFilename) {
		t.Fatalf("expected ErrInvalidFilename, got %v", err)
	}
}
