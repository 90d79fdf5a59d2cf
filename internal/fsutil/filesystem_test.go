package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_ReadDirSorted(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		if err := osfs.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	entries, err := osfs.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 3 || names[0] != "a.txt" || names[2] != "c.txt" {
		t.Errorf("ReadDir names = %v", names)
	}
	if !osfs.Exists(filepath.Join(dir, "a.txt")) {
		t.Error("expected a.txt to exist")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}
	if mfs.Reads("/test.txt") != 1 {
		t.Errorf("Reads = %d, want 1", mfs.Reads("/test.txt"))
	}
}

func TestMemoryFileSystem_CreateIsWriteThrough(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/log/actions.csv")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := io.WriteString(w, "frame_id\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := mfs.ReadFile("/log/actions.csv")
	if string(data) != "frame_id\n" {
		t.Errorf("data before Close = %q", data)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write after Close err = %v, want ErrClosed", err)
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("/data/session_b/frames", 0755)
	mfs.MkdirAll("/data/session_a", 0755)
	mfs.WriteFile("/data/notes.txt", nil, 0644)
	mfs.WriteFile("/data/session_a/actions.csv", nil, 0644)

	entries, err := mfs.ReadDir("/data")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	want := []struct {
		name string
		dir  bool
	}{{"notes.txt", false}, {"session_a", true}, {"session_b", true}}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Name() != w.name || entries[i].IsDir() != w.dir {
			t.Errorf("entry %d = (%s, dir=%v), want (%s, dir=%v)", i, entries[i].Name(), entries[i].IsDir(), w.name, w.dir)
		}
	}

	if _, err := mfs.ReadDir("/missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadDir missing err = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystem_RemoveAndExists(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/s/frames/frame_000001.jpg", []byte{1}, 0644)

	if !mfs.Exists("/s/frames") {
		t.Error("implicit parent directory should exist")
	}
	if err := mfs.Remove("/s/frames/frame_000001.jpg"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if mfs.Exists("/s/frames/frame_000001.jpg") {
		t.Error("file should not exist after Remove")
	}
	if err := mfs.Remove("/s/frames/frame_000001.jpg"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove err = %v, want ErrNotExist", err)
	}
}
