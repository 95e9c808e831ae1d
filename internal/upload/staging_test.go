package upload

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func newTestStaging(t *testing.T) *Staging {
	t.Helper()
	s, err := NewStaging(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	return s
}

func TestStage_WritesFileAndTracksRef(t *testing.T) {
	s := newTestStaging(t)

	staged, err := s.Stage("narration.mp3", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.RefID == "" {
		t.Fatal("expected a ref id")
	}
	if staged.Size != int64(len("audio-bytes")) {
		t.Fatalf("size = %d", staged.Size)
	}

	path, err := s.Path(staged.RefID)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(content) != "audio-bytes" {
		t.Fatalf("content = %q", content)
	}
}

func TestStage_RejectsOversizedFile(t *testing.T) {
	s, err := NewStaging(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}

	_, err = s.Stage("big.bin", strings.NewReader("12345"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}

	if files := s.List(); len(files) != 0 {
		t.Fatalf("rejected upload should not be tracked: %v", files)
	}
}

func TestRelease_DeletesFileExactlyOnce(t *testing.T) {
	s := newTestStaging(t)

	staged, _ := s.Stage("a.jpg", strings.NewReader("img"))
	path, _ := s.Path(staged.RefID)

	if err := s.Release(staged.RefID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should be deleted")
	}

	// Second release is a no-op.
	if err := s.Release(staged.RefID); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	if _, err := s.Path(staged.RefID); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("Path after release = %v, want ErrRefNotFound", err)
	}
}

func TestRelease_UnknownRefIsNoOp(t *testing.T) {
	s := newTestStaging(t)
	if err := s.Release("missing"); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestClose_ReleasesEverything(t *testing.T) {
	s := newTestStaging(t)

	a, _ := s.Stage("a.jpg", strings.NewReader("a"))
	b, _ := s.Stage("b.jpg", strings.NewReader("b"))
	pathA, _ := s.Path(a.RefID)
	pathB, _ := s.Path(b.RefID)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, p := range []string{pathA, pathB} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be deleted", p)
		}
	}
	if files := s.List(); len(files) != 0 {
		t.Fatalf("List = %v, want empty", files)
	}
}

func TestStage_SanitizesTraversalFilenames(t *testing.T) {
	s := newTestStaging(t)

	staged, err := s.Stage("../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	path, _ := s.Path(staged.RefID)
	if strings.Contains(path, "..") {
		t.Fatalf("path = %q contains traversal", path)
	}
}
