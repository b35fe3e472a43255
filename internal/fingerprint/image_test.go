package fingerprint

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLoader_BaseDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "people"), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "people", "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, testImage(12, 8)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	relative, err := FileLoader{BaseDir: dir}.Load("people/a.png")
	if err != nil {
		t.Fatalf("relative load: %v", err)
	}
	if relative.Bounds().Dx() != 12 || relative.Bounds().Dy() != 8 {
		t.Errorf("unexpected bounds %v", relative.Bounds())
	}

	if _, err := (FileLoader{BaseDir: "/nonexistent"}).Load(filepath.Join(dir, "people", "a.png")); err != nil {
		t.Errorf("absolute paths must ignore the base dir: %v", err)
	}

	if _, err := (FileLoader{}).Load(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEncodeJPEG_Resize(t *testing.T) {
	out := Resize(testImage(40, 20), 10, 10)
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 10 {
		t.Errorf("unexpected resized bounds %v", out.Bounds())
	}
	data, err := EncodeJPEG(out)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("expected JPEG magic bytes")
	}
}
