package baseline

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/pagecheck/imgdiff"
)

func writeImage(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	if err := imgdiff.WritePNG(path, img); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{Dir: filepath.Join(dir, "baselines")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestCompare_SkippedWithoutBaseline(t *testing.T) {
	s, dir := testStore(t)
	cur := filepath.Join(dir, "cur.png")
	writeImage(t, cur, 4, 4, color.NRGBA{A: 255})

	if s.Has("landing") {
		t.Fatal("Has: got true before any Save")
	}
	res, err := s.Compare(cur, "landing")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !res.Skipped {
		t.Error("Skipped: got false, want true")
	}
	if res.MismatchRatio != 0 {
		t.Errorf("MismatchRatio: got %v, want 0 when skipped", res.MismatchRatio)
	}
}

func TestSave_ThenCompare(t *testing.T) {
	s, dir := testStore(t)
	cur := filepath.Join(dir, "cur.png")
	writeImage(t, cur, 4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	stored, err := s.Save(cur, "landing")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Has("landing") {
		t.Fatal("Has: got false after Save")
	}

	want, _ := os.ReadFile(cur)
	got, _ := os.ReadFile(stored)
	if !bytes.Equal(got, want) {
		t.Error("stored baseline differs from the saved capture")
	}

	res, err := s.Compare(cur, "landing")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Skipped {
		t.Error("Skipped: got true with a baseline present")
	}
	if res.MismatchRatio != 0 {
		t.Errorf("MismatchRatio: got %v, want 0", res.MismatchRatio)
	}
}

func TestSave_Overwrites(t *testing.T) {
	s, dir := testStore(t)
	first := filepath.Join(dir, "first.png")
	second := filepath.Join(dir, "second.png")
	writeImage(t, first, 4, 4, color.NRGBA{A: 255})
	writeImage(t, second, 4, 4, color.NRGBA{R: 255, A: 255})

	if _, err := s.Save(first, "cta"); err != nil {
		t.Fatal(err)
	}
	stored, err := s.Save(second, "cta")
	if err != nil {
		t.Fatal(err)
	}

	want, _ := os.ReadFile(second)
	got, _ := os.ReadFile(stored)
	if !bytes.Equal(got, want) {
		t.Error("second Save did not overwrite the baseline")
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Errorf("baseline dir: got %d entries, want 1 (no temp leftovers)", len(entries))
	}
}

func TestCompare_Regression(t *testing.T) {
	s, dir := testStore(t)
	base := filepath.Join(dir, "base.png")
	cur := filepath.Join(dir, "cur.png")
	writeImage(t, base, 4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	writeImage(t, cur, 4, 4, color.NRGBA{A: 255})

	if _, err := s.Save(base, "landing"); err != nil {
		t.Fatal(err)
	}
	res, err := s.Compare(cur, "landing")
	if err != nil {
		t.Fatal(err)
	}
	if res.MismatchRatio != 1 {
		t.Errorf("MismatchRatio: got %v, want 1", res.MismatchRatio)
	}
	if !res.DiffSaved {
		t.Fatal("DiffSaved: got false")
	}
	if filepath.Base(res.DiffPath) != "landing.diff.png" {
		t.Errorf("DiffPath: got %q", res.DiffPath)
	}
}

func TestCompare_SizeChange(t *testing.T) {
	s, dir := testStore(t)
	base := filepath.Join(dir, "base.png")
	cur := filepath.Join(dir, "cur.png")
	writeImage(t, base, 4, 4, color.NRGBA{A: 255})
	writeImage(t, cur, 5, 4, color.NRGBA{A: 255})

	if _, err := s.Save(base, "landing"); err != nil {
		t.Fatal(err)
	}
	res, err := s.Compare(cur, "landing")
	if err != nil {
		t.Fatal(err)
	}
	if res.MismatchRatio != 1 || res.DiffSaved || res.Skipped {
		t.Errorf("got ratio=%v saved=%v skipped=%v, want 1/false/false",
			res.MismatchRatio, res.DiffSaved, res.Skipped)
	}
}

func TestInvalidCheckpoint(t *testing.T) {
	s, dir := testStore(t)
	cur := filepath.Join(dir, "cur.png")
	writeImage(t, cur, 2, 2, color.NRGBA{A: 255})

	if _, err := s.Save(cur, "../escape"); err == nil {
		t.Error("Save: expected error for traversal checkpoint")
	}
	if _, err := s.Compare(cur, "a/b"); err == nil {
		t.Error("Compare: expected error for invalid checkpoint")
	}
	if s.Has("../escape") {
		t.Error("Has: got true for invalid checkpoint")
	}
}
