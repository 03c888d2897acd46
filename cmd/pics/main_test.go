package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 30), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestConvertToGIF(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	src := writePNG(t, in, "a.png")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-t", "gif", "--colors", "8", "-o", out, "--meta", src}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stderr.String())
	}

	f, err := os.Open(filepath.Join(out, "a.gif"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := gif.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if p := img.(*image.Paletted); len(p.Palette) > 8 {
		t.Errorf("palette size: got %d, want <= 8", len(p.Palette))
	}
	if _, err := os.Stat(filepath.Join(out, "a.gif.meta.json")); err != nil {
		t.Errorf("metadata sidecar: %v", err)
	}
	if !strings.Contains(stderr.String(), `"msg":"pics.summary"`) {
		t.Errorf("summary not logged:\n%s", stderr.String())
	}
}

func TestBadFileDoesNotStopOthers(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	good := writePNG(t, in, "good.png")
	bad := filepath.Join(in, "bad.png")
	os.WriteFile(bad, []byte("not an image at all"), 0o644)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-t", "pxrw", "-j", "2", "-o", out, bad, good}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "bad.png") {
		t.Fatalf("expected failure naming bad.png, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "good.pxrw")); err != nil {
		t.Errorf("good file not converted: %v", err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 1 {
		t.Errorf("output dir: got %d entries, want 1", len(entries))
	}
}

func TestInfo(t *testing.T) {
	src := writePNG(t, t.TempDir(), "a.png")
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--info", src}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	line := strings.Split(strings.TrimSpace(stdout.String()), "\n")[1]
	for _, want := range []string{"png", "12x8", "rgb", "format"} {
		if !strings.Contains(line, want) {
			t.Errorf("info line %q lacks %q", line, want)
		}
	}
}

func TestList(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--list"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"pixraw", "image/x-pixraw", "image/gif"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("list output lacks %q:\n%s", want, stdout.String())
		}
	}
}

func TestInvalidFlagValues(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--colors", "1", "x.png"}, &stdout, &stderr); err == nil {
		t.Error("expected validation error for --colors 1")
	}
	if err := run(context.Background(), nil, &stdout, &stderr); err == nil {
		t.Error("expected error without input files")
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct{ path, mime, want string }{
		{"/x/photo.jpeg", "image/png", "photo.png"},
		{"scan.tif", "image/x-pixraw", "scan.pxrw"},
		{"noext", "image/gif", "noext.gif"},
	}
	for _, tc := range tests {
		if got := outputName(tc.path, tc.mime); got != tc.want {
			t.Errorf("outputName(%q, %q) = %q; want %q", tc.path, tc.mime, got, tc.want)
		}
	}
}
