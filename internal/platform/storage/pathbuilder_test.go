package storage

import (
	"strings"
	"testing"
)

func TestBuildImageFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "matcha.png", want: "01ABC-matcha.png"},
		{name: "spaces", input: "green tea.jpg", want: "01ABC-green-tea.jpg"},
		{name: "directories dropped", input: "../../etc/passwd", want: "01ABC-passwd"},
		{name: "windows path", input: `C:\Users\kim\photo.webp`, want: "01ABC-photo.webp"},
		{name: "unicode dropped", input: "緑茶.png", want: "01ABC-png"},
		{name: "empty", input: "  ", want: "01ABC-image"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildImageFilename("01ABC", tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestBuildImageFilenameTruncatesStem(t *testing.T) {
	got, err := BuildImageFilename("01ABC", strings.Repeat("a", 300)+".png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxFilenameLength {
		t.Fatalf("expected length %d, got %d", maxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".png") {
		t.Fatalf("expected extension to survive, got %s", got)
	}
}

func TestBuildImageFilenameRejectsInvalidID(t *testing.T) {
	for _, id := range []string{"", "a/b", "..x"} {
		if _, err := BuildImageFilename(id, "file.png"); err == nil {
			t.Fatalf("expected error for id %q", id)
		}
	}
}
