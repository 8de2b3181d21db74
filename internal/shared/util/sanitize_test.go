package util

import (
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "clip.webm", want: "clip.webm"},
		{name: "spaces trimmed", in: "  voice note.mp3  ", want: "voice note.mp3"},
		{name: "separators replaced", in: "a/b\\c.ogg", want: "a_b_c.ogg"},
		{name: "traversal rejected", in: "../../etc/passwd", wantErr: true},
		{name: "empty rejected", in: "   ", wantErr: true},
		{name: "control chars stripped", in: "clip\x00\x1f.webm", want: "clip.webm"},
		{name: "only control chars rejected", in: "\x00\x01", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SanitizeFileName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %q", tt.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSanitizeFileNameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 300) + ".webm"
	got, err := SanitizeFileName(long)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > 128 {
		t.Fatalf("length %d exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, ".webm") {
		t.Fatalf("extension lost: %q", got)
	}
}
