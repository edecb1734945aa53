package horosafe

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/data/baselines", "landing.png", false},
		{"/data/baselines", "../etc/passwd", true},
		{"/data/baselines", "abc/../def", true},
		{"/data/baselines", "abc/../../outside", true},
		{"/data/baselines", "before-cta_1.png", false},
	}
	for _, tt := range tests {
		_, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"before-cta", false},
		{"landing_v2.mobile", false},
		{"", true},
		{"..", true},
		{".", true},
		{"a/b", true},
		{"with space", true},
		{string(make([]byte, MaxNameLen+1)), true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error=%v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNamedFile(t *testing.T) {
	got, err := NamedFile("/tmp/base", "landing", ".png")
	if err != nil {
		t.Fatalf("NamedFile: %v", err)
	}
	if want := filepath.Join("/tmp/base", "landing.png"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := NamedFile("/tmp/base", "../x", ".png"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("traversal: got %v, want ErrPathTraversal", err)
	}
}

func TestValidateTargetURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/", false},
		{"http://127.0.0.1:8080/staging", false},
		{"ftp://example.com/file", true},
		{"javascript:alert(1)", true},
		{"https://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		err := ValidateTargetURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTargetURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}
