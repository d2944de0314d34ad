package security

import (
	"testing"
)

func TestValidatePath_PathTraversal(t *testing.T) {
	v := NewValidator(1024)

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"file.txt", false},
		{"dir/file.txt", false},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/../file.txt", false},
		{"dir/../../etc/passwd", true},
	}

	for _, tt := range tests {
		err := v.ValidatePath(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for path: %s", tt.path)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for path %s: %v", tt.path, err)
		}
	}
}

func TestValidateCacheName(t *testing.T) {
	v := NewValidator(0)

	tests := []struct {
		name      string
		shouldErr bool
	}{
		{"fedora-40.iso", false},
		{"ubuntu", false},
		{"", true},
		{".", true},
		{"..", true},
		{"sub/dir.iso", true},
		{`win\dows.iso`, true},
		{"/tmp/abs.iso", true},
	}

	for _, tt := range tests {
		err := v.ValidateCacheName(tt.name)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for name: %q", tt.name)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for name %q: %v", tt.name, err)
		}
	}
}

func TestValidateImageSize(t *testing.T) {
	v := NewValidator(100)

	if err := v.ValidateImageSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}

	if err := v.ValidateImageSize(150); err == nil {
		t.Error("expected error for size 150 exceeding limit 100")
	}

	unlimited := NewValidator(0)
	if err := unlimited.ValidateImageSize(1 << 40); err != nil {
		t.Errorf("zero limit should disable the check, got: %v", err)
	}
}

func TestValidateFits(t *testing.T) {
	v := NewValidator(0)

	if err := v.ValidateFits(10, 100); err != nil {
		t.Errorf("10 bytes should fit in 100: %v", err)
	}
	if err := v.ValidateFits(100, 100); err != nil {
		t.Errorf("exact fit should pass: %v", err)
	}
	if err := v.ValidateFits(101, 100); err == nil {
		t.Error("expected error for image larger than device")
	}
	if err := v.ValidateFits(101, 0); err != nil {
		t.Errorf("unknown device size should pass: %v", err)
	}
}
