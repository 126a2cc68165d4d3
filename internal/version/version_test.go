package version

import (
	"strings"
	"testing"
)

func TestPopulated(t *testing.T) {
	if Version == "" {
		t.Error("Version should never be empty after init")
	}
	if Commit == "" {
		t.Error("Commit should never be empty after init")
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Short()) {
		t.Errorf("Full() = %q, should start with %q", full, Short())
	}
	if !strings.Contains(full, "commit: "+Commit) {
		t.Errorf("Full() = %q, missing commit", full)
	}
}
