package prompt

import (
	"strings"
	"testing"
)

func TestSystem(t *testing.T) {
	t.Parallel()

	got := System()
	if got == "" {
		t.Fatal("system instructions must not be empty")
	}
	if got != strings.TrimSpace(got) {
		t.Fatal("system instructions must be trimmed")
	}
	if !strings.Contains(got, "phone call") {
		t.Fatalf("unexpected instructions: %q", got)
	}
}

func TestSystemOr(t *testing.T) {
	t.Parallel()

	if got := SystemOr("  be brief  "); got != "be brief" {
		t.Fatalf("unexpected override: %q", got)
	}
	if SystemOr(" ") != System() {
		t.Fatal("blank override must fall back to the embedded instructions")
	}
}
