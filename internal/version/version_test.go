package version

import "testing"

func TestString_DevBuild(t *testing.T) {
	// Nothing stamps ldflags in tests, so the defaults apply.
	if got := String(); got != "dev (unknown)" {
		t.Errorf("String() = %q, want \"dev (unknown)\"", got)
	}
}
