package monitoring

import "testing"

func TestSetLogger_Replaces(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })

	Logf("controller ready")
	if got != "controller ready" {
		t.Errorf("logger received %q", got)
	}
}

func TestSetLogger_NilInstallsNoop(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	Logf("should be dropped")
	if called {
		t.Error("nil logger should not forward to the previous one")
	}
}

func TestMuted_Restores(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	var calls int
	SetLogger(func(string, ...interface{}) { calls++ })

	restore := Muted()
	Logf("dropped while muted")
	if calls != 0 {
		t.Fatalf("muted logger recorded %d calls", calls)
	}

	restore()
	Logf("counted after restore")
	if calls != 1 {
		t.Errorf("restored logger recorded %d calls, want 1", calls)
	}
}
