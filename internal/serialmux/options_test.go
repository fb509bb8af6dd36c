package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if opts.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", opts.BaudRate)
	}
	if opts.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", opts.DataBits)
	}
	if opts.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", opts.StopBits)
	}
	if opts.Parity != "N" {
		t.Errorf("Parity = %q, want N", opts.Parity)
	}
}

func TestPortOptions_Normalize_ExplicitValues(t *testing.T) {
	in := PortOptions{
		BaudRate: 115200,
		DataBits: 7,
		StopBits: 2,
		Parity:   "E",
	}

	opts, err := in.Normalize()
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if opts.BaudRate != 115200 || opts.DataBits != 7 || opts.StopBits != 2 || opts.Parity != "E" {
		t.Errorf("Normalize changed explicit values: %+v", opts)
	}
}

func TestPortOptions_Normalize_NegativeBaudRate(t *testing.T) {
	opts, err := PortOptions{BaudRate: -1}.Normalize()
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if opts.BaudRate != 9600 {
		t.Errorf("Negative baud rate should fall back to default, got %d", opts.BaudRate)
	}
}

func TestPortOptions_Normalize_StandardBaudRates(t *testing.T) {
	for _, baud := range []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200} {
		opts, err := PortOptions{BaudRate: baud}.Normalize()
		if err != nil {
			t.Errorf("Normalize(%d) returned error: %v", baud, err)
			continue
		}
		if opts.BaudRate != baud {
			t.Errorf("Normalize(%d) changed baud rate to %d", baud, opts.BaudRate)
		}
	}
}

func TestPortOptions_Normalize_InvalidDataBits(t *testing.T) {
	for _, bits := range []int{1, 4, 9, 16} {
		if _, err := (PortOptions{DataBits: bits}).Normalize(); err == nil {
			t.Errorf("Expected error for data bits %d", bits)
		}
	}
}

func TestPortOptions_Normalize_ValidDataBits(t *testing.T) {
	for _, bits := range []int{5, 6, 7, 8} {
		opts, err := PortOptions{DataBits: bits}.Normalize()
		if err != nil {
			t.Errorf("Normalize(DataBits=%d) returned error: %v", bits, err)
			continue
		}
		if opts.DataBits != bits {
			t.Errorf("DataBits = %d, want %d", opts.DataBits, bits)
		}
	}
}

func TestPortOptions_Normalize_InvalidStopBits(t *testing.T) {
	for _, bits := range []int{-1, 3, 5} {
		if _, err := (PortOptions{StopBits: bits}).Normalize(); err == nil {
			t.Errorf("Expected error for stop bits %d", bits)
		}
	}
}

func TestPortOptions_Normalize_ParityVariations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "N"},
		{"n", "N"},
		{"N", "N"},
		{"none", "N"},
		{"NONE", "N"},
		{"e", "E"},
		{"even", "E"},
		{"o", "O"},
		{"odd", "O"},
		{" N ", "N"},
	}

	for _, tt := range tests {
		opts, err := PortOptions{Parity: tt.in}.Normalize()
		if err != nil {
			t.Errorf("Normalize(Parity=%q) returned error: %v", tt.in, err)
			continue
		}
		if opts.Parity != tt.want {
			t.Errorf("Normalize(Parity=%q) = %q, want %q", tt.in, opts.Parity, tt.want)
		}
	}
}

func TestPortOptions_Normalize_InvalidParity(t *testing.T) {
	for _, parity := range []string{"X", "MARK", "12"} {
		if _, err := (PortOptions{Parity: parity}).Normalize(); err == nil {
			t.Errorf("Expected error for parity %q", parity)
		}
	}
}

func TestPortOptions_Equal(t *testing.T) {
	a := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}
	b := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "n"}

	if !a.Equal(b) {
		t.Error("Options differing only in parity case should be equal")
	}
}

func TestPortOptions_Equal_DefaultsMatch(t *testing.T) {
	// Zero options normalize to the defaults, so they compare equal to the
	// explicit default configuration.
	explicit := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}

	if !(PortOptions{}).Equal(explicit) {
		t.Error("Zero options should equal the explicit defaults")
	}
}

func TestPortOptions_Equal_DifferentBaudRate(t *testing.T) {
	a := PortOptions{BaudRate: 9600}
	b := PortOptions{BaudRate: 115200}

	if a.Equal(b) {
		t.Error("Options with different baud rates should not be equal")
	}
}

func TestPortOptions_Equal_DifferentParity(t *testing.T) {
	a := PortOptions{Parity: "N"}
	b := PortOptions{Parity: "E"}

	if a.Equal(b) {
		t.Error("Options with different parity should not be equal")
	}
}

func TestPortOptions_Equal_Invalid(t *testing.T) {
	invalid := PortOptions{DataBits: 3}
	valid := PortOptions{}

	if invalid.Equal(valid) {
		t.Error("Invalid options should not compare equal")
	}
	if valid.Equal(invalid) {
		t.Error("Invalid options should not compare equal in either order")
	}
}

func TestPortOptions_SerialMode_Default(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}

	if mode.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", mode.BaudRate)
	}
	if mode.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", mode.DataBits)
	}
	if mode.Parity != serial.NoParity {
		t.Errorf("Parity = %v, want NoParity", mode.Parity)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("StopBits = %v, want OneStopBit", mode.StopBits)
	}
}

func TestPortOptions_SerialMode_EvenParity(t *testing.T) {
	mode, err := PortOptions{Parity: "even"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}
}

func TestPortOptions_SerialMode_OddParity(t *testing.T) {
	mode, err := PortOptions{Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}
	if mode.Parity != serial.OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}
}

func TestPortOptions_SerialMode_TwoStopBits(t *testing.T) {
	mode, err := PortOptions{StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
}

func TestPortOptions_SerialMode_InvalidOptions(t *testing.T) {
	if _, err := (PortOptions{Parity: "Q"}).SerialMode(); err == nil {
		t.Error("Expected error for invalid parity")
	}
	if _, err := (PortOptions{StopBits: 7}).SerialMode(); err == nil {
		t.Error("Expected error for invalid stop bits")
	}
}
