package serialport

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got != DefaultPortOptions() {
		t.Errorf("Normalize() = %+v, want %+v", got, DefaultPortOptions())
	}
}

func TestPortOptions_Normalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"odd baud", PortOptions{BaudRate: 12345}},
		{"data bits low", PortOptions{DataBits: 4}},
		{"data bits high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalize(); err == nil {
				t.Errorf("Normalize(%+v) expected error", tt.opts)
			}
		})
	}
}

func TestPortOptions_Normalize_ParityVariations(t *testing.T) {
	tests := map[string]string{
		"":      "N",
		"none":  "N",
		" n ":   "N",
		"even":  "E",
		"E":     "E",
		"Odd":   "O",
		"o":     "O",
		"NONE ": "N",
	}
	for in, want := range tests {
		got, err := PortOptions{Parity: in}.Normalize()
		if err != nil {
			t.Errorf("parity %q: unexpected error %v", in, err)
			continue
		}
		if got.Parity != want {
			t.Errorf("parity %q normalized to %q, want %q", in, got.Parity, want)
		}
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(DefaultPortOptions()) {
		t.Error("zero options should equal defaults")
	}
	if (PortOptions{BaudRate: 115200}).Equal(DefaultPortOptions()) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{Parity: "X"}).Equal(PortOptions{Parity: "X"}) {
		t.Error("invalid options should never be equal")
	}
}

func TestPortOptions_String(t *testing.T) {
	if got := (PortOptions{}).String(); got != "230400 8N1" {
		t.Errorf("String() = %q", got)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 230400 || mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		t.Errorf("default mode = %+v", mode)
	}

	mode, err = PortOptions{BaudRate: 115200, StopBits: 2, Parity: "E"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.StopBits != serial.TwoStopBits || mode.Parity != serial.EvenParity {
		t.Errorf("mode = %+v", mode)
	}

	if _, err := (PortOptions{DataBits: 12}).SerialMode(); err == nil {
		t.Error("expected error for invalid options")
	}
}
