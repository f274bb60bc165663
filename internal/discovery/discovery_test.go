package discovery

import (
	"testing"

	"flock/internal/wire"
)

func TestDiscoverEncoding(t *testing.T) {
	raw := wire.Encode(wire.VerbDiscover)
	if wire.Trim(raw) != wire.VerbDiscover {
		t.Fatalf("got %q, want %q", wire.Trim(raw), wire.VerbDiscover)
	}
}

func TestDiscoverServerAddressedForm(t *testing.T) {
	raw := wire.Encode(wire.VerbDiscoverServ, "10.0.0.5", "54321")
	trimmed := wire.Trim(raw)
	verb, rest := wire.Verb(trimmed)
	if verb != wire.VerbDiscoverServ {
		t.Fatalf("verb = %q, want %q", verb, wire.VerbDiscoverServ)
	}
	fields := wire.Fields(rest, 2)
	if len(fields) != 2 || fields[0] != "10.0.0.5" || fields[1] != "54321" {
		t.Fatalf("fields = %v", fields)
	}
}
