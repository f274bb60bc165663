package wire

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw := Encode(VerbRegister, "1.2.3.4", "9000", "alice", "5.6.7.8", "9001")
	trimmed := Trim(raw)
	verb, rest := Verb(trimmed)
	if verb != VerbRegister {
		t.Fatalf("verb = %q, want %q", verb, VerbRegister)
	}
	fields := Fields(rest, 5)
	want := []string{"1.2.3.4", "9000", "alice", "5.6.7.8", "9001"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
}

func TestFieldsTrailingEmbeddedSpaces(t *testing.T) {
	fields := Fields("alice hello there world", 2)
	want := []string{"alice", "hello there world"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
}

func TestFieldsNoReplyPrefix(t *testing.T) {
	fields := Fields(". alice 1.2.3.4 9000", 4)
	want := []string{".", "alice", "1.2.3.4", "9000"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
}

func TestVerbNoArgs(t *testing.T) {
	verb, rest := Verb("FIX")
	if verb != "FIX" || rest != "" {
		t.Fatalf("got verb=%q rest=%q", verb, rest)
	}
}
