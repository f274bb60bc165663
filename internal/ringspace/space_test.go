package ringspace

import "testing"

func TestHashDeterministic(t *testing.T) {
	a := Hash("alice")
	b := Hash("alice")
	if a != b {
		t.Fatalf("Hash not deterministic: %d != %d", a, b)
	}
	if a >= Modulus {
		t.Fatalf("Hash %d exceeds modulus %d", a, Modulus)
	}
}

func TestHashDistinct(t *testing.T) {
	if Hash("alice") == Hash("bob") {
		t.Fatalf("unexpected hash collision for distinct short strings")
	}
}

func TestHashEmpty(t *testing.T) {
	if Hash("") != 0 {
		t.Fatalf("expected empty string to hash to 0, got %d", Hash(""))
	}
}

func TestRangeContainsBoundaries(t *testing.T) {
	r := Range{Lower: 10, Upper: 20}
	if !r.Contains(10) || !r.Contains(20) {
		t.Fatalf("expected inclusive boundaries to be contained")
	}
	if r.Contains(9) || r.Contains(21) {
		t.Fatalf("expected values outside the range to be excluded")
	}
}

func TestFullRangeCoversSpace(t *testing.T) {
	r := Full()
	if !r.Contains(0) || !r.Contains(Modulus-1) {
		t.Fatalf("full range must cover [0, M-1]")
	}
}

func TestRangeMid(t *testing.T) {
	r := Range{Lower: 0, Upper: Modulus - 1}
	mid := r.Mid()
	if mid == 0 || mid >= Modulus-1 {
		t.Fatalf("mid of the full range should be strictly interior, got %d", mid)
	}
}
