package header

import "testing"

func TestParseValid(t *testing.T) {
	cases := map[string]int64{
		"0":    0,
		"10":   10,
		"-3":   -3,
		"-0":   0,
		"9999": 9999,
	}
	for in, want := range cases {
		got, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{"", "abc", "1.5", "1 ", " 1", "--1", "1-", "0x10"}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q): expected error, got none", in)
		}
	}
}

func TestResolveNonNegative(t *testing.T) {
	if got := Resolve(5, 3); got != 5 {
		t.Errorf("Resolve(5, 3) = %d, want 5 (offset beyond length is allowed)", got)
	}
	if got := Resolve(0, 0); got != 0 {
		t.Errorf("Resolve(0, 0) = %d, want 0", got)
	}
}

func TestResolveNegative(t *testing.T) {
	if got := Resolve(-3, 10); got != 7 {
		t.Errorf("Resolve(-3, 10) = %d, want 7", got)
	}
	if got := Resolve(-30, 10); got != 0 {
		t.Errorf("Resolve(-30, 10) = %d, want 0 (clamped)", got)
	}
	if got := Resolve(-1, 0); got != 0 {
		t.Errorf("Resolve(-1, 0) = %d, want 0", got)
	}
}
