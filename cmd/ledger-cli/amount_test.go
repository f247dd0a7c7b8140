package main

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"1", 100_000_000},
		{"1.5", 150_000_000},
		{"0.00000001", 1},
		{"12.3", 1_230_000_000},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if err != nil {
			t.Errorf("parseAmount(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseAmount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseAmount_Errors(t *testing.T) {
	for _, in := range []string{"", "-1", "abc", "1.123456789", "1.x", "184467440738"} {
		if _, err := parseAmount(in); err == nil {
			t.Errorf("parseAmount(%q) should fail", in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(150_000_001); got != "1.50000001" {
		t.Errorf("formatAmount = %q, want 1.50000001", got)
	}
	if got := formatAmount(0); got != "0.00000000" {
		t.Errorf("formatAmount(0) = %q", got)
	}
}
