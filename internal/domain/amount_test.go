package domain

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"100", 100_000_000, false},
		{"100.5", 100_500_000, false},
		{" 0.000001 ", 1, false},
		{"0", 0, false},
		{"18446744073709.551615", 18446744073709551615, false},
		{"18446744073709.551616", 0, true},
		{"0.0000001", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in, DefaultDecimals)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("ParseAmount(%q) err = %v, want ErrInvalidAmount", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestAmountFormat(t *testing.T) {
	tests := []struct {
		in   Amount
		want string
	}{
		{0, "0"},
		{1, "0.000001"},
		{100_500_000, "100.5"},
		{200_000_000, "200"},
	}
	for _, tc := range tests {
		if got := tc.in.Format(DefaultDecimals); got != tc.want {
			t.Errorf("Amount(%d).Format() = %q, want %q", tc.in, got, tc.want)
		}
	}
}
