package domain

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals uint8
		want     string
		wantErr  error
	}{
		{"whole", "10", 18, "10000000000000000000", nil},
		{"fraction", "6.000001", 18, "6000001000000000000", nil},
		{"truncates excess digits", "0.1234567", 6, "123456", nil},
		{"truncates never rounds", "0.9999999", 6, "999999", nil},
		{"zero decimals", "42.9", 0, "42", nil},
		{"spaces", "  1.5 ", 2, "150", nil},
		{"empty", "", 18, "", ErrEmptyAmount},
		{"negative", "-1", 18, "", ErrNegativeAmount},
		{"garbage", "1.2.3", 18, "", ErrMalformedAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in, tt.decimals)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAmount(%q) err = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected err: %v", tt.in, err)
			}
			if got.Raw().String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got.Raw(), tt.want)
			}
		})
	}
}

func TestAmountStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "6.000001", "0.000000000000000001", "123456789.987654321"} {
		a, err := ParseAmount(s, 18)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if a.String() != s {
			t.Errorf("round trip %q = %q", s, a.String())
		}
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := NewAmount(big.NewInt(10), 2)
	b := NewAmount(big.NewInt(4), 2)

	sum, err := a.Add(b)
	if err != nil || sum.Raw().Int64() != 14 {
		t.Errorf("Add = %v, %v, want 14", sum.Raw(), err)
	}
	diff, _ := b.Sub(a)
	if diff.Raw().Int64() != -6 {
		t.Errorf("Sub = %v, want -6", diff.Raw())
	}
	if !diff.ClampZero().IsZero() {
		t.Errorf("ClampZero = %v, want 0", diff.ClampZero().Raw())
	}
	if _, err := a.Add(NewAmount(big.NewInt(1), 3)); !errors.Is(err, ErrDecimalsMismatch) {
		t.Errorf("Add mismatched decimals err = %v, want ErrDecimalsMismatch", err)
	}
	if got := a.MulInt(3).Raw().Int64(); got != 30 {
		t.Errorf("MulInt = %d, want 30", got)
	}
}

func TestAmountRescale(t *testing.T) {
	a := NewAmount(big.NewInt(1234567), 6)
	if got := a.Rescale(8).Raw().String(); got != "123456700" {
		t.Errorf("Rescale up = %s, want 123456700", got)
	}
	if got := a.Rescale(2).Raw().String(); got != "123" {
		t.Errorf("Rescale down = %s, want 123", got)
	}
}

func TestAmountDisplay(t *testing.T) {
	a, _ := ParseAmount("1.23456789", 18)
	if got := a.Display(6); got != "1.234567" {
		t.Errorf("Display(6) = %q, want 1.234567", got)
	}
}

func TestAmountJSON(t *testing.T) {
	a, _ := ParseAmount("2.5", 18)
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var back Amount
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Cmp(a) != 0 || back.Decimals() != 18 {
		t.Errorf("json round trip = %s/%d, want %s/18", back, back.Decimals(), a)
	}
}

func TestNewAmountCopiesRaw(t *testing.T) {
	raw := big.NewInt(5)
	a := NewAmount(raw, 0)
	raw.SetInt64(9)
	if a.Raw().Int64() != 5 {
		t.Errorf("NewAmount aliased its input: %v", a.Raw())
	}
	a.Raw().SetInt64(7)
	if a.Raw().Int64() != 5 {
		t.Errorf("Raw returned internal storage")
	}
}
