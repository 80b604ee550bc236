package code

import (
	"errors"
	"fmt"
	"testing"
)

// TestGenerateShape verifies that every generated code is exactly six digits
// inside the documented range.
func TestGenerateShape(t *testing.T) {
	for i := 0; i < 2000; i++ {
		c := Generate()
		if len(c) != Length {
			t.Fatalf("Generate() = %q, want %d chars", c, Length)
		}
		if !Valid(c) {
			t.Fatalf("Generate() = %q contains non-digits", c)
		}
		if c < "100000" || c > "999999" {
			t.Fatalf("Generate() = %q outside 100000..999999", c)
		}
	}
}

// TestFormatNormalizeRoundTrip checks normalize(format(code)) == code.
func TestFormatNormalizeRoundTrip(t *testing.T) {
	codes := []string{"100000", "999999", "482913", "123456", "000000"}
	for i := 0; i < 200; i++ {
		codes = append(codes, Generate())
	}

	for _, c := range codes {
		got, err := Normalize(Format(c))
		if err != nil {
			t.Fatalf("Normalize(Format(%q)): %v", c, err)
		}
		if got != c {
			t.Fatalf("round trip of %q gave %q", c, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	testCases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"482913", "482913", false},
		{"482-913", "482913", false},
		{" 482 913 ", "482913", false},
		{"code: 48.29.13", "482913", false},
		{"48291", "", true},
		{"4829134", "", true},
		{"", "", true},
		{"abcdef", "", true},
		{"４８２９１３", "", true}, // full-width digits are not ASCII
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q", tc.input), func(t *testing.T) {
			got, err := Normalize(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	if got := Format("123456"); got != "123-456" {
		t.Errorf("Format(123456) = %q", got)
	}
	if got := Format("12345"); got != "12345" {
		t.Errorf("Format should leave short input alone, got %q", got)
	}
}

// TestScenarioCodeEntry mirrors a receiver showing "482913" and a sender
// typing the formatted form.
func TestScenarioCodeEntry(t *testing.T) {
	shown := Format("482913")
	if shown != "482-913" {
		t.Fatalf("shown code = %q", shown)
	}
	entered, err := Normalize("482-913")
	if err != nil {
		t.Fatal(err)
	}
	if entered != "482913" {
		t.Fatalf("entered code normalized to %q", entered)
	}
}
