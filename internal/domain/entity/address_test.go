package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "already canonical",
			input:    "0x00000000000000000000000000000000000000ab",
			expected: "0x00000000000000000000000000000000000000ab",
		},
		{
			name:     "upper case is lowered",
			input:    "0x00000000000000000000000000000000000000AB",
			expected: "0x00000000000000000000000000000000000000ab",
		},
		{
			name:     "surrounding whitespace is trimmed",
			input:    "  0x00000000000000000000000000000000000000ab\t",
			expected: "0x00000000000000000000000000000000000000ab",
		},
		{
			name:     "short hex is padded to 40 digits",
			input:    "0xab",
			expected: "0x00000000000000000000000000000000000000ab",
		},
		{
			name:     "extra leading zeros collapse to the same key",
			input:    "0x000000000000000000000000000000000000000000ab",
			expected: "0x00000000000000000000000000000000000000ab",
		},
		{
			name:     "all zero address",
			input:    "0x0000000000000000000000000000000000000000",
			expected: "0x0000000000000000000000000000000000000000",
		},
		{
			name:     "non hex content is left alone",
			input:    "0xNOTHEX",
			expected: "0xnothex",
		},
		{
			name:     "too many significant digits is left alone",
			input:    "0x1111111111111111111111111111111111111111ab",
			expected: "0x1111111111111111111111111111111111111111ab",
		},
		{
			name:     "non prefixed input only trims and lowers",
			input:    "  Some-Label ",
			expected: "some-label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

func TestNormalizeAddressIdempotent(t *testing.T) {
	inputs := []string{
		"0xAB",
		"0x00000000000000000000000000000000000000ab",
		"0xdeadbeef",
		"not-an-address",
	}
	for _, in := range inputs {
		once := NormalizeAddress(in)
		assert.Equal(t, once, NormalizeAddress(once), "normalizing %q twice changed the result", in)
	}
}

func TestNormalizeAddressVariantsCollide(t *testing.T) {
	variants := []string{
		"0xAB",
		"0x00ab",
		" 0x00000000000000000000000000000000000000AB ",
		"0x000000000000000000000000000000000000000000ab",
	}
	want := NormalizeAddress(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, want, NormalizeAddress(v))
	}
}
