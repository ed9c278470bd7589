package numerals

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii untouched", "2 lattes", "2 lattes"},
		{"arabic indic", "٢", "2"},
		{"mixed digits", "اريد ٣ و 4 قطع", "اريد 3 و 4 قطع"},
		{"all ten", "٠١٢٣٤٥٦٧٨٩", "0123456789"},
		{"extended arabic indic", "۱۲", "12"},
		{"empty", "", ""},
		{"no digits", "مرحبا", "مرحبا"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in).String())
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"٢٣ latte و ١ mocha 45",
		"table ٧, 3rd floor",
		"۵ و ٥ و 5",
		"",
		"بدي ١٠٠",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once.String())
		assert.Equal(t, once, twice, in)
		assert.False(t, strings.ContainsFunc(once.String(), isEasternDigit), in)
	}
}

func TestFirstInteger(t *testing.T) {
	n, ok := FirstInteger(Normalize("اريد ٣ اكواب و 2"))
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = FirstInteger(Normalize("three"))
	assert.False(t, ok)
}

func TestIntegers(t *testing.T) {
	assert.Equal(t, []int{1, 22, 3}, Integers(Normalize("1 a ٢٢ b 3")))
	assert.Empty(t, Integers("none"))
}

func TestBareInteger(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{" 5 ", 5, true},
		{"12.", 12, true},
		{"٣؟", 3, true},
		{"5 please", 0, false},
		{"", 0, false},
		{"-2", 0, false},
	}
	for _, tt := range tests {
		n, ok := BareInteger(Normalize(tt.in))
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, n, tt.in)
	}
}

func TestStripDigits(t *testing.T) {
	assert.Equal(t, "vanilla latte", StripDigits("2 vanilla  latte 3"))
	assert.True(t, HasDigit("a1"))
	assert.False(t, HasDigit("abc"))
}
