package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCell_StripsHTML(t *testing.T) {
	assert.Equal(t, "hello world", Cell("<b>hello</b> <i>world</i>", 0))
}

func TestCell_NormalizesNewlines(t *testing.T) {
	assert.Equal(t, "a\nb\nc", Cell("a\r\nb\rc", 0))
}

func TestCell_StripsControlCharsExceptLFTab(t *testing.T) {
	in := "a\x00b\x07c\td\ne"
	assert.Equal(t, "abc\td\ne", Cell(in, 0))
}

func TestCell_TruncatesAtMaxLen(t *testing.T) {
	assert.Equal(t, "hello", Cell("hello world", 5))
}

func TestCell_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, "hi", Cell("  hi  ", 0))
}

func TestCSVField_FormulaInjection(t *testing.T) {
	cases := []string{"=SUM(A1:A2)", "+1+1", "-1", "@cmd"}
	for _, c := range cases {
		got := CSVField(c, 0)
		assert.True(t, strings.HasPrefix(got, "'"), "expected quote prefix for %q, got %q", c, got)
	}
}

func TestCSVField_QuotesCommaAndQuote(t *testing.T) {
	got := CSVField(`a,"b"`, 0)
	assert.Equal(t, `"a,""b"""`, got)
}

func TestCSVField_PlainFieldUnchanged(t *testing.T) {
	assert.Equal(t, "plain", CSVField("plain", 0))
}

func TestFilename_StripsDirectoryPrefix(t *testing.T) {
	assert.Equal(t, "file.txt", Filename("/etc/passwd/../file.txt"))
	assert.Equal(t, "file.txt", Filename(`C:\Users\a\file.txt`))
}

func TestFilename_ReplacesReservedChars(t *testing.T) {
	assert.Equal(t, "a_b_c", Filename("a:b<c"))
}

func TestFilename_CapsLengthPreservingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".txt"
	got := Filename(long)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".txt"))
}

func TestMIME_LowercasesValid(t *testing.T) {
	assert.Equal(t, "image/png", MIME("IMAGE/PNG"))
}

func TestMIME_RejectsInvalid(t *testing.T) {
	assert.Equal(t, "application/octet-stream", MIME("not a mime!"))
}

func TestMIME_RejectsEmpty(t *testing.T) {
	assert.Equal(t, "application/octet-stream", MIME(""))
}

func TestJSON_ValidNested(t *testing.T) {
	result := JSON(`{"<b>name</b>": "  <i>Alice</i>  "}`)
	assert.True(t, result.Valid)

	m, ok := result.Value.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "Alice", m["name"])
}

func TestJSON_Invalid(t *testing.T) {
	result := JSON(`{not json}`)
	assert.False(t, result.Valid)
}

func TestJSON_Array(t *testing.T) {
	result := JSON(`["<b>a</b>", "b"]`)
	assert.True(t, result.Valid)

	arr, ok := result.Value.([]any)
	assert.True(t, ok)
	assert.Equal(t, "a", arr[0])
}
