// Package sanitize normalizes cell/field content for text/CSV/Excel
// chunks, and sanitizes filenames and MIME strings before they cross the
// wire or hit a filesystem path.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameLength caps a sanitized filename, preserving its extension.
const maxFilenameLength = 255

// formulaInjectionPrefixes are leading characters that a spreadsheet
// application would interpret as the start of a formula.
var formulaInjectionPrefixes = map[byte]bool{
	'=': true, '+': true, '-': true, '@': true,
}

var mimePattern = regexp.MustCompile(`^[A-Za-z0-9]+/[A-Za-z0-9.+-]+$`)

var windowsReservedChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// Cell normalizes one text cell: strips HTML tags, trims, normalizes
// CRLF/CR to LF, strips C0 control characters other than LF/TAB, applies
// Unicode NFC normalization, and optionally truncates to maxLen (0 means
// unbounded).
func Cell(s string, maxLen int) string {
	s = stripHTML(s)
	s = normalizeNewlines(s)
	s = stripControlChars(s)
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)

	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}

	return s
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags. The spec allows a configurable allow-list
// of tags/attributes; this engine ships the conservative default of
// stripping every tag, since no chunk payload is expected to carry markup
// that must survive sanitation.
func stripHTML(s string) string {
	return htmlTagPattern.ReplaceAllString(s, "")
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	return s
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}

		if r < 0x20 || r == 0x7f {
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// CSVField sanitizes a cell for safe inclusion in a CSV file: it runs Cell
// sanitation, then neutralizes spreadsheet-formula injection by prefixing a
// single quote when the first character is one of = + - @, then quotes the
// field if it contains a comma, double-quote, or newline (doubling any
// embedded double-quotes).
func CSVField(s string, maxLen int) string {
	s = Cell(s, maxLen)

	if len(s) > 0 && formulaInjectionPrefixes[s[0]] {
		s = "'" + s
	}

	if strings.ContainsAny(s, ",\"\n") {
		s = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}

	return s
}

// Filename strips any directory prefix, removes C0/DEL characters,
// replaces Windows-reserved characters with underscore, and caps the
// result at 255 characters while preserving the extension.
func Filename(name string) string {
	name = stripDirectoryPrefix(name)
	name = stripControlChars(name)
	name = windowsReservedChars.Replace(name)

	if len(name) <= maxFilenameLength {
		return name
	}

	ext := extensionOf(name)
	keep := maxFilenameLength - len(ext)

	if keep < 0 {
		keep = 0
	}

	return name[:keep] + ext
}

func stripDirectoryPrefix(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		return name[i+1:]
	}

	return name
}

func extensionOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}

	return name[i:]
}

// MIME accepts only strings matching ^[A-Za-z0-9]+/[A-Za-z0-9.+-]+$ after
// lowercasing; anything else returns "application/octet-stream".
func MIME(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))

	if mimePattern.MatchString(lower) {
		return lower
	}

	return "application/octet-stream"
}

// IsPrintableASCII reports whether every rune in s is a printable,
// non-control ASCII character. Used by callers that need a stricter check
// than Filename's character-replacement approach.
func IsPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}

	return true
}
