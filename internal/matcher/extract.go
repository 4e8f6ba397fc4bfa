package matcher

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Extraction is the result of parsing a filename into SKU parts.
type Extraction struct {
	// RawSKU is the filename stem, extension stripped.
	RawSKU string
	// BaseSKU is RawSKU with any recognized trailing sequence marker removed.
	BaseSKU string
	// Sequence is the recognized marker without its separator ("01", "A",
	// "FRENTE"), empty when none was found.
	Sequence string
}

// Trailing sequence markers, checked in order: named angle suffixes used by
// the studios, then numeric shot counters, then single-letter variants.
var (
	angleSuffixRe   = regexp.MustCompile(`(?i)[_-](FRENTE|COSTAS|LADO|DETALHE)$`)
	numericSuffixRe = regexp.MustCompile(`[_-]([0-9]{1,3})$`)
	letterSuffixRe  = regexp.MustCompile(`[_-]([A-Za-z])$`)
)

// Extract parses a filename into SKU, base SKU, and sequence suffix.
// Pure and deterministic: the same filename always yields the same result.
// Parameters:
//   - filename: original upload filename, with or without directories.
// Returns:
//   - Extraction: parsed SKU parts; BaseSKU equals RawSKU when no marker
//     is recognized.
func Extract(filename string) Extraction {
	name := filepath.Base(filename)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = strings.TrimSpace(stem)

	ex := Extraction{RawSKU: stem, BaseSKU: stem}

	for _, re := range []*regexp.Regexp{angleSuffixRe, numericSuffixRe, letterSuffixRe} {
		if m := re.FindStringSubmatch(stem); m != nil {
			ex.BaseSKU = stem[:len(stem)-len(m[0])]
			ex.Sequence = m[1]
			return ex
		}
	}

	return ex
}

// NormalizeSKU uppercases and trims a SKU for index lookups. Purchase-order
// rows and filenames disagree on casing often enough that all matching goes
// through this.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
