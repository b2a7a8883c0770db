// Package ingest moves legacy subscriber records from delimited files,
// spreadsheets and extracted PDF text into the Sijil record store.
package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical subscriber categories as stored in the subscribers collection.
const (
	CategoryResidential  = "منزلي"
	CategoryCommercial   = "تجاري"
	CategoryIndustrial   = "صناعي"
	CategoryAgricultural = "زراعي"
	CategoryGovernmental = "حكومي"
)

// categorySentinel is the legacy "no category" placeholder found in exports.
const categorySentinel = "بدون فئة"

// canonicalCategories is the closed set accepted by ResolveCategory.
var canonicalCategories = map[string]bool{
	CategoryResidential:  true,
	CategoryCommercial:   true,
	CategoryIndustrial:   true,
	CategoryAgricultural: true,
	CategoryGovernmental: true,
}

// categoryCodes maps the old billing system's numeric tariff codes to
// canonical labels. Codes absent from the table resolve to empty, never to
// an error; the legacy system reused ranges per sector.
var categoryCodes = map[int]string{
	7:  CategoryGovernmental,
	8:  CategoryGovernmental,
	9:  CategoryCommercial,
	10: CategoryCommercial,
	11: CategoryCommercial,
	13: CategoryIndustrial,
	14: CategoryIndustrial,
	17: CategoryAgricultural,
	18: CategoryAgricultural,
	21: CategoryResidential,
	22: CategoryResidential,
	23: CategoryResidential,
}

// CleanText trims a value and strips the invisible characters legacy exports
// tend to smuggle in (BOM, zero-width joiners, direction marks). Non-string
// values are stringified; nil becomes empty. Never fails.
func CleanText(v any) string {
	s := stringify(v)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\ufeff', // byte order mark
			'\u200b', '\u200c', '\u200d', '\u2060', // zero-width space/joiners
			'\u200e', '\u200f': // direction marks
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// CleanIdentifier reduces a value to its digits. Arabic-Indic digits are
// normalized to ASCII first since both appear in the legacy files. The result
// is never truncated; over-long identifiers are the builder's call.
func CleanIdentifier(v any) string {
	s := CleanText(v)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩': // ٠..٩
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹': // ۰..۹
			b.WriteRune('0' + (r - '۰'))
		}
	}
	return b.String()
}

// ResolveCategory maps a raw category value to one of the five canonical
// labels or empty. Canonical labels pass through, the legacy "no category"
// sentinel maps to empty, numeric values go through the tariff-code table,
// and anything unmapped resolves to empty. Total: never returns an error.
func ResolveCategory(v any) string {
	s := CleanText(v)
	if s == "" {
		return ""
	}
	if canonicalCategories[s] {
		return s
	}
	if s == categorySentinel || s == "بدون" {
		return ""
	}
	code, err := strconv.Atoi(CleanIdentifier(s))
	if err != nil {
		return ""
	}
	return categoryCodes[code]
}

// IsCanonicalCategory reports whether s is one of the five canonical labels.
func IsCanonicalCategory(s string) bool {
	return canonicalCategories[s]
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON and sheet cells deliver numbers as float64; keep integral
		// readings free of a trailing ".000000"
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
