package ingest

import "strings"

// ParseLine splits one raw line into fields on delim, honoring double-quote
// wrapping. Inside a quoted field a doubled quote is a literal quote and the
// delimiter is literal text. A trailing field with no closing delimiter is
// still emitted. The line is taken as-is: empty lines yield a single empty
// field, and row-length validation belongs to the caller.
func ParseLine(line string, delim rune) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == delim && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(ch)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// SplitRecords breaks raw file content into logical lines, keeping newlines
// that sit inside quoted fields as part of their record. Both \r\n and \n
// terminators are handled; a trailing unterminated record is still emitted.
func SplitRecords(content string) []string {
	var records []string
	var cur strings.Builder
	inQuotes := false

	for i := 0; i < len(content); i++ {
		ch := content[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			cur.WriteByte(ch)
		case ch == '\n' && !inQuotes:
			records = append(records, strings.TrimSuffix(cur.String(), "\r"))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		records = append(records, strings.TrimSuffix(cur.String(), "\r"))
	}
	return records
}

// EscapeField prepares a single value for delimited output: the value is
// quoted, with internal quotes doubled, only when it contains the delimiter,
// a quote, or a line break. The value itself is left untouched so output
// round-trips through ParseLine exactly.
func EscapeField(v any, delim rune) string {
	s := stringify(v)
	if strings.ContainsRune(s, delim) ||
		strings.ContainsAny(s, "\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// WriteLine renders fields as one delimited line (no trailing newline) such
// that ParseLine(WriteLine(fields)) reproduces fields exactly.
func WriteLine(fields []string, delim rune) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = EscapeField(f, delim)
	}
	return strings.Join(escaped, string(delim))
}
