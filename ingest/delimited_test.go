package ingest

import (
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		delim rune
		want  []string
	}{
		{
			name:  "plain fields",
			line:  "a,b,c",
			delim: ',',
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "quoted field with delimiter",
			line:  `"345123456789","Ali, A.","North"`,
			delim: ',',
			want:  []string{"345123456789", "Ali, A.", "North"},
		},
		{
			name:  "doubled quote is literal",
			line:  `"he said ""hi""",next`,
			delim: ',',
			want:  []string{`he said "hi"`, "next"},
		},
		{
			name:  "trailing empty field",
			line:  "a,b,",
			delim: ',',
			want:  []string{"a", "b", ""},
		},
		{
			name:  "unterminated quote still emits field",
			line:  `a,"open`,
			delim: ',',
			want:  []string{"a", "open"},
		},
		{
			name:  "empty line yields one empty field",
			line:  "",
			delim: ',',
			want:  []string{""},
		},
		{
			name:  "semicolon delimiter",
			line:  "a;b,c;d",
			delim: ';',
			want:  []string{"a", "b,c", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLine(tt.line, tt.delim)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseLine(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestWriteLineRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
	}{
		{"plain", []string{"a", "b", "c"}},
		{"embedded delimiter", []string{"Ali, A.", "North"}},
		{"embedded quotes", []string{`he said "hi"`, "x"}},
		{"embedded newline", []string{"line1\nline2", "x"}},
		{"empty fields", []string{"", "", ""}},
		{"arabic text", []string{"منزلي", "حي الجامعة"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := WriteLine(tt.fields, ',')
			got := ParseLine(line, ',')
			if !reflect.DeepEqual(got, tt.fields) {
				t.Errorf("round trip of %q through %q = %q", tt.fields, line, got)
			}
		})
	}
}

func TestEscapeFieldOnlyQuotesWhenNeeded(t *testing.T) {
	if got := EscapeField("plain", ','); got != "plain" {
		t.Errorf("plain value should not be quoted, got %q", got)
	}
	if got := EscapeField("a,b", ','); got != `"a,b"` {
		t.Errorf("delimiter value should be quoted, got %q", got)
	}
	if got := EscapeField(`a"b`, ','); got != `"a""b"` {
		t.Errorf("quote should be doubled inside quoting, got %q", got)
	}
}

func TestSplitRecords(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "plain lines",
			content: "one\ntwo\nthree",
			want:    []string{"one", "two", "three"},
		},
		{
			name:    "crlf terminators",
			content: "one\r\ntwo\r\n",
			want:    []string{"one", "two"},
		},
		{
			name:    "newline inside quotes stays in record",
			content: "a,\"line1\nline2\",b\nnext",
			want:    []string{"a,\"line1\nline2\",b", "next"},
		},
		{
			name:    "empty content",
			content: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitRecords(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitRecords(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
