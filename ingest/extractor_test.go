package ingest

import "testing"

func TestExtractPairsSameLine(t *testing.T) {
	rc := NewRunContext()
	text := "الاسم محمد 341234567890 العداد 55012"

	pairs := ExtractPairs(text, rc)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	if pairs[0].AccountNumber != "341234567890" || pairs[0].MeterNumber != "55012" {
		t.Errorf("pair = %+v", pairs[0])
	}
}

func TestExtractPairsNextLine(t *testing.T) {
	rc := NewRunContext()
	text := "341234567890 محمد علي\n55012 حي الجامعة"

	pairs := ExtractPairs(text, rc)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	if pairs[0].MeterNumber != "55012" {
		t.Errorf("meter = %q, want 55012", pairs[0].MeterNumber)
	}
}

func TestExtractPairsFixedTableLine(t *testing.T) {
	rc := NewRunContext()
	pairs := ExtractPairs("341234567890 10 20 30 40 55012", rc)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	want := ExtractedPair{AccountNumber: "341234567890", MeterNumber: "55012"}
	if pairs[0] != want {
		t.Errorf("pair = %+v, want %+v", pairs[0], want)
	}
}

func TestMatchFixedTable(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		account string
		meter   string
		ok      bool
	}{
		{
			name:    "five column reading row",
			line:    "341234567890 10 20 30 40 55012",
			account: "341234567890",
			meter:   "55012",
			ok:      true,
		},
		{
			name:    "too few columns",
			line:    "341234567890 10 20 55012",
			account: "341234567890",
			ok:      false,
		},
		{
			name:    "different account in pattern",
			line:    "341234567891 10 20 30 40 55012",
			account: "341234567890",
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, ok := matchFixedTable(tt.account, ScanState{Line: tt.line})
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && pair.MeterNumber != tt.meter {
				t.Errorf("meter = %q, want %q", pair.MeterNumber, tt.meter)
			}
		})
	}
}

func TestExtractPairsSkipsNonAccounts(t *testing.T) {
	rc := NewRunContext()
	text := "441234567890 55012\n12345 67890\nno digits here"

	if pairs := ExtractPairs(text, rc); len(pairs) != 0 {
		t.Errorf("got %d pairs from non-account text, want 0", len(pairs))
	}
}

func TestExtractPairsMeterNeverEqualsAccount(t *testing.T) {
	rc := NewRunContext()
	// only the account token itself on the line and the next
	text := "341234567890\n341234567890"

	if pairs := ExtractPairs(text, rc); len(pairs) != 0 {
		t.Errorf("account token must not be its own meter, got %+v", pairs)
	}
}

func TestExtractPairsDeduplicates(t *testing.T) {
	rc := NewRunContext()
	text := "341234567890 55012\n341234567890 55012\n341234567890 55013"

	pairs := ExtractPairs(text, rc)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
}

func TestExtractPairsAccountWithNoMeter(t *testing.T) {
	rc := NewRunContext()
	// meter token is too long to qualify
	text := "341234567890 123456789"

	if pairs := ExtractPairs(text, rc); len(pairs) != 0 {
		t.Errorf("expected no pairs, got %+v", pairs)
	}
}
