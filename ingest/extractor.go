package ingest

import (
	"regexp"
	"strings"
)

// ExtractedPair is an (account, meter) pair recovered from unstructured page
// text. Account numbers are exactly 12 digits in the legacy prefix range;
// meters are 5-8 digits and never equal the account.
type ExtractedPair struct {
	AccountNumber string `json:"account_number"`
	MeterNumber   string `json:"meter_number"`
}

// Legacy account numbers are 12 digits and always start with 3 (the utility's
// allocation block). The constraint is the only guard against a random
// 12-digit token being picked up as an account.
var accountPattern = regexp.MustCompile(`\b3\d{11}\b`)

// meterPattern matches standalone 5-8 digit meter tokens.
var meterPattern = regexp.MustCompile(`^\d{5,8}$`)

// fixedTablePattern is the last-resort layout: the account, four numeric
// reading columns, then the meter. Scanned fixed-width tables collapse to
// exactly this shape after text extraction.
var fixedTablePattern = regexp.MustCompile(`(3\d{11})\s+\d+\s+\d+\s+\d+\s+\d+\s+(\d{5,8})\b`)

// ScanState gives a strategy its line plus the lookahead it may need.
type ScanState struct {
	Line     string
	NextLine string
}

// Strategy is one extraction heuristic: pure, independent, first success
// wins. Strategies are tried in priority order for every line that carries
// an account token.
type Strategy func(account string, state ScanState) (ExtractedPair, bool)

// strategies in priority order. PDF text extraction produces wildly varying
// line shapes, so each heuristic covers one observed shape.
var strategies = []Strategy{
	matchSameLine,
	matchNextLine,
	matchFixedTable,
}

// findAccount returns the first token on the line that looks like an account
// number.
func findAccount(line string) (string, bool) {
	account := accountPattern.FindString(line)
	return account, account != ""
}

// matchSameLine looks for a sibling meter token after the account on the same
// line; the first 5-8 digit token that differs from the account wins.
func matchSameLine(account string, state ScanState) (ExtractedPair, bool) {
	if meter, ok := siblingMeter(account, restAfter(state.Line, account)); ok {
		return ExtractedPair{AccountNumber: account, MeterNumber: meter}, true
	}
	return ExtractedPair{}, false
}

// matchNextLine retries the sibling search on the following line; scanned
// tables often wrap the meter column.
func matchNextLine(account string, state ScanState) (ExtractedPair, bool) {
	if state.NextLine == "" {
		return ExtractedPair{}, false
	}
	if meter, ok := siblingMeter(account, state.NextLine); ok {
		return ExtractedPair{AccountNumber: account, MeterNumber: meter}, true
	}
	return ExtractedPair{}, false
}

// matchFixedTable applies the five-token fixed-width fallback to the whole
// line.
func matchFixedTable(account string, state ScanState) (ExtractedPair, bool) {
	m := fixedTablePattern.FindStringSubmatch(state.Line)
	if m == nil || m[1] != account || m[2] == account {
		return ExtractedPair{}, false
	}
	return ExtractedPair{AccountNumber: account, MeterNumber: m[2]}, true
}

func restAfter(line, account string) string {
	if idx := strings.Index(line, account); idx >= 0 {
		return line[idx+len(account):]
	}
	return line
}

func siblingMeter(account, text string) (string, bool) {
	for _, tok := range strings.Fields(text) {
		if meterPattern.MatchString(tok) && tok != account {
			return tok, true
		}
	}
	return "", false
}

// ExtractPairs scans extracted page text line by line and recovers
// deduplicated (account, meter) pairs. Lines without an account token, and
// account tokens with no recoverable meter, are skipped: false negatives are
// expected and cheap, the prefix and length constraints are the only guard
// against false positives.
func ExtractPairs(text string, rc *RunContext) []ExtractedPair {
	lines := strings.Split(text, "\n")
	var pairs []ExtractedPair

	for i, line := range lines {
		account, ok := findAccount(line)
		if !ok {
			continue
		}

		state := ScanState{Line: line}
		if i+1 < len(lines) {
			state.NextLine = lines[i+1]
		}

		for _, strategy := range strategies {
			pair, ok := strategy(account, state)
			if !ok {
				continue
			}
			if rc.MarkPair(pair.AccountNumber, pair.MeterNumber) {
				pairs = append(pairs, pair)
			}
			break
		}
	}

	return pairs
}
