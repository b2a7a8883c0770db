package ingest

import (
	"fmt"
	"strconv"
)

// MaxAccountDigits is the longest account number the store accepts. Anything
// longer after cleaning is rejected outright; truncating could silently merge
// two different subscribers under one account key.
const MaxAccountDigits = 12

// Subscriber status values.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusRefused   = "refused"
)

// PreviewSize is how many built records a run surfaces for operator sanity
// checking before the load starts.
const PreviewSize = 3

// CanonicalRecord is the normalized shape every source converges to before
// it reaches the subscribers collection.
type CanonicalRecord struct {
	AccountNumber  string `json:"account_number"`
	SubscriberName string `json:"subscriber_name"`
	Region         string `json:"region"`
	MeterNumber    string `json:"meter_number"`
	Category       string `json:"category"`
	LastReading    string `json:"last_reading"`
	Status         string `json:"status"`
	IsRefused      bool   `json:"is_refused"`
}

// FieldsData returns the record as a field map ready for a store record.
func (r CanonicalRecord) FieldsData() map[string]any {
	return map[string]any{
		"account_number":  r.AccountNumber,
		"subscriber_name": r.SubscriberName,
		"region":          r.Region,
		"meter_number":    r.MeterNumber,
		"category":        r.Category,
		"last_reading":    r.LastReading,
		"status":          r.Status,
		"is_refused":      r.IsRefused,
	}
}

// RejectReason classifies why a row was dropped instead of loaded.
type RejectReason string

// Rejection reasons. These are counted in the run context and reported in the
// final summary; they never abort a run.
const (
	RejectNone                RejectReason = ""
	RejectInsufficientColumns RejectReason = "INSUFFICIENT_COLUMNS"
	RejectAllFieldsEmpty      RejectReason = "ALL_FIELDS_EMPTY"
	RejectAccountTooLong      RejectReason = "ACCOUNT_NUMBER_TOO_LONG"
	RejectInvalidCategory     RejectReason = "INVALID_CATEGORY"
)

// ColumnLayout is the position contract for delimited sources. Category and
// LastReading may sit past the end of a short row; the identifying columns
// may not.
type ColumnLayout struct {
	Account     int
	Name        int
	Region      int
	Meter       int
	Category    int
	LastReading int
}

// DefaultLayout matches the fixed export column order
// account_number,subscriber_name,region,meter_number,category,last_reading.
var DefaultLayout = ColumnLayout{
	Account:     0,
	Name:        1,
	Region:      2,
	Meter:       3,
	Category:    4,
	LastReading: 5,
}

// minColumns is the smallest row length that still carries every identifying
// column.
func (l ColumnLayout) minColumns() int {
	minLen := l.Account
	for _, idx := range []int{l.Name, l.Region, l.Meter} {
		if idx > minLen {
			minLen = idx
		}
	}
	return minLen + 1
}

// RunContext carries the per-run bookkeeping that used to live in process
// globals: counters, the cross-source dedup set and the operator preview.
// The driver owns one per invocation and threads it through every stage.
type RunContext struct {
	Processed  int
	Rejected   int
	Rejections map[RejectReason]int
	Preview    []CanonicalRecord

	seenPairs map[string]bool
}

// NewRunContext creates an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{
		Rejections: make(map[RejectReason]int),
		seenPairs:  make(map[string]bool),
	}
}

// MarkPair records an (account, meter) pair and reports whether it was new.
// Duplicate pairs within and across sources are suppressed through this set.
func (rc *RunContext) MarkPair(accountNumber, meterNumber string) bool {
	key := fmt.Sprintf("%s|%s", accountNumber, meterNumber)
	if rc.seenPairs[key] {
		return false
	}
	rc.seenPairs[key] = true
	return true
}

func (rc *RunContext) accept(rec CanonicalRecord) {
	rc.Processed++
	if len(rc.Preview) < PreviewSize {
		rc.Preview = append(rc.Preview, rec)
	}
}

func (rc *RunContext) reject(reason RejectReason) {
	rc.Rejected++
	rc.Rejections[reason]++
}

// PreviewLines renders the operator preview, one line per record.
func (rc *RunContext) PreviewLines() []string {
	lines := make([]string, 0, len(rc.Preview))
	for i, rec := range rc.Preview {
		lines = append(lines, fmt.Sprintf("%d. account=%s name=%s meter=%s category=%s",
			i+1, rec.AccountNumber, rec.SubscriberName, rec.MeterNumber, rec.Category))
	}
	return lines
}

// BuildFromFields assembles a canonical record from an ordered row according
// to the layout. On rejection the reason is counted in rc and returned; the
// caller decides whether the run continues (it normally does).
func BuildFromFields(fields []string, layout ColumnLayout, rc *RunContext) (*CanonicalRecord, RejectReason) {
	if len(fields) < layout.minColumns() {
		rc.reject(RejectInsufficientColumns)
		return nil, RejectInsufficientColumns
	}

	at := func(idx int) string {
		if idx >= 0 && idx < len(fields) {
			return fields[idx]
		}
		return ""
	}

	rec := CanonicalRecord{
		AccountNumber:  CleanIdentifier(at(layout.Account)),
		SubscriberName: CleanText(at(layout.Name)),
		Region:         CleanText(at(layout.Region)),
		MeterNumber:    CleanText(at(layout.Meter)),
		LastReading:    CleanText(at(layout.LastReading)),
		Status:         StatusPending,
	}

	rawCategory := CleanText(at(layout.Category))
	rec.Category = ResolveCategory(rawCategory)

	return finishRecord(rec, rawCategory, rc)
}

// BuildFromMap assembles a canonical record from already-named fields, as
// produced by the spreadsheet header-alias mapping.
func BuildFromMap(values map[string]string, rc *RunContext) (*CanonicalRecord, RejectReason) {
	rec := CanonicalRecord{
		AccountNumber:  CleanIdentifier(values["account_number"]),
		SubscriberName: CleanText(values["subscriber_name"]),
		Region:         CleanText(values["region"]),
		MeterNumber:    CleanText(values["meter_number"]),
		LastReading:    CleanText(values["last_reading"]),
		Status:         StatusPending,
	}

	rawCategory := CleanText(values["category"])
	rec.Category = ResolveCategory(rawCategory)

	return finishRecord(rec, rawCategory, rc)
}

// BuildFromPair lifts an extracted (account, meter) pair into a canonical
// record. Pairs carry no name or reading; they enter the store pending.
func BuildFromPair(pair ExtractedPair) CanonicalRecord {
	return CanonicalRecord{
		AccountNumber: pair.AccountNumber,
		MeterNumber:   pair.MeterNumber,
		Status:        StatusPending,
	}
}

func finishRecord(rec CanonicalRecord, rawCategory string, rc *RunContext) (*CanonicalRecord, RejectReason) {
	if rec.AccountNumber == "" && rec.SubscriberName == "" && rec.MeterNumber == "" {
		rc.reject(RejectAllFieldsEmpty)
		return nil, RejectAllFieldsEmpty
	}

	if len(rec.AccountNumber) > MaxAccountDigits {
		rc.reject(RejectAccountTooLong)
		return nil, RejectAccountTooLong
	}

	// A non-empty category that is neither a canonical label, the legacy
	// sentinel, nor numeric is garbage in the source row, not a mappable
	// code; reject rather than load a silently blank category.
	if rec.Category == "" && rawCategory != "" && !isNumericCategory(rawCategory) &&
		rawCategory != categorySentinel && rawCategory != "بدون" {
		rc.reject(RejectInvalidCategory)
		return nil, RejectInvalidCategory
	}

	rc.accept(rec)
	return &rec, RejectNone
}

func isNumericCategory(s string) bool {
	_, err := strconv.Atoi(CleanIdentifier(s))
	return err == nil
}
