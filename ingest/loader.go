package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sijil-app/sijil/pocketbase/ratelimit"
)

// CollectionSubscribers is the store collection canonical records load into.
const CollectionSubscribers = "subscribers"

// DefaultBatchSize is how many records go into one atomic insert.
const DefaultBatchSize = 1000

// LoadResult is the terminal summary of a bulk load.
type LoadResult struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// UpsertResult is the terminal summary of a per-record upsert load.
type UpsertResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// BulkLoader pushes canonical records into the store in fixed-size,
// order-preserving batches. Each batch is one transaction: it lands whole or
// is counted failed whole, and the run always continues to the next batch.
// The limiter paces batches so a big import cannot starve interactive use of
// the store.
type BulkLoader struct {
	app        core.App
	collection string
	batchSize  int
	limiter    *ratelimit.Limiter
}

// NewBulkLoader creates a loader for the subscribers collection with the
// default batch size and pacing.
func NewBulkLoader(app core.App) *BulkLoader {
	return &BulkLoader{
		app:        app,
		collection: CollectionSubscribers,
		batchSize:  DefaultBatchSize,
		limiter:    ratelimit.New(nil),
	}
}

// WithBatchSize overrides the batch size (values < 1 keep the default).
func (l *BulkLoader) WithBatchSize(size int) *BulkLoader {
	if size > 0 {
		l.batchSize = size
	}
	return l
}

// Load partitions records into batches and submits them sequentially.
// A failing batch is logged and counted; it never aborts the run.
func (l *BulkLoader) Load(ctx context.Context, records []CanonicalRecord) (LoadResult, error) {
	result := LoadResult{Total: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	collection, err := l.app.FindCollectionByNameOrId(l.collection)
	if err != nil {
		return result, fmt.Errorf("finding collection %s: %w", l.collection, err)
	}

	batches := partitionRecords(records, l.batchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := l.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("pacing batch %d: %w", i+1, err)
			}
		}

		if err := l.insertBatch(batch, collection); err != nil {
			slog.Error("Batch insert failed",
				"batch", i+1, "size", len(batch), "error", err)
			result.Failed += len(batch)
			continue
		}

		result.Uploaded += len(batch)
		slog.Info("Batch uploaded",
			"batch", fmt.Sprintf("%d/%d", i+1, len(batches)), "size", len(batch))
	}

	return result, nil
}

// insertBatch saves one batch atomically; any save error rolls the whole
// batch back.
func (l *BulkLoader) insertBatch(batch []CanonicalRecord, collection *core.Collection) error {
	return l.app.RunInTransaction(func(txApp core.App) error {
		for _, rec := range batch {
			record := core.NewRecord(collection)
			for field, value := range rec.FieldsData() {
				record.Set(field, value)
			}
			if err := txApp.Save(record); err != nil {
				return fmt.Errorf("saving account %s: %w", rec.AccountNumber, err)
			}
		}
		return nil
	})
}

// partitionRecords slices records into batches of at most size, preserving
// order and covering every record exactly once.
func partitionRecords(records []CanonicalRecord, size int) [][]CanonicalRecord {
	if size < 1 {
		size = DefaultBatchSize
	}
	var batches [][]CanonicalRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

// UpsertLoader inserts records one at a time with an existence check on the
// (account_number, meter_number) key. Slower than batching, but extraction
// output is small and noisy enough that exactness wins; re-running an
// extraction over the same pages must not duplicate subscribers.
type UpsertLoader struct {
	app        core.App
	collection string
	limiter    *ratelimit.Limiter
}

// NewUpsertLoader creates an upsert loader for the subscribers collection.
func NewUpsertLoader(app core.App) *UpsertLoader {
	return &UpsertLoader{
		app:        app,
		collection: CollectionSubscribers,
		limiter:    ratelimit.New(nil),
	}
}

// LoadPairs upserts extracted pairs. Existing (account, meter) rows are
// counted as duplicates and skipped; per-record failures are counted and do
// not abort the run.
func (l *UpsertLoader) LoadPairs(ctx context.Context, pairs []ExtractedPair) (UpsertResult, error) {
	result := UpsertResult{Total: len(pairs)}
	if len(pairs) == 0 {
		return result, nil
	}

	collection, err := l.app.FindCollectionByNameOrId(l.collection)
	if err != nil {
		return result, fmt.Errorf("finding collection %s: %w", l.collection, err)
	}

	for _, pair := range pairs {
		exists, err := l.pairExists(ctx, pair)
		if err != nil {
			slog.Error("Existence check failed",
				"account", pair.AccountNumber, "meter", pair.MeterNumber, "error", err)
			result.Failed++
			continue
		}
		if exists {
			result.Duplicates++
			continue
		}

		rec := BuildFromPair(pair)
		saveErr := l.limiter.ExecuteWithRetry(ctx, func() error {
			record := core.NewRecord(collection)
			for field, value := range rec.FieldsData() {
				record.Set(field, value)
			}
			return l.app.Save(record)
		})
		if saveErr != nil {
			slog.Error("Upsert insert failed",
				"account", pair.AccountNumber, "meter", pair.MeterNumber, "error", saveErr)
			result.Failed++
			continue
		}
		result.Inserted++
	}

	return result, nil
}

func (l *UpsertLoader) pairExists(ctx context.Context, pair ExtractedPair) (bool, error) {
	var found bool
	err := l.limiter.ExecuteWithRetry(ctx, func() error {
		records, err := l.app.FindRecordsByFilter(
			l.collection,
			fmt.Sprintf("account_number = '%s' && meter_number = '%s'",
				pair.AccountNumber, pair.MeterNumber),
			"",
			1,
			0,
		)
		if err != nil {
			return err
		}
		found = len(records) > 0
		return nil
	})
	return found, err
}
