package model

import "context"

// SummaryReader reads cached counters from the summary record.
type SummaryReader interface {
	SummaryValue(ctx context.Context, field string) (int64, error)
}

// ReadStore is the read-only storage contract. It may be served by a replica.
type ReadStore interface {
	SummaryReader
	CountRows(ctx context.Context, src Source) (int64, error)
}

// WriteStore is the read-write storage contract used for the conditional
// update and the confirming re-read.
type WriteStore interface {
	SummaryReader
	// CompareAndSetSummary sets field to value only while it still holds
	// expected (or NULL). It returns the number of rows changed.
	CompareAndSetSummary(ctx context.Context, field string, expected, value int64) (int64, error)
}

// StatsService is what the outer surfaces (HTTP, socket, scheduler) drive.
type StatsService interface {
	Check(ctx context.Context) (Report, error)
	ReconcileAll(ctx context.Context) (Report, error)
	ReconcileMetric(ctx context.Context, name string) (Report, error)
}
