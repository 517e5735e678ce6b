package reconcile

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/wikimannia/refreshstats/internal/model"
)

// fakeStore is an in-memory summary record plus fixed live counts.
type fakeStore struct {
	mu      sync.Mutex
	descs   []model.Descriptor
	live    map[model.Metric]int64
	summary map[string]int64

	countErr   map[model.Metric]error
	summaryErr map[string]error
	writeErr   error
	// afterWrite runs after every conditional update, before the re-read,
	// standing in for another process touching the record.
	afterWrite func(f *fakeStore, field string)

	writes  int
	rereads int
}

func newFakeStore(live map[model.Metric]int64, cached map[string]int64) *fakeStore {
	summary := make(map[string]int64, len(cached))
	for k, v := range cached {
		summary[k] = v
	}
	return &fakeStore{
		descs:      model.Descriptors(nil),
		live:       live,
		summary:    summary,
		countErr:   map[model.Metric]error{},
		summaryErr: map[string]error{},
	}
}

func (f *fakeStore) metricFor(src model.Source) (model.Metric, bool) {
	for _, d := range f.descs {
		if reflect.DeepEqual(d.Source, src) {
			return d.Metric, true
		}
	}
	return "", false
}

func (f *fakeStore) CountRows(_ context.Context, src model.Source) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metricFor(src)
	if !ok {
		return 0, errors.New("unknown source")
	}
	if err := f.countErr[m]; err != nil {
		return 0, err
	}
	return f.live[m], nil
}

func (f *fakeStore) SummaryValue(_ context.Context, field string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.summaryErr[field]; err != nil {
		return 0, err
	}
	return f.summary[field], nil
}

func (f *fakeStore) CompareAndSetSummary(_ context.Context, field string, expected, value int64) (int64, error) {
	f.mu.Lock()
	f.writes++
	if f.writeErr != nil {
		f.mu.Unlock()
		return 0, f.writeErr
	}
	var n int64
	if f.summary[field] == expected {
		f.summary[field] = value
		n = 1
	}
	hook := f.afterWrite
	f.mu.Unlock()

	if hook != nil {
		hook(f, field)
	}
	return n, nil
}

func (f *fakeStore) set(field string, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summary[field] = v
}

func (f *fakeStore) get(field string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary[field]
}

// writeView routes the write side through the same fake but counts re-reads.
type writeView struct{ *fakeStore }

func (w writeView) SummaryValue(ctx context.Context, field string) (int64, error) {
	w.mu.Lock()
	w.rereads++
	w.mu.Unlock()
	return w.fakeStore.SummaryValue(ctx, field)
}

// racingReader moves the field to raceTo right after handing out the cached value.
type racingReader struct {
	*fakeStore
	raceTo int64
}

func (r racingReader) SummaryValue(ctx context.Context, field string) (int64, error) {
	v, err := r.fakeStore.SummaryValue(ctx, field)
	r.fakeStore.set(field, r.raceTo)
	return v, err
}

// recordingObserver captures everything handed to the Observer.
type recordingObserver struct {
	mu      sync.Mutex
	results []model.Result
	reports []model.Report
}

func (o *recordingObserver) ObserveResult(res model.Result, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func (o *recordingObserver) ObserveReport(rep model.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, rep)
}
