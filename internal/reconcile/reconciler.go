// Package reconcile repairs the cached site statistics.
//
// For every metric the reconciler counts the live rows, reads the cached
// counter, and on mismatch issues one compare-and-set write followed by a
// confirming re-read. A metric is only reported as corrected once the
// re-read shows the computed value; anything else is unresolved and left for
// the next run. There is no retry within a pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/model"
)

// maxConcurrency caps parallel metric evaluation; there are only four metrics.
const maxConcurrency = 4

// Observer receives outcomes, e.g. to export them as metrics.
type Observer interface {
	ObserveResult(res model.Result, dryRun bool)
	ObserveReport(rep model.Report)
}

// Options tune a Reconciler. The zero value is usable.
type Options struct {
	// Descriptors defaults to model.Descriptors(nil).
	Descriptors []model.Descriptor
	// Concurrency is the number of metrics evaluated at once (1..4).
	Concurrency int
	Logger      logger.Logger
	Observer    Observer
}

// Reconciler compares cached counters with live counts and repairs drift.
type Reconciler struct {
	read        model.ReadStore
	write       model.WriteStore
	descs       []model.Descriptor
	concurrency int
	log         logger.Logger
	obs         Observer
	now         func() time.Time
}

// New builds a Reconciler. Counting and the initial cached read go through
// read; the conditional write and the confirming re-read go through write.
func New(read model.ReadStore, write model.WriteStore, opts Options) (*Reconciler, error) {
	if read == nil || write == nil {
		return nil, errors.New("reconcile: read and write stores are required")
	}
	descs := opts.Descriptors
	if len(descs) == 0 {
		descs = model.Descriptors(nil)
	}
	conc := opts.Concurrency
	if conc <= 0 {
		conc = model.DefaultConcurrency
	}
	if conc > maxConcurrency {
		conc = maxConcurrency
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconciler{
		read:        read,
		write:       write,
		descs:       descs,
		concurrency: conc,
		log:         log,
		obs:         opts.Observer,
		now:         time.Now,
	}, nil
}

// Descriptors returns the metrics this reconciler tracks.
func (r *Reconciler) Descriptors() []model.Descriptor {
	return append([]model.Descriptor(nil), r.descs...)
}

func (r *Reconciler) descriptor(m model.Metric) (model.Descriptor, error) {
	return model.Lookup(r.descs, string(m))
}

// ComputeAuthoritative counts the live rows backing metric m.
func (r *Reconciler) ComputeAuthoritative(ctx context.Context, m model.Metric) (int64, error) {
	d, err := r.descriptor(m)
	if err != nil {
		return 0, err
	}
	return r.read.CountRows(ctx, d.Source)
}

// ReadCached returns the summary record's current value for metric m.
func (r *Reconciler) ReadCached(ctx context.Context, m model.Metric) (int64, error) {
	d, err := r.descriptor(m)
	if err != nil {
		return 0, err
	}
	return r.read.SummaryValue(ctx, d.Field)
}

// Reconcile runs compute, compare, write and confirm for one metric.
func (r *Reconciler) Reconcile(ctx context.Context, m model.Metric) (model.Result, error) {
	d, err := r.descriptor(m)
	if err != nil {
		return model.Result{}, err
	}
	res := r.reconcileOne(ctx, d, false)
	r.observe(res, false)
	return res, nil
}

// Check compares every metric without writing.
func (r *Reconciler) Check(ctx context.Context) (model.Report, error) {
	return r.run(ctx, r.descs, true)
}

// ReconcileAll reconciles every metric independently. The report is OK only
// when each metric ended consistent or corrected.
func (r *Reconciler) ReconcileAll(ctx context.Context) (model.Report, error) {
	return r.run(ctx, r.descs, false)
}

// ReconcileMetric reconciles the single metric called name.
func (r *Reconciler) ReconcileMetric(ctx context.Context, name string) (model.Report, error) {
	d, err := model.Lookup(r.descs, name)
	if err != nil {
		return model.Report{}, err
	}
	return r.run(ctx, []model.Descriptor{d}, false)
}

func (r *Reconciler) run(ctx context.Context, descs []model.Descriptor, dryRun bool) (model.Report, error) {
	rep := model.Report{
		Results:   make([]model.Result, len(descs)),
		DryRun:    dryRun,
		StartedAt: r.now(),
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, d := range descs {
		g.Go(func() error {
			res := r.reconcileOne(ctx, d, dryRun)
			r.observe(res, dryRun)
			rep.Results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = r.now().Sub(rep.StartedAt)
	rep.Summarize()

	r.log.Info("stats pass finished",
		logger.Bool("ok", rep.OK),
		logger.Bool("dry_run", dryRun),
		logger.Int("corrected", rep.Count(model.StatusCorrected)),
		logger.Int("unresolved", rep.Count(model.StatusUnresolved)),
		logger.Int("drift", rep.Count(model.StatusDrift)),
		logger.Duration("duration", rep.Duration),
	)
	if r.obs != nil {
		r.obs.ObserveReport(rep)
	}
	return rep, ctx.Err()
}

func (r *Reconciler) reconcileOne(ctx context.Context, d model.Descriptor, dryRun bool) model.Result {
	res := model.Result{Metric: d.Metric, Label: d.Label, Field: d.Field}
	log := r.log.With(logger.String("metric", string(d.Metric)), logger.String("field", d.Field))

	if err := ctx.Err(); err != nil {
		return r.fail(log, res, "start", err)
	}

	computed, err := r.read.CountRows(ctx, d.Source)
	if err != nil {
		return r.fail(log, res, "count", err)
	}
	res.Computed = computed

	cached, err := r.read.SummaryValue(ctx, d.Field)
	if err != nil {
		return r.fail(log, res, "read cached", err)
	}
	res.Cached = cached
	res.Confirmed = cached
	res.Compared = true

	if computed == cached {
		res.Status = model.StatusConsistent
		log.Debug("counter consistent", logger.Int64("value", cached))
		return res
	}

	if dryRun {
		res.Status = model.StatusDrift
		log.Warn("counter drifted",
			logger.Int64("cached", cached),
			logger.Int64("computed", computed),
		)
		return res
	}

	res.Wrote = true
	affected, err := r.write.CompareAndSetSummary(ctx, d.Field, cached, computed)
	res.Affected = affected
	if err != nil {
		return r.fail(log, res, "update", err)
	}

	// Trust the re-read, not the affected-rows count.
	confirmed, err := r.write.SummaryValue(ctx, d.Field)
	if err != nil {
		return r.fail(log, res, "re-read", err)
	}
	res.Confirmed = confirmed

	if confirmed != computed {
		res.Status = model.StatusUnresolved
		res.Error = fmt.Sprintf("summary holds %d after update, want %d", confirmed, computed)
		log.Warn("counter still inconsistent",
			logger.Int64("cached", cached),
			logger.Int64("computed", computed),
			logger.Int64("confirmed", confirmed),
			logger.Int64("rows_affected", affected),
		)
		return res
	}

	res.Status = model.StatusCorrected
	log.Info("counter corrected",
		logger.Int64("old", cached),
		logger.Int64("new", confirmed),
	)
	return res
}

func (r *Reconciler) fail(log logger.Logger, res model.Result, step string, err error) model.Result {
	res.Status = model.StatusUnresolved
	res.Error = fmt.Sprintf("%s: %v", step, err)
	log.Error("stats step failed", logger.String("step", step), logger.Error(err))
	return res
}

func (r *Reconciler) observe(res model.Result, dryRun bool) {
	if r.obs != nil {
		r.obs.ObserveResult(res, dryRun)
	}
}
