// Package pipeline runs a loaded template document through validation,
// name resolution and building, one VM entry at a time.
//
// Document-level problems abort the run before any entry is processed.
// After that every entry is independent: a failed entry is recorded in the
// Report and the remaining entries still run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/builder"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/resolver"
	"github.com/jbweber/anvil/internal/schema"
	"github.com/jbweber/anvil/internal/status"
)

// Stage names used in logs and metrics.
const (
	StageValidate = "validate"
	StageDecode   = "decode"
	StageResolve  = "resolve"
	StageBuild    = "build"
)

// Deps are the collaborators a run needs. Lookup is required whenever a
// document carries name references; Provisioner only in Execute mode.
type Deps struct {
	Lookup      resolver.Lookup
	Provisioner builder.Provisioner
	Logger      logr.Logger
	// Metrics may be nil.
	Metrics *metrics.Recorder
}

// Options control a run.
type Options struct {
	Mode builder.Mode
	// Parallel is the number of set entries processed at once. Values
	// below 1 mean 1.
	Parallel int
	// ResolveConcurrency bounds lookups in flight per entry.
	ResolveConcurrency int
}

// EntryReport is the outcome of one VM entry.
type EntryReport struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
	// Stage is the last stage the entry reached.
	Stage  string     `json:"stage" yaml:"stage"`
	Plan   *v4.Plan   `json:"plan,omitempty" yaml:"plan,omitempty"`
	Result *v4.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string     `json:"error,omitempty" yaml:"error,omitempty"`
	Err    error      `json:"-" yaml:"-"`
}

// Phase returns the final phase of the entry. Entries that never reached
// the builder are Failed.
func (e *EntryReport) Phase() v4.Phase {
	if e.Result != nil && status.IsTerminal(e.Result.Phase) {
		return e.Result.Phase
	}
	return v4.PhaseFailed
}

// Report is the outcome of a whole run, with entries in document order.
type Report struct {
	Kind    string        `json:"kind" yaml:"kind"`
	Mode    string        `json:"mode" yaml:"mode"`
	Source  string        `json:"source,omitempty" yaml:"source,omitempty"`
	Entries []EntryReport `json:"entries" yaml:"entries"`
}

// EntryError attributes an error to a set entry.
type EntryError struct {
	Index int
	Name  string
	Err   error
}

func (e *EntryError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Err joins the errors of every failed entry, or returns nil.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := range r.Entries {
		e := &r.Entries[i]
		if e.Err != nil {
			errs = append(errs, &EntryError{Index: e.Index, Name: e.Name, Err: e.Err})
		}
	}
	return errors.Join(errs...)
}

// Failed returns the number of failed entries.
func (r *Report) Failed() int {
	n := 0
	for i := range r.Entries {
		if r.Entries[i].Err != nil {
			n++
		}
	}
	return n
}

// Run processes doc. The returned error is non-nil only when the document
// as a whole was rejected or ctx was canceled before any entry ran; entry
// failures are reported through Report.Err.
func Run(ctx context.Context, doc *loader.Document, deps Deps, opts Options) (*Report, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}
	log := deps.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	report := &Report{
		Kind:   fmt.Sprint(doc.Tree["kind"]),
		Mode:   opts.Mode.String(),
		Source: doc.Source,
	}

	start := time.Now()
	entries, err := validateDocument(doc.Tree)
	deps.Metrics.ObserveStage(StageValidate, err, time.Since(start))
	if err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("failed to start build: %w", err)
	}
	log.V(1).Info("document accepted", "kind", report.Kind, "entries", len(entries), "mode", report.Mode)

	lookup := deps.Lookup
	if lookup == nil {
		lookup = noLookup{}
	}
	res := resolver.New(lookup,
		resolver.WithLogger(log.WithName("resolver")),
		resolver.WithConcurrency(opts.ResolveConcurrency))

	bopts := []builder.Option{builder.WithLogger(log.WithName("builder"))}
	if deps.Metrics != nil {
		bopts = append(bopts, builder.WithObserver(deps.Metrics))
	}
	b := builder.New(deps.Provisioner, bopts...)

	r := &runner{log: log, metrics: deps.Metrics, resolver: res, builder: b, mode: opts.Mode}

	report.Entries = make([]EntryReport, len(entries))
	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	// Entry failures are recorded in the report, never returned to the
	// group, so one entry cannot cancel another.
	g := errgroup.Group{}
	g.SetLimit(parallel)
	for i := range entries {
		e := entries[i]
		g.Go(func() error {
			report.Entries[i] = r.runEntry(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	for i := range report.Entries {
		deps.Metrics.ObserveVM(report.Entries[i].Phase())
	}
	return report, nil
}

func validateDocument(tree map[string]any) ([]schema.Entry, error) {
	if err := schema.ValidateDocument(tree); err != nil {
		return nil, err
	}
	return schema.Entries(tree)
}

type runner struct {
	log      logr.Logger
	metrics  *metrics.Recorder
	resolver *resolver.Resolver
	builder  *builder.Builder
	mode     builder.Mode
}

func (r *runner) runEntry(ctx context.Context, e schema.Entry) EntryReport {
	out := EntryReport{Index: e.Index, Name: e.Name}
	log := r.log.WithValues("entry", e.Index, "vm", e.Name)

	fail := func(stage string, err error) EntryReport {
		out.Stage = stage
		out.Err = err
		out.Error = err.Error()
		log.Error(err, "entry failed", "stage", stage)
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(StageValidate, fmt.Errorf("failed to start entry: %w", err))
	}

	start := time.Now()
	spec, err := schema.DecodeVM(e.Path, e.Object)
	r.metrics.ObserveStage(StageDecode, err, time.Since(start))
	if err != nil {
		return fail(StageDecode, err)
	}
	out.Name = spec.Name

	start = time.Now()
	rvm, err := r.resolver.Resolve(ctx, spec)
	r.metrics.ObserveStage(StageResolve, err, time.Since(start))
	if err != nil {
		return fail(StageResolve, err)
	}
	log.V(1).Info("references resolved")

	start = time.Now()
	plan, result, err := r.builder.Run(ctx, rvm, r.mode)
	r.metrics.ObserveStage(StageBuild, err, time.Since(start))
	out.Plan = plan
	out.Result = result
	if err != nil {
		return fail(StageBuild, err)
	}

	out.Stage = StageBuild
	log.V(1).Info("entry finished", "phase", result.Phase, "operations", len(plan.Operations))
	return out
}

// noLookup rejects every lookup. It stands in when no platform connection
// is available, so documents using only numeric ids still work.
type noLookup struct{}

func (noLookup) Find(_ context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error) {
	return nil, fmt.Errorf("cannot look up %s %q: no platform connection", kind, name)
}
