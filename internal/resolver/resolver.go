// Package resolver turns the name references of a VM spec into platform
// ids using read-only lookups.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	v4 "github.com/jbweber/anvil/api/v4"
)

// DefaultConcurrency bounds the number of lookups in flight per spec.
const DefaultConcurrency = 4

// Lookup finds platform resources by exact name.
type Lookup interface {
	Find(ctx context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error)
}

// NotFoundError reports a reference that matched no resource.
type NotFoundError struct {
	Field string
	Kind  v4.ResourceKind
	Name  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no %s named %q", e.Field, e.Kind, e.Name)
}

// AmbiguousReferenceError reports a reference that matched several
// resources.
type AmbiguousReferenceError struct {
	Field string
	Kind  v4.ResourceKind
	Name  string
	IDs   []int64
}

func (e *AmbiguousReferenceError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s: %d %ss are named %q (ids %s); use the numeric id instead",
		e.Field, len(e.IDs), e.Kind, e.Name, strings.Join(ids, ", "))
}

// LookupError wraps a failed lookup with the field that triggered it.
type LookupError struct {
	Field string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: failed to look up reference: %v", e.Field, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Resolver resolves the references of VM specs.
type Resolver struct {
	lookup      Lookup
	log         logr.Logger
	concurrency int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithConcurrency bounds the number of concurrent lookups.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Resolver backed by lookup.
func New(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:      lookup,
		log:         logr.Discard(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type lookupKey struct {
	kind v4.ResourceKind
	name string
}

type lookupResult struct {
	matches []v4.Resource
	err     error
}

// Resolve returns a ResolvedVM in which every reference of spec carries an
// id. spec itself is not modified.
//
// Integer references need no lookup. Each distinct (kind, name) pair is
// looked up once, concurrently. Every failing field is reported: the
// returned error joins one NotFoundError, AmbiguousReferenceError or
// LookupError per field, in field order.
func (r *Resolver) Resolve(ctx context.Context, spec *v4.VMSpec) (*v4.ResolvedVM, error) {
	if spec == nil {
		return nil, fmt.Errorf("VM spec cannot be nil")
	}

	work := spec.DeepCopy()
	fields := work.RefFields()

	var keys []lookupKey
	seen := make(map[lookupKey]bool)
	for _, f := range fields {
		if f.Ref.IsZero() || f.Ref.Resolved() {
			continue
		}
		k := lookupKey{kind: f.Kind, name: f.Ref.Name()}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	r.log.V(1).Info("resolving references", "vm", spec.Name, "fields", len(fields), "lookups", len(keys))

	results := make(map[lookupKey]lookupResult, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, k := range keys {
		g.Go(func() error {
			matches, err := r.lookup.Find(gctx, k.kind, k.name)
			mu.Lock()
			results[k] = lookupResult{matches: matches, err: err}
			mu.Unlock()
			// Lookup failures are reported per field, not through the group,
			// so the remaining lookups still run.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve references: %w", err)
	}

	var errs []error
	for _, f := range fields {
		if f.Ref.IsZero() || f.Ref.Resolved() {
			continue
		}
		k := lookupKey{kind: f.Kind, name: f.Ref.Name()}
		res := results[k]

		switch {
		case res.err != nil:
			errs = append(errs, &LookupError{Field: f.Path, Err: res.err})
		case len(res.matches) == 0:
			errs = append(errs, &NotFoundError{Field: f.Path, Kind: f.Kind, Name: k.name})
		case len(res.matches) > 1:
			ids := make([]int64, len(res.matches))
			for i, m := range res.matches {
				ids[i] = m.ID
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			errs = append(errs, &AmbiguousReferenceError{Field: f.Path, Kind: f.Kind, Name: k.name, IDs: ids})
		default:
			r.log.V(1).Info("resolved reference", "field", f.Path, "name", k.name, "id", res.matches[0].ID)
			*f.Ref = v4.IDRef(res.matches[0].ID)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return v4.NewResolvedVM(work)
}
