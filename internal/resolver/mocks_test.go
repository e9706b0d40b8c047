package resolver

import (
	"context"
	"sync"

	v4 "github.com/jbweber/anvil/api/v4"
)

type findCall struct {
	kind v4.ResourceKind
	name string
}

// mockLookup is a mock implementation of Lookup for testing.
type mockLookup struct {
	mu sync.Mutex

	// Configurable behavior
	findFunc func(ctx context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error)

	// Call tracking
	findCalls []findCall
}

// newMockLookup creates a mock that answers from a fixed inventory.
func newMockLookup(inventory map[v4.ResourceKind][]v4.Resource) *mockLookup {
	m := &mockLookup{}
	m.findFunc = func(_ context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error) {
		var out []v4.Resource
		for _, r := range inventory[kind] {
			if r.Name == name {
				out = append(out, r)
			}
		}
		return out, nil
	}
	return m
}

func (m *mockLookup) Find(ctx context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error) {
	m.mu.Lock()
	m.findCalls = append(m.findCalls, findCall{kind: kind, name: name})
	m.mu.Unlock()
	return m.findFunc(ctx, kind, name)
}

func (m *mockLookup) calls() []findCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]findCall, len(m.findCalls))
	copy(out, m.findCalls)
	return out
}
