package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/audit"
)

func noopRun(context.Context, audit.ComponentInput) (audit.ComponentOutput, error) {
	return audit.ComponentOutput{}, nil
}

func noopStore(bag audit.ResultBag, _ any) audit.ResultBag { return bag }

func desc(key audit.ComponentKey, deps ...audit.ComponentKey) Descriptor {
	return Descriptor{
		Key:          key,
		Dependencies: deps,
		Run:          noopRun,
		Store:        noopStore,
		EventKey:     string(key),
	}
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErr     string
	}{
		{
			name:        "valid set",
			descriptors: []Descriptor{desc("a"), desc("b", "a")},
		},
		{
			name:        "empty key",
			descriptors: []Descriptor{desc("")},
			wantErr:     "empty key",
		},
		{
			name:        "duplicate key",
			descriptors: []Descriptor{desc("a"), desc("a")},
			wantErr:     "duplicate",
		},
		{
			name:        "unknown dependency",
			descriptors: []Descriptor{desc("a", "ghost")},
			wantErr:     "unknown component",
		},
		{
			name:        "missing run func",
			descriptors: []Descriptor{{Key: "a", Store: noopStore}},
			wantErr:     "missing run or store",
		},
		{
			name:        "direct cycle",
			descriptors: []Descriptor{desc("a", "b"), desc("b", "a")},
			wantErr:     "cycle",
		},
		{
			name:        "transitive cycle",
			descriptors: []Descriptor{desc("a", "c"), desc("b", "a"), desc("c", "b")},
			wantErr:     "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.descriptors)
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, r)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOrderRespectsDependencies(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		desc("rankings"),
		desc("opportunities", "rankings"),
		desc("competitors", "rankings"),
		desc("plan", "opportunities", "competitors"),
	})
	require.NoError(t, err)

	order, err := r.Order([]audit.ComponentKey{"plan", "competitors", "opportunities", "rankings"})
	require.NoError(t, err)

	pos := make(map[audit.ComponentKey]int, len(order))
	for i, key := range order {
		pos[key] = i
	}
	require.Less(t, pos["rankings"], pos["opportunities"])
	require.Less(t, pos["rankings"], pos["competitors"])
	require.Less(t, pos["opportunities"], pos["plan"])
	require.Less(t, pos["competitors"], pos["plan"])
}

func TestOrderIsStableForIndependentKeys(t *testing.T) {
	r, err := NewRegistry([]Descriptor{desc("a"), desc("b"), desc("c")})
	require.NoError(t, err)

	order, err := r.Order([]audit.ComponentKey{"c", "a", "b"})
	require.NoError(t, err)
	require.Equal(t, []audit.ComponentKey{"c", "a", "b"}, order)
}

func TestOrderIgnoresDependenciesOutsideRequestedSet(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		desc("rankings"),
		desc("opportunities", "rankings"),
	})
	require.NoError(t, err)

	// A resume pass may request only the failed downstream component; its
	// already-completed dependency imposes no ordering edge.
	order, err := r.Order([]audit.ComponentKey{"opportunities"})
	require.NoError(t, err)
	require.Equal(t, []audit.ComponentKey{"opportunities"}, order)
}

func TestOrderRejectsUnknownAndDuplicateKeys(t *testing.T) {
	r, err := NewRegistry([]Descriptor{desc("a")})
	require.NoError(t, err)

	_, err = r.Order([]audit.ComponentKey{"ghost"})
	require.Error(t, err)

	_, err = r.Order([]audit.ComponentKey{"a", "a"})
	require.Error(t, err)
}

func TestSatisfied(t *testing.T) {
	r, err := NewRegistry([]Descriptor{desc("a"), desc("b", "a")})
	require.NoError(t, err)

	require.True(t, r.Satisfied("a", map[audit.ComponentKey]bool{}))
	require.False(t, r.Satisfied("b", map[audit.ComponentKey]bool{}))
	require.True(t, r.Satisfied("b", map[audit.ComponentKey]bool{"a": true}))
}
