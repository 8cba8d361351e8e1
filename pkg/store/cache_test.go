package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldsync/pkg/types"
)

func TestReplaceCollectionIsFullReplace(t *testing.T) {
	st := newStore(t)

	a := []types.Record{
		{"id": float64(1), "firstname": "Ana"},
		{"id": float64(2), "firstname": "Ben"},
	}
	b := []types.Record{
		{"id": float64(3), "firstname": "Cal"},
	}

	require.NoError(t, st.ReplaceCollection("volunteers", a))
	require.NoError(t, st.ReplaceCollection("volunteers", b))

	got, err := st.Collection("volunteers")
	require.NoError(t, err)
	// Exactly B, never A union B.
	require.Len(t, got, 1)
	assert.Equal(t, "Cal", got[0]["firstname"])
}

func TestMissingCollectionReturnsEmpty(t *testing.T) {
	st := newStore(t)

	got, err := st.Collection("never-fetched")
	require.NoError(t, err)
	assert.Empty(t, got)

	scoped, err := st.Scoped("checklists", "9")
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestScopedCollectionsAreIsolated(t *testing.T) {
	st := newStore(t)

	require.NoError(t, st.ReplaceScoped("checklists", "5", []types.Record{
		{"id": float64(10), "name": "pre-departure"},
	}))
	require.NoError(t, st.ReplaceScoped("checklists", "7", []types.Record{
		{"id": float64(20), "name": "trap line"},
		{"id": float64(21), "name": "first aid"},
	}))

	five, err := st.Scoped("checklists", "5")
	require.NoError(t, err)
	require.Len(t, five, 1)
	assert.Equal(t, "pre-departure", five[0]["name"])

	seven, err := st.Scoped("checklists", "7")
	require.NoError(t, err)
	assert.Len(t, seven, 2)
}

func TestForScopeRouting(t *testing.T) {
	st := newStore(t)

	require.NoError(t, st.ReplaceForScope(types.Scope{Kind: "risks"}, []types.Record{
		{"id": float64(1)},
	}))
	require.NoError(t, st.ReplaceForScope(types.Scope{Kind: "risks", ParentID: "3"}, []types.Record{
		{"id": float64(2)},
	}))

	global, err := st.ForScope(types.Scope{Kind: "risks"})
	require.NoError(t, err)
	require.Len(t, global, 1)

	scoped, err := st.ForScope(types.Scope{Kind: "risks", ParentID: "3"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.NotEqual(t, global[0]["id"], scoped[0]["id"])
}
