package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/plotweave/internal/apperr"
)

// buildGraph commits nodes by name and edges as (from, predicate, to) triples.
func buildGraph(t *testing.T, names []string, edges [][3]string) (*Store, map[string]string) {
	t.Helper()
	s, err := NewStore(nil, nil)
	require.NoError(t, err)
	tx := s.Begin()
	ids := make(map[string]string)
	for _, n := range names {
		id, err := tx.UpsertNode(Character, n, nil)
		require.NoError(t, err)
		ids[n] = id
	}
	for _, e := range edges {
		require.NoError(t, tx.UpsertEdge(ids[e[0]], Predicate(e[1]), ids[e[2]], nil, "f.md", "v1"))
	}
	_, err = tx.Commit(context.Background())
	require.NoError(t, err)
	return s, ids
}

func names(rs []Reached) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Node.Name
	}
	return out
}

func TestNeighborsOrderAndDirection(t *testing.T) {
	s, ids := buildGraph(t, []string{"a", "b", "c", "d"}, [][3]string{
		{"a", "knows", "b"},
		{"c", "hates", "a"},
		{"a", "loves", "d"},
	})
	snap := s.Snapshot()

	nbs, err := snap.Neighbors(ids["a"], nil, Both)
	require.NoError(t, err)
	require.Len(t, nbs, 3)
	assert.Equal(t, "b", nbs[0].Node.Name)
	assert.True(t, nbs[0].Forward)
	assert.Equal(t, "c", nbs[1].Node.Name)
	assert.False(t, nbs[1].Forward)
	assert.Equal(t, "d", nbs[2].Node.Name)

	out, err := snap.Neighbors(ids["a"], nil, Out)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	in, err := snap.Neighbors(ids["a"], Only(Hates), In)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "c", in[0].Node.Name)

	none, err := snap.Neighbors(ids["b"], Only(Kills), Both)
	require.NoError(t, err)
	assert.Empty(t, none, "empty result is not an error")

	_, err = snap.Neighbors("nope", nil, Both)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExpandTerminatesOnCycles(t *testing.T) {
	s, ids := buildGraph(t, []string{"a", "b", "c"}, [][3]string{
		{"a", "knows", "b"},
		{"b", "knows", "c"},
		{"c", "knows", "a"},
	})
	rs, err := s.Snapshot().Expand(ids["a"], 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(rs))
	assert.Equal(t, 0, rs[0].Hops)
	assert.Equal(t, 1, rs[1].Hops)
	assert.Equal(t, 1, rs[2].Hops, "c is one hop away through the reverse edge")
}

func TestExpandHopsAndPaths(t *testing.T) {
	s, ids := buildGraph(t, []string{"a", "b", "c", "d"}, [][3]string{
		{"a", "knows", "b"},
		{"b", "mentor_of", "c"},
		{"c", "kills", "d"},
	})
	snap := s.Snapshot()

	rs, err := snap.Expand(ids["a"], 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(rs))

	rs, err = snap.Expand(ids["a"], 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(rs))
	require.Len(t, rs[2].Path, 2)
	assert.Equal(t, Knows, rs[2].Path[0].Predicate)
	assert.Equal(t, MentorOf, rs[2].Path[1].Predicate)
	assert.Equal(t, ids["c"], rs[2].Path[1].To)

	rs, err = snap.Expand(ids["a"], 5, Only(Knows))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(rs))

	_, err = snap.Expand("nope", 1, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExpandTieBreakByInsertionOrder(t *testing.T) {
	s, ids := buildGraph(t, []string{"hub", "z", "y", "x"}, [][3]string{
		{"hub", "knows", "z"},
		{"x", "knows", "hub"},
		{"hub", "knows", "y"},
	})
	rs, err := s.Snapshot().Expand(ids["hub"], 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hub", "z", "x", "y"}, names(rs))
}

func TestShortestPathDeterministic(t *testing.T) {
	// Two shortest routes a→d: via b (inserted first) and via c.
	s, ids := buildGraph(t, []string{"a", "b", "c", "d", "e"}, [][3]string{
		{"a", "knows", "b"},
		{"a", "knows", "c"},
		{"c", "knows", "d"},
		{"b", "knows", "d"},
	})
	snap := s.Snapshot()
	for range 5 {
		path, err := snap.ShortestPath(ids["a"], ids["d"], nil)
		require.NoError(t, err)
		require.Len(t, path, 2)
		assert.Equal(t, ids["b"], path[0].To)
		assert.Equal(t, ids["d"], path[1].To)
	}

	path, err := snap.ShortestPath(ids["a"], ids["a"], nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = snap.ShortestPath(ids["a"], ids["e"], nil)
	assert.ErrorIs(t, err, ErrNoPath)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)

	_, err = snap.ShortestPath(ids["a"], "missing", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFindByNameUsesAliases(t *testing.T) {
	s, err := NewStore(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	id, err := s.UpsertNode(ctx, Character, "Alice", map[string]any{"aliases": "Ali, A."})
	require.NoError(t, err)

	snap := s.Snapshot()
	got := snap.FindByName("ali")
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Len(t, snap.FindByName("Alice", Character), 1)
	assert.Empty(t, snap.FindByName("Alice", Location))
}

func TestChapterByNumber(t *testing.T) {
	s, err := NewStore(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.UpsertNode(ctx, Chapter, "ch005", map[string]any{"number": 5})
	require.NoError(t, err)
	c, ok := s.Snapshot().ChapterByNumber(5)
	require.True(t, ok)
	assert.Equal(t, "ch005", c.Name)
	_, ok = s.Snapshot().ChapterByNumber(6)
	assert.False(t, ok)
}

func TestChapterByNumberIgnoresUndeclaredChapter(t *testing.T) {
	s, err := NewStore(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	tx := s.Begin()
	old, err := tx.UpsertNode(Chapter, "ch001", map[string]any{"number": 1, "path": "chapters/a.md"})
	require.NoError(t, err)
	tx.Anchor(old, "chapters/a.md")
	_, err = tx.Commit(ctx)
	require.NoError(t, err)
	c, ok := s.Snapshot().ChapterByNumber(1)
	require.True(t, ok)
	assert.Equal(t, old, c.ID)

	// a.md is renumbered: it now declares ch005 and leaves ch001 behind.
	tx = s.Begin()
	tx.RetractEdgesFromFile("chapters/a.md")
	renum, err := tx.UpsertNode(Chapter, "ch005", map[string]any{"number": 5, "path": "chapters/a.md"})
	require.NoError(t, err)
	tx.Anchor(renum, "chapters/a.md")
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	snap := s.Snapshot()
	_, err = snap.Node(old)
	require.NoError(t, err, "stale node survives until pruning")
	_, ok = snap.ChapterByNumber(1)
	assert.False(t, ok)
	c, ok = snap.ChapterByNumber(5)
	require.True(t, ok)
	assert.Equal(t, renum, c.ID)
}
