package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/testutil"
)

type fixture struct {
	store *graph.Store
	ids   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, _ := testutil.TestStore(t)
	f := &fixture{store: store, ids: make(map[string]string)}
	for _, name := range []string{"张三", "李四", "王五", "赵六"} {
		f.node(t, graph.Character, name)
	}
	f.node(t, graph.Location, "长安")
	return f
}

func (f *fixture) node(t *testing.T, label graph.Label, name string) {
	t.Helper()
	id, err := f.store.UpsertNode(context.Background(), label, name, nil)
	require.NoError(t, err)
	f.ids[name] = id
}

func (f *fixture) edge(t *testing.T, a string, p graph.Predicate, b string, strength float64, file string) {
	t.Helper()
	err := f.store.UpsertEdge(context.Background(), f.ids[a], p, f.ids[b], map[string]any{"strength": strength}, file, "v1")
	require.NoError(t, err)
}

func (f *fixture) builder(t *testing.T) *Builder {
	t.Helper()
	b, err := New(DefaultConfig(), f.store)
	require.NoError(t, err)
	return b
}

func TestBuildCommunities(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "张三", graph.Knows, "李四", 1, "chapters/ch001.md")
	f.edge(t, "张三", graph.Knows, "李四", 0.3, "chapters/ch002.md")
	f.edge(t, "王五", graph.Knows, "赵六", 0.5, "chapters/ch002.md")
	f.edge(t, "李四", graph.Hates, "王五", 0.2, "chapters/ch003.md")

	n, err := f.builder(t).Build(nil)
	require.NoError(t, err)

	require.Len(t, n.Nodes, 4)
	assert.Equal(t, "张三", n.Nodes[0].Name)

	require.Len(t, n.Edges, 3)
	assert.Equal(t, 1.0, n.Edges[0].Strength)
	assert.Equal(t, []string{"chapters/ch001.md", "chapters/ch002.md"}, n.Edges[0].Files)
	assert.True(t, n.Edges[0].Strong)
	// 0.5 is not strictly above the threshold.
	assert.False(t, n.Edges[1].Strong)

	require.Len(t, n.Communities, 3)
	assert.Equal(t, []string{f.ids["张三"], f.ids["李四"]}, n.Communities[0].Members)
	assert.Equal(t, []string{f.ids["王五"]}, n.Communities[1].Members)
	assert.Equal(t, []string{f.ids["赵六"]}, n.Communities[2].Members)

	li := n.Nodes[1]
	assert.Equal(t, 2, li.Degree)
	assert.Equal(t, 1, li.StrongDegree)
	assert.Equal(t, 0, li.Community)
}

func TestBuildSelectedNames(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "张三", graph.TravelsTo, "长安", 1, "chapters/ch001.md")
	f.edge(t, "张三", graph.Knows, "李四", 1, "chapters/ch001.md")

	n, err := f.builder(t).Build([]string{"长安", "张三"})
	require.NoError(t, err)
	require.Len(t, n.Nodes, 2)
	assert.Equal(t, "张三", n.Nodes[0].Name)
	assert.Equal(t, "长安", n.Nodes[1].Name)
	require.Len(t, n.Edges, 1)
	assert.Equal(t, graph.TravelsTo, n.Edges[0].Predicate)
	require.Len(t, n.Communities, 1)
}

func TestBuildUnknownName(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder(t).Build([]string{"张三", "无名氏"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Contains(t, err.Error(), "无名氏")
}

func TestBuildIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "赵六", graph.Knows, "张三", 0.9, "chapters/ch001.md")
	f.edge(t, "李四", graph.Loves, "王五", 0.8, "chapters/ch002.md")
	b := f.builder(t)

	first, err := b.Build(nil)
	require.NoError(t, err)
	second, err := b.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first.Communities, 2)
	assert.Equal(t, []string{f.ids["张三"], f.ids["赵六"]}, first.Communities[0].Members)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{StrengthThreshold: 1.5}, nil)
	assert.Error(t, err)
}
