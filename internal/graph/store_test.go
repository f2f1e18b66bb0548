package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/plotweave/internal/apperr"
)

type recordingPersister struct {
	sets []*ChangeSet
	fail error
}

func (p *recordingPersister) Persist(_ context.Context, cs *ChangeSet) error {
	if p.fail != nil {
		return p.fail
	}
	p.sets = append(p.sets, cs)
	return nil
}

func newStore(t *testing.T) (*Store, *recordingPersister) {
	t.Helper()
	p := &recordingPersister{}
	s, err := NewStore(p, nil)
	require.NoError(t, err)
	return s, p
}

func TestUpsertNodeIsIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	id1, err := s.UpsertNode(ctx, Character, "张三", map[string]any{"age": 30})
	require.NoError(t, err)
	id2, err := s.UpsertNode(ctx, Character, "张三", map[string]any{"role": "主角"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	n, err := s.Snapshot().Node(id1)
	require.NoError(t, err)
	assert.Equal(t, 30, n.Properties.Int("age"))
	assert.Equal(t, "主角", n.Properties.String("role"))

	// Same name under another label is a different node.
	id3, err := s.UpsertNode(ctx, Location, "张三", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 2, s.Snapshot().Stats().Nodes)
}

func TestUpsertNodeRejectsBadInput(t *testing.T) {
	s, _ := newStore(t)
	tx := s.Begin()
	_, err := tx.UpsertNode("Dragon", "x", nil)
	assert.Error(t, err)
	_, err = tx.UpsertNode(Character, "  ", nil)
	assert.Error(t, err)
	_, err = tx.UpsertNode(Character, "x", map[string]any{"bad": []string{"a"}})
	assert.Error(t, err)
}

func TestUpsertEdgeIdempotentPerOriginFile(t *testing.T) {
	s, p := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	b, _ := s.UpsertNode(ctx, Character, "李四", nil)

	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch001.md", "v1"))
	commits := len(p.sets)
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch001.md", "v1"))
	assert.Len(t, p.sets, commits, "identical upsert must not persist anything")
	assert.Len(t, s.Snapshot().Edges(), 1)

	// The same triple from another file is a separate fact.
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch002.md", "v1"))
	assert.Len(t, s.Snapshot().Edges(), 2)
}

func TestUpsertEdgeUnknownEndpoint(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	err := s.UpsertEdge(ctx, a, Knows, "missing", nil, "ch001.md", "v1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = s.UpsertEdge(ctx, a, "befriends", a, nil, "ch001.md", "v1")
	assert.Error(t, err)
}

func TestRetractEdgesFromFile(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	b, _ := s.UpsertNode(ctx, Character, "李四", nil)
	c, _ := s.UpsertNode(ctx, Character, "王五", nil)
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch001.md", "v1"))
	require.NoError(t, s.UpsertEdge(ctx, b, Hates, c, nil, "ch001.md", "v1"))
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch002.md", "v1"))

	n, err := s.RetractEdgesFromFile(ctx, "ch001.md")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap := s.Snapshot()
	assert.Empty(t, snap.EdgesFromFile("ch001.md"))
	require.Len(t, snap.EdgesFromFile("ch002.md"), 1, "other files' edges are untouched")

	n, err = s.RetractEdgesFromFile(ctx, "ch001.md")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRederivedEdgeKeepsSeq(t *testing.T) {
	s, p := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	b, _ := s.UpsertNode(ctx, Character, "李四", nil)
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch001.md", "v1"))
	seq := s.Snapshot().Edges()[0].Seq

	tx := s.Begin()
	tx.RetractEdgesFromFile("ch001.md")
	require.NoError(t, tx.UpsertEdge(a, Knows, b, nil, "ch001.md", "v1"))
	before := len(p.sets)
	res, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, p.sets, before, "re-deriving identical facts is a no-op")
	assert.Zero(t, res.EdgesAdded)
	assert.Equal(t, seq, s.Snapshot().Edges()[0].Seq)
}

func TestCommitIsAtomicForReaders(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	b, _ := s.UpsertNode(ctx, Character, "李四", nil)
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, nil, "ch001.md", "v1"))

	old := s.Snapshot()
	tx := s.Begin()
	tx.RetractEdgesFromFile("ch001.md")
	require.NoError(t, tx.UpsertEdge(a, Loves, b, nil, "ch001.md", "v2"))

	// Staged, not yet visible.
	assert.Equal(t, Knows, s.Snapshot().Edges()[0].Predicate)
	_, err := tx.Commit(ctx)
	require.NoError(t, err)

	assert.Equal(t, Knows, old.Edges()[0].Predicate, "published snapshots never change")
	edges := s.Snapshot().Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Loves, edges[0].Predicate)
	assert.Equal(t, "v2", edges[0].OriginVersion)
}

func TestPersistFailureKeepsOldSnapshot(t *testing.T) {
	s, p := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	p.fail = errors.New("disk full")

	_, err := s.UpsertNode(ctx, Character, "李四", nil)
	require.ErrorIs(t, err, apperr.ErrIO)
	assert.Equal(t, 1, s.Snapshot().Stats().Nodes)
	_, err = s.Snapshot().Node(a)
	assert.NoError(t, err)
}

func TestConcurrentTxnRemapsStagedNode(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	anchor, _ := s.UpsertNode(ctx, Chapter, "ch001", nil)

	tx1 := s.Begin()
	tx2 := s.Begin()
	id1, _ := tx1.UpsertNode(Character, "李四", nil)
	id2, _ := tx2.UpsertNode(Character, "李四", nil)
	require.NotEqual(t, id1, id2)
	require.NoError(t, tx2.UpsertEdge(id2, AppearsIn, anchor, nil, "ch002.md", "v1"))

	_, err := tx1.Commit(ctx)
	require.NoError(t, err)
	res, err := tx2.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, res.Remapped[id2])

	snap := s.Snapshot()
	assert.Len(t, snap.Nodes(Character), 1)
	assert.Equal(t, id1, snap.Edges()[0].Source)
}

func TestCommitHonoursCancelledContextBeforeStart(t *testing.T) {
	s, _ := newStore(t)
	tx := s.Begin()
	_, _ = tx.UpsertNode(Character, "张三", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tx.Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Snapshot().Stats().Nodes)
}

func TestOrphansAndPrune(t *testing.T) {
	s, p := newStore(t)
	ctx := context.Background()

	tx := s.Begin()
	ch, _ := tx.UpsertNode(Chapter, "ch001", nil)
	a, _ := tx.UpsertNode(Character, "张三", nil)
	settled, _ := tx.UpsertNode(Character, "王五", nil)
	tx.Anchor(ch, "ch001.md")
	tx.Anchor(settled, "settings/characters.md")
	require.NoError(t, tx.UpsertEdge(a, AppearsIn, ch, nil, "ch001.md", "v1"))
	_, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Orphans())

	tx = s.Begin()
	tx.RemoveFile("ch001.md")
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	// Removal does not delete nodes; they become orphans.
	orphans := s.Snapshot().Orphans()
	require.Len(t, orphans, 2)
	assert.Equal(t, "ch001", orphans[0].Name)
	assert.Equal(t, "张三", orphans[1].Name)

	n, err := s.PruneOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	last := p.sets[len(p.sets)-1]
	assert.ElementsMatch(t, []string{ch, a}, last.RemovedNodes)

	_, err = s.Snapshot().Lookup(Character, "王五")
	assert.NoError(t, err, "anchored nodes survive pruning")
}

func TestFilesAndDocuments(t *testing.T) {
	s, p := newStore(t)
	ctx := context.Background()
	tx := s.Begin()
	tx.PutFile(FileRecord{Path: "chapters/ch001.md", Kind: KindChapter, Version: "v1", Title: "开端"}, "张三认识李四")
	_, err := tx.Commit(ctx)
	require.NoError(t, err)

	f, ok := s.Snapshot().File("chapters/ch001.md")
	require.True(t, ok)
	assert.Equal(t, "v1", f.Version)
	require.Len(t, p.sets[0].PutDocs, 1)
	assert.Equal(t, "张三认识李四", p.sets[0].PutDocs[0].Body)

	tx = s.Begin()
	tx.RemoveFile("chapters/ch001.md")
	_, err = tx.Commit(ctx)
	require.NoError(t, err)
	_, ok = s.Snapshot().File("chapters/ch001.md")
	assert.False(t, ok)
	assert.Equal(t, []string{"chapters/ch001.md"}, p.sets[1].RemovedDocs)
}

func TestRestoreRejectsDanglingEdge(t *testing.T) {
	_, err := NewStore(nil, &State{
		Nodes: []*Node{{ID: "a", Label: Character, Name: "张三", Seq: 1}},
		Edges: []*Edge{{Seq: 1, Source: "a", Predicate: Knows, Target: "b", OriginFile: "x.md"}},
	})
	assert.ErrorIs(t, err, apperr.ErrCorruptIndex)
}

func TestRestoreContinuesSequences(t *testing.T) {
	s, err := NewStore(nil, &State{
		Version: 7,
		Nodes: []*Node{
			{ID: "a", Label: Character, Name: "张三", Seq: 1},
			{ID: "b", Label: Character, Name: "李四", Seq: 2},
		},
		Edges: []*Edge{{Seq: 5, Source: "a", Predicate: Knows, Target: "b", OriginFile: "x.md"}},
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.UpsertEdge(ctx, "b", Hates, "a", nil, "x.md", "v2"))
	edges := s.Snapshot().Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, int64(6), edges[1].Seq)
	assert.Equal(t, uint64(8), s.Snapshot().Version())
}

func TestExport(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a, _ := s.UpsertNode(ctx, Character, "张三", nil)
	b, _ := s.UpsertNode(ctx, Character, "李四", nil)
	require.NoError(t, s.UpsertEdge(ctx, a, Knows, b, map[string]any{"confidence": 1}, "ch001.md", "v1"))

	var buf bytes.Buffer
	require.NoError(t, s.Snapshot().Export(&buf))
	var doc ExportDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Edges, 1)
	assert.Equal(t, Knows, doc.Edges[0].Predicate)
	assert.Contains(t, buf.String(), "张三")
}
