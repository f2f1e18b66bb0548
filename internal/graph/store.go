package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/starford/plotweave/internal/apperr"
)

// ChangeSet is the delta produced by one commit, handed to the Persister.
type ChangeSet struct {
	Version uint64
	// Nodes created or whose properties changed.
	Nodes []*Node
	// RemovedNodes are pruned orphan ids.
	RemovedNodes []string
	// RetractedFiles lists origin files whose stored edges are replaced by
	// the Edges carrying that origin.
	RetractedFiles []string
	Edges          []*Edge
	// Anchors maps origin file → node ids declared by it (full replacement
	// for each listed file).
	Anchors     map[string][]string
	PutDocs     []Document
	RemovedDocs []string
	NextNodeSeq int64
	NextEdgeSeq int64
}

// Empty reports whether the change set carries no changes.
func (c *ChangeSet) Empty() bool {
	return len(c.Nodes) == 0 && len(c.RemovedNodes) == 0 && len(c.RetractedFiles) == 0 &&
		len(c.Edges) == 0 && len(c.Anchors) == 0 && len(c.PutDocs) == 0 && len(c.RemovedDocs) == 0
}

// Persister durably records committed changes. Persist must apply the whole
// change set or nothing.
type Persister interface {
	Persist(ctx context.Context, cs *ChangeSet) error
}

// State is a full graph image used to restore a Store at startup.
type State struct {
	Version     uint64
	Nodes       []*Node
	Edges       []*Edge
	Anchors     map[string][]string
	Files       []FileRecord
	NextNodeSeq int64
	NextEdgeSeq int64
}

// CommitResult describes what a commit changed.
type CommitResult struct {
	Version      uint64
	NodesCreated int
	EdgesAdded   int
	EdgesRemoved int
	NodesPruned  int
	// Remapped maps ids handed out by the Txn to the ids they resolved to
	// when another commit created the same node first.
	Remapped map[string]string
}

// Store owns the graph. Commits are serialized; reads never block.
type Store struct {
	mu        sync.Mutex
	snap      atomic.Pointer[Snapshot]
	persister Persister
}

// NewStore creates a store, restoring st when non-nil. p may be nil for a
// purely in-memory store.
func NewStore(p Persister, st *State) (*Store, error) {
	s := &Store{persister: p}
	snap := emptySnapshot()
	if st != nil {
		var err error
		if snap, err = restore(st); err != nil {
			return nil, err
		}
	}
	s.snap.Store(snap)
	return s, nil
}

func restore(st *State) (*Snapshot, error) {
	snap := emptySnapshot()
	snap.version = st.Version
	for _, n := range st.Nodes {
		if !n.Label.Valid() {
			return nil, apperr.Corrupt(fmt.Sprintf("node %s has label %q", n.ID, n.Label), nil)
		}
		k := nodeKey{n.Label, n.Name}
		if _, dup := snap.byKey[k]; dup {
			return nil, apperr.Corrupt(fmt.Sprintf("duplicate node %s/%s", n.Label, n.Name), nil)
		}
		snap.nodes[n.ID] = n
		snap.byKey[k] = n.ID
		snap.nextNodeSeq = max(snap.nextNodeSeq, n.Seq+1)
	}
	for _, e := range st.Edges {
		if _, ok := snap.nodes[e.Source]; !ok {
			return nil, apperr.Corrupt(fmt.Sprintf("edge %d references missing node %s", e.Seq, e.Source), nil)
		}
		if _, ok := snap.nodes[e.Target]; !ok {
			return nil, apperr.Corrupt(fmt.Sprintf("edge %d references missing node %s", e.Seq, e.Target), nil)
		}
		if !e.Predicate.Valid() {
			return nil, apperr.Corrupt(fmt.Sprintf("edge %d has predicate %q", e.Seq, e.Predicate), nil)
		}
		snap.edges[e.OriginFile] = append(snap.edges[e.OriginFile], e)
		snap.nextEdgeSeq = max(snap.nextEdgeSeq, e.Seq+1)
	}
	for f, es := range snap.edges {
		slices.SortFunc(es, func(x, y *Edge) int { return cmp.Compare(x.Seq, y.Seq) })
		snap.edges[f] = es
	}
	for f, ids := range st.Anchors {
		snap.anchors[f] = slices.Clone(ids)
	}
	for _, f := range st.Files {
		snap.files[f.Path] = f
	}
	snap.nextNodeSeq = max(snap.nextNodeSeq, st.NextNodeSeq)
	snap.nextEdgeSeq = max(snap.nextEdgeSeq, st.NextEdgeSeq)
	return snap, nil
}

// Snapshot returns the latest committed snapshot.
func (s *Store) Snapshot() *Snapshot { return s.snap.Load() }

// Begin starts a transaction staged against the latest snapshot.
func (s *Store) Begin() *Txn {
	return &Txn{store: s, base: s.snap.Load(), staged: make(map[nodeKey]string)}
}

// UpsertNode creates or merges a single node and commits it.
func (s *Store) UpsertNode(ctx context.Context, label Label, name string, props map[string]any) (string, error) {
	tx := s.Begin()
	id, err := tx.UpsertNode(label, name, props)
	if err != nil {
		return "", err
	}
	res, err := tx.Commit(ctx)
	if err != nil {
		return "", err
	}
	if real, ok := res.Remapped[id]; ok {
		return real, nil
	}
	return id, nil
}

// UpsertEdge creates or merges a single edge and commits it.
func (s *Store) UpsertEdge(ctx context.Context, source string, p Predicate, target string, props map[string]any, originFile, originVersion string) error {
	tx := s.Begin()
	if err := tx.UpsertEdge(source, p, target, props, originFile, originVersion); err != nil {
		return err
	}
	_, err := tx.Commit(ctx)
	return err
}

// RetractEdgesFromFile removes every edge whose origin is file and commits.
func (s *Store) RetractEdgesFromFile(ctx context.Context, file string) (int, error) {
	tx := s.Begin()
	tx.RetractEdgesFromFile(file)
	res, err := tx.Commit(ctx)
	if err != nil {
		return 0, err
	}
	return res.EdgesRemoved, nil
}

// PruneOrphans deletes nodes with no edges and no declaring file.
func (s *Store) PruneOrphans(ctx context.Context) (int, error) {
	tx := s.Begin()
	tx.PruneOrphans()
	res, err := tx.Commit(ctx)
	if err != nil {
		return 0, err
	}
	return res.NodesPruned, nil
}

type opKind int

const (
	opNode opKind = iota
	opEdge
	opRetract
	opAnchor
	opPutFile
	opRemoveFile
	opPrune
)

type op struct {
	kind  opKind
	label Label
	name  string
	id    string
	props Props
	edge  Edge
	file  string
	doc   Document
}

// Txn stages changes against a base snapshot. A Txn is not safe for
// concurrent use and must not be reused after Commit.
type Txn struct {
	store  *Store
	base   *Snapshot
	ops    []op
	staged map[nodeKey]string
	done   bool
}

// UpsertNode stages a node and returns its id: the existing id when
// (label, name) is already present, otherwise a fresh one.
func (t *Txn) UpsertNode(label Label, name string, props map[string]any) (string, error) {
	if !label.Valid() {
		return "", fmt.Errorf("graph: unknown label %q", label)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("graph: %s node requires a name", label)
	}
	p, err := NormalizeProps(props)
	if err != nil {
		return "", err
	}
	k := nodeKey{label, name}
	id, ok := t.staged[k]
	if !ok {
		id, ok = t.base.byKey[k]
	}
	if !ok {
		id = gonanoid.Must()
	}
	t.staged[k] = id
	t.ops = append(t.ops, op{kind: opNode, label: label, name: name, id: id, props: p})
	return id, nil
}

func (t *Txn) known(id string) bool {
	if _, ok := t.base.nodes[id]; ok {
		return true
	}
	for _, sid := range t.staged {
		if sid == id {
			return true
		}
	}
	return false
}

// UpsertEdge stages an edge. Both endpoints must exist in the base snapshot
// or have been staged in this Txn.
func (t *Txn) UpsertEdge(source string, p Predicate, target string, props map[string]any, originFile, originVersion string) error {
	if !p.Valid() {
		return fmt.Errorf("graph: unknown predicate %q", p)
	}
	if !t.known(source) {
		return apperr.NotFound("node", source)
	}
	if !t.known(target) {
		return apperr.NotFound("node", target)
	}
	pr, err := NormalizeProps(props)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, op{kind: opEdge, edge: Edge{
		Source:        source,
		Predicate:     p,
		Target:        target,
		Properties:    pr,
		OriginFile:    originFile,
		OriginVersion: originVersion,
	}})
	return nil
}

// Anchor records that file declares node id, keeping it from being pruned
// while the file's facts are in force.
func (t *Txn) Anchor(id, file string) {
	t.ops = append(t.ops, op{kind: opAnchor, id: id, file: file})
}

// RetractEdgesFromFile stages removal of every edge and anchor whose origin
// is file. It returns the number of edges the base snapshot holds for file.
func (t *Txn) RetractEdgesFromFile(file string) int {
	t.ops = append(t.ops, op{kind: opRetract, file: file})
	return len(t.base.edges[file])
}

// PutFile stages a file record and its searchable body.
func (t *Txn) PutFile(rec FileRecord, body string) {
	t.ops = append(t.ops, op{kind: opPutFile, doc: Document{FileRecord: rec, Body: body}})
}

// RemoveFile stages removal of a file's edges, anchors, record and document.
func (t *Txn) RemoveFile(path string) {
	t.ops = append(t.ops,
		op{kind: opRetract, file: path},
		op{kind: opRemoveFile, file: path},
	)
}

// PruneOrphans stages deletion of orphan nodes, evaluated after all other ops.
func (t *Txn) PruneOrphans() {
	t.ops = append(t.ops, op{kind: opPrune})
}

// Commit applies the staged ops to the latest snapshot, persists the
// delta, and publishes the result. The context is only checked before the
// commit starts; once persisting begins the commit runs to completion.
func (t *Txn) Commit(ctx context.Context) (*CommitResult, error) {
	if t.done {
		return nil, fmt.Errorf("graph: transaction already committed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next, cs, res, err := apply(cur, t.ops)
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		res.Version = cur.version
		return res, nil
	}
	if s.persister != nil {
		if err := s.persister.Persist(context.WithoutCancel(ctx), cs); err != nil {
			return nil, apperr.IO("graph: persist commit", err)
		}
	}
	s.snap.Store(next)
	return res, nil
}

type pendingEdges struct {
	list  []*Edge
	byKey map[edgeKey]int
}

// apply builds the next snapshot from cur and ops.
func apply(cur *Snapshot, ops []op) (*Snapshot, *ChangeSet, *CommitResult, error) {
	next := cur.clone()
	next.version = cur.version + 1
	cs := &ChangeSet{Version: next.version, Anchors: make(map[string][]string)}
	res := &CommitResult{Version: next.version, Remapped: make(map[string]string)}

	remap := func(id string) string {
		if r, ok := res.Remapped[id]; ok {
			return r
		}
		return id
	}

	touched := make(map[string]bool)
	var touchedOrder []string
	files := make(map[string]*pendingEdges)
	var fileOrder []string
	// Seq of every edge retracted in this commit, so an identical
	// re-derivation keeps its place in insertion order.
	retractedSeq := make(map[edgeKey]int64)
	anchors := make(map[string][]string)
	var anchorOrder []string
	docs := make(map[string]*Document)
	var docOrder []string
	prune := false

	pending := func(file string, fresh bool) *pendingEdges {
		pe, ok := files[file]
		if !ok {
			fileOrder = append(fileOrder, file)
		}
		if ok && !fresh {
			return pe
		}
		pe = &pendingEdges{byKey: make(map[edgeKey]int)}
		if !fresh {
			pe.list = slices.Clone(next.edges[file])
			for i, e := range pe.list {
				pe.byKey[e.key()] = i
			}
		}
		files[file] = pe
		return pe
	}
	touch := func(n *Node) {
		next.nodes[n.ID] = n
		if !touched[n.ID] {
			touched[n.ID] = true
			touchedOrder = append(touchedOrder, n.ID)
		}
	}

	for _, o := range ops {
		switch o.kind {
		case opNode:
			k := nodeKey{o.label, o.name}
			existingID, exists := next.byKey[k]
			if !exists {
				n := &Node{ID: o.id, Label: o.label, Name: o.name, Properties: o.props, Seq: next.nextNodeSeq}
				next.nextNodeSeq++
				next.byKey[k] = n.ID
				touch(n)
				res.NodesCreated++
				continue
			}
			if existingID != o.id {
				res.Remapped[o.id] = existingID
			}
			old := next.nodes[existingID]
			merged := old.Properties.merged(o.props)
			if merged.equal(old.Properties) {
				continue
			}
			touch(&Node{ID: old.ID, Label: old.Label, Name: old.Name, Properties: merged, Seq: old.Seq})

		case opRetract:
			var prior []*Edge
			if pe, ok := files[o.file]; ok {
				prior = pe.list
			} else {
				prior = next.edges[o.file]
			}
			for _, e := range prior {
				if _, ok := retractedSeq[e.key()]; !ok {
					retractedSeq[e.key()] = e.Seq
				}
			}
			pending(o.file, true)
			if _, ok := anchors[o.file]; !ok {
				anchorOrder = append(anchorOrder, o.file)
			}
			anchors[o.file] = []string{}

		case opEdge:
			e := o.edge
			e.Source, e.Target = remap(e.Source), remap(e.Target)
			if _, ok := next.nodes[e.Source]; !ok {
				return nil, nil, nil, apperr.NotFound("node", e.Source)
			}
			if _, ok := next.nodes[e.Target]; !ok {
				return nil, nil, nil, apperr.NotFound("node", e.Target)
			}
			pe := pending(e.OriginFile, false)
			k := e.key()
			if i, ok := pe.byKey[k]; ok {
				upd := *pe.list[i]
				upd.Properties = upd.Properties.merged(e.Properties)
				upd.OriginVersion = e.OriginVersion
				pe.list[i] = &upd
				continue
			}
			ne := e
			if seq, ok := retractedSeq[k]; ok {
				ne.Seq = seq
			} else {
				ne.Seq = next.nextEdgeSeq
				next.nextEdgeSeq++
			}
			pe.byKey[k] = len(pe.list)
			pe.list = append(pe.list, &ne)

		case opAnchor:
			id := remap(o.id)
			ids, ok := anchors[o.file]
			if !ok {
				ids = slices.Clone(next.anchors[o.file])
				anchorOrder = append(anchorOrder, o.file)
			}
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
			anchors[o.file] = ids

		case opPutFile:
			d := o.doc
			if _, ok := docs[d.Path]; !ok {
				docOrder = append(docOrder, d.Path)
			}
			docs[d.Path] = &d

		case opRemoveFile:
			if _, ok := docs[o.file]; !ok {
				docOrder = append(docOrder, o.file)
			}
			docs[o.file] = nil

		case opPrune:
			prune = true
		}
	}

	for _, f := range fileOrder {
		pe := files[f]
		slices.SortFunc(pe.list, func(x, y *Edge) int { return cmp.Compare(x.Seq, y.Seq) })
		old := cur.edges[f]
		if sameEdges(old, pe.list) {
			continue
		}
		added, removed := diffEdges(old, pe.list)
		res.EdgesAdded += added
		res.EdgesRemoved += removed
		if len(pe.list) == 0 {
			delete(next.edges, f)
		} else {
			next.edges[f] = pe.list
		}
		cs.RetractedFiles = append(cs.RetractedFiles, f)
		cs.Edges = append(cs.Edges, pe.list...)
	}

	for _, f := range anchorOrder {
		ids := anchors[f]
		if slices.Equal(ids, cur.anchors[f]) {
			continue
		}
		if len(ids) == 0 {
			delete(next.anchors, f)
		} else {
			next.anchors[f] = ids
		}
		cs.Anchors[f] = ids
	}

	for _, p := range docOrder {
		d := docs[p]
		if d == nil {
			if _, ok := cur.files[p]; ok {
				delete(next.files, p)
				cs.RemovedDocs = append(cs.RemovedDocs, p)
			}
			continue
		}
		if old, ok := cur.files[p]; ok && old == d.FileRecord {
			continue
		}
		next.files[p] = d.FileRecord
		cs.PutDocs = append(cs.PutDocs, *d)
	}

	if prune {
		for _, n := range next.Orphans() {
			delete(next.nodes, n.ID)
			delete(next.byKey, nodeKey{n.Label, n.Name})
			touched[n.ID] = false
			cs.RemovedNodes = append(cs.RemovedNodes, n.ID)
			res.NodesPruned++
		}
		// Orphans cached an index built before the deletions.
		next = next.clone()
	}

	for _, id := range touchedOrder {
		if touched[id] {
			cs.Nodes = append(cs.Nodes, next.nodes[id])
		}
	}

	cs.NextNodeSeq = next.nextNodeSeq
	cs.NextEdgeSeq = next.nextEdgeSeq
	return next, cs, res, nil
}

func sameEdges(a, b []*Edge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Seq != y.Seq || x.key() != y.key() || x.OriginVersion != y.OriginVersion || !x.Properties.equal(y.Properties) {
			return false
		}
	}
	return true
}

func diffEdges(prev, cur []*Edge) (added, removed int) {
	before := make(map[edgeKey]bool, len(prev))
	for _, e := range prev {
		before[e.key()] = true
	}
	after := make(map[edgeKey]bool, len(cur))
	for _, e := range cur {
		after[e.key()] = true
		if !before[e.key()] {
			added++
		}
	}
	for k := range before {
		if !after[k] {
			removed++
		}
	}
	return added, removed
}
