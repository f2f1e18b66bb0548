package graph

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/textnorm"
)

// Snapshot is an immutable, committed view of the graph. All query methods
// are safe for concurrent use.
type Snapshot struct {
	version uint64

	nodes   map[string]*Node
	byKey   map[nodeKey]string
	edges   map[string][]*Edge    // origin file → edges, ascending Seq
	anchors map[string][]string   // origin file → node ids declared by it
	files   map[string]FileRecord // path → record

	nextNodeSeq int64
	nextEdgeSeq int64

	idxOnce sync.Once
	idx     *adjacency
}

type adjacency struct {
	out      map[string][]*Edge
	in       map[string][]*Edge
	all      []*Edge
	ordered  []*Node
	anchored map[string]int
	chapters map[int]*Node
	names    []NameEntry
}

// NameEntry maps a folded name or alias to its node.
type NameEntry struct {
	Folded string
	NodeID string
	Alias  bool
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		nodes:       make(map[string]*Node),
		byKey:       make(map[nodeKey]string),
		edges:       make(map[string][]*Edge),
		anchors:     make(map[string][]string),
		files:       make(map[string]FileRecord),
		nextNodeSeq: 1,
		nextEdgeSeq: 1,
	}
}

// index builds adjacency lists and lookup tables once per snapshot.
func (s *Snapshot) index() *adjacency {
	s.idxOnce.Do(func() {
		a := &adjacency{
			out:      make(map[string][]*Edge),
			in:       make(map[string][]*Edge),
			anchored: make(map[string]int),
			chapters: make(map[int]*Node),
		}
		for _, es := range s.edges {
			a.all = append(a.all, es...)
		}
		slices.SortFunc(a.all, func(x, y *Edge) int { return cmp.Compare(x.Seq, y.Seq) })
		for _, e := range a.all {
			a.out[e.Source] = append(a.out[e.Source], e)
			a.in[e.Target] = append(a.in[e.Target], e)
		}
		for _, ids := range s.anchors {
			for _, id := range ids {
				a.anchored[id]++
			}
		}
		a.ordered = make([]*Node, 0, len(s.nodes))
		for _, n := range s.nodes {
			a.ordered = append(a.ordered, n)
		}
		slices.SortFunc(a.ordered, func(x, y *Node) int { return cmp.Compare(x.Seq, y.Seq) })
		for _, n := range a.ordered {
			// A chapter counts for its number only while its file still
			// declares it; a renumbered file leaves the old node behind.
			if n.Label == Chapter && s.ownsChapter(n) {
				if num := n.Properties.Int("number"); num > 0 {
					if _, dup := a.chapters[num]; !dup {
						a.chapters[num] = n
					}
				}
			}
			a.names = append(a.names, NameEntry{Folded: textnorm.Fold(n.Name), NodeID: n.ID})
			for _, alias := range n.Aliases() {
				a.names = append(a.names, NameEntry{Folded: textnorm.Fold(alias), NodeID: n.ID, Alias: true})
			}
		}
		s.idx = a
	})
	return s.idx
}

func (s *Snapshot) ownsChapter(n *Node) bool {
	p := n.Properties.String("path")
	return p == "" || slices.Contains(s.anchors[p], n.ID)
}

// Version is the commit counter that produced this snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// Node returns the node with id or a NotFound error.
func (s *Snapshot) Node(id string) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, apperr.NotFound("node", id)
	}
	return n, nil
}

// Lookup returns the node with (label, name) or a NotFound error.
func (s *Snapshot) Lookup(label Label, name string) (*Node, error) {
	id, ok := s.byKey[nodeKey{label, name}]
	if !ok {
		return nil, apperr.NotFound(strings.ToLower(string(label)), name)
	}
	return s.nodes[id], nil
}

// FindByName returns nodes named name (any label, or one of labels),
// matched exactly first and then by folded name or alias.
func (s *Snapshot) FindByName(name string, labels ...Label) []*Node {
	var out []*Node
	want := func(n *Node) bool { return len(labels) == 0 || slices.Contains(labels, n.Label) }
	for _, l := range Labels() {
		if id, ok := s.byKey[nodeKey{l, name}]; ok && want(s.nodes[id]) {
			out = append(out, s.nodes[id])
		}
	}
	if len(out) > 0 {
		return out
	}
	folded := textnorm.Fold(name)
	seen := make(map[string]bool)
	for _, e := range s.index().names {
		if e.Folded != folded || seen[e.NodeID] {
			continue
		}
		if n := s.nodes[e.NodeID]; want(n) {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns nodes with the given label (all nodes when label is empty),
// in insertion order.
func (s *Snapshot) Nodes(label Label) []*Node {
	var out []*Node
	for _, n := range s.index().ordered {
		if label == "" || n.Label == label {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns every edge in insertion order.
func (s *Snapshot) Edges() []*Edge {
	return slices.Clone(s.index().all)
}

// EdgesFromFile returns the edges contributed by path.
func (s *Snapshot) EdgesFromFile(path string) []*Edge {
	return slices.Clone(s.edges[path])
}

// File returns the record for path.
func (s *Snapshot) File(path string) (FileRecord, bool) {
	f, ok := s.files[path]
	return f, ok
}

// Files returns all file records sorted by path.
func (s *Snapshot) Files() []FileRecord {
	out := make([]FileRecord, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b FileRecord) int { return cmp.Compare(a.Path, b.Path) })
	return out
}

// ChapterByNumber returns the chapter node with the given number.
func (s *Snapshot) ChapterByNumber(n int) (*Node, bool) {
	c, ok := s.index().chapters[n]
	return c, ok
}

// Names returns the folded-name table used for candidate matching.
// Callers must not modify it.
func (s *Snapshot) Names() []NameEntry {
	return s.index().names
}

// Orphans returns nodes with no edges that no file declares, in insertion order.
func (s *Snapshot) Orphans() []*Node {
	a := s.index()
	var out []*Node
	for _, n := range a.ordered {
		if len(a.out[n.ID]) == 0 && len(a.in[n.ID]) == 0 && a.anchored[n.ID] == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Stats summarizes the snapshot.
func (s *Snapshot) Stats() Stats {
	a := s.index()
	st := Stats{
		Version:     s.version,
		Nodes:       len(s.nodes),
		Edges:       len(a.all),
		Files:       len(s.files),
		ByLabel:     make(map[Label]int),
		ByPredicate: make(map[Predicate]int),
		Orphans:     len(s.Orphans()),
	}
	for _, n := range s.nodes {
		st.ByLabel[n.Label]++
	}
	for _, e := range a.all {
		st.ByPredicate[e.Predicate]++
	}
	return st
}

// clone returns a shallow copy suitable for building the next snapshot.
// Node and edge values are shared; slices are replaced, never appended in place.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		version:     s.version,
		nodes:       make(map[string]*Node, len(s.nodes)),
		byKey:       make(map[nodeKey]string, len(s.byKey)),
		edges:       make(map[string][]*Edge, len(s.edges)),
		anchors:     make(map[string][]string, len(s.anchors)),
		files:       make(map[string]FileRecord, len(s.files)),
		nextNodeSeq: s.nextNodeSeq,
		nextEdgeSeq: s.nextEdgeSeq,
	}
	for k, v := range s.nodes {
		next.nodes[k] = v
	}
	for k, v := range s.byKey {
		next.byKey[k] = v
	}
	for k, v := range s.edges {
		next.edges[k] = v
	}
	for k, v := range s.anchors {
		next.anchors[k] = v
	}
	for k, v := range s.files {
		next.files[k] = v
	}
	return next
}
