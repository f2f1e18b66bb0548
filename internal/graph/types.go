// Package graph is the in-process narrative graph store.
//
// A Store publishes immutable Snapshots. Writers stage changes in a Txn and
// Commit them; the commit builds the next snapshot from the latest one,
// persists the delta, and only then swaps it in, so readers observe either
// all of a commit or none of it.
package graph

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Label is a node type.
type Label string

const (
	Character  Label = "Character"
	Location   Label = "Location"
	Event      Label = "Event"
	Chapter    Label = "Chapter"
	Foreshadow Label = "Foreshadow"
)

var labels = []Label{Character, Location, Event, Chapter, Foreshadow}

// Labels returns every node label in canonical order.
func Labels() []Label { return slices.Clone(labels) }

// Valid reports whether l is a known label.
func (l Label) Valid() bool { return slices.Contains(labels, l) }

// ParseLabel resolves a label case-insensitively.
func ParseLabel(s string) (Label, error) {
	for _, l := range labels {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("graph: unknown label %q", s)
}

// Predicate is an edge type from the fixed vocabulary.
type Predicate string

const (
	Knows             Predicate = "knows"
	Loves             Predicate = "loves"
	Hates             Predicate = "hates"
	Kills             Predicate = "kills"
	FatherOf          Predicate = "father_of"
	MentorOf          Predicate = "mentor_of"
	LocatedIn         Predicate = "located_in"
	TravelsTo         Predicate = "travels_to"
	AppearsIn         Predicate = "appears_in"
	Causes            Predicate = "causes"
	Precedes          Predicate = "precedes"
	Triggers          Predicate = "triggers"
	Resolves          Predicate = "resolves"
	ContainsCharacter Predicate = "contains_character"
	ContainsEvent     Predicate = "contains_event"
	Mentions          Predicate = "mentions"
	Follows           Predicate = "follows"
	Foreshadows       Predicate = "foreshadows"
	Fulfills          Predicate = "fulfills"
	RelatedTo         Predicate = "related_to"
)

var predicates = []Predicate{
	Knows, Loves, Hates, Kills, FatherOf, MentorOf, LocatedIn, TravelsTo,
	AppearsIn, Causes, Precedes, Triggers, Resolves, ContainsCharacter,
	ContainsEvent, Mentions, Follows, Foreshadows, Fulfills, RelatedTo,
}

// Structural predicates tie entities to the chapters that evidence them.
// Everything else is a relation between entities.
var structural = map[Predicate]bool{
	AppearsIn:         true,
	ContainsCharacter: true,
	ContainsEvent:     true,
	Mentions:          true,
	Follows:           true,
	Foreshadows:       true,
	Fulfills:          true,
}

// Predicates returns the vocabulary in canonical order.
func Predicates() []Predicate { return slices.Clone(predicates) }

// Valid reports whether p is in the vocabulary.
func (p Predicate) Valid() bool { return slices.Contains(predicates, p) }

// Structural reports whether p links an entity to chapter evidence.
func (p Predicate) Structural() bool { return structural[p] }

// ParsePredicate resolves a predicate name case-insensitively.
func ParsePredicate(s string) (Predicate, error) {
	p := Predicate(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("graph: unknown predicate %q", s)
	}
	return p, nil
}

// Filter restricts traversal to a set of predicates. A nil Filter allows all.
type Filter map[Predicate]struct{}

// Only builds a Filter allowing exactly preds.
func Only(preds ...Predicate) Filter {
	f := make(Filter, len(preds))
	for _, p := range preds {
		f[p] = struct{}{}
	}
	return f
}

// RelationalFilter allows every non-structural predicate.
func RelationalFilter() Filter {
	f := make(Filter)
	for _, p := range predicates {
		if !p.Structural() {
			f[p] = struct{}{}
		}
	}
	return f
}

// StructuralFilter allows every structural predicate.
func StructuralFilter() Filter {
	f := make(Filter)
	for _, p := range predicates {
		if p.Structural() {
			f[p] = struct{}{}
		}
	}
	return f
}

// Allows reports whether p passes the filter.
func (f Filter) Allows(p Predicate) bool {
	if f == nil {
		return true
	}
	_, ok := f[p]
	return ok
}

// Direction selects edge orientation relative to a node.
type Direction int

const (
	Out Direction = iota
	In
	Both
)

// ParseDirection accepts "out", "in", "both" (default both).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "out", "outgoing":
		return Out, nil
	case "in", "incoming":
		return In, nil
	case "", "both", "any":
		return Both, nil
	}
	return Both, fmt.Errorf("graph: unknown direction %q", s)
}

func (d Direction) String() string {
	switch d {
	case Out:
		return "out"
	case In:
		return "in"
	}
	return "both"
}

// Props is a property bag of scalar values: string, float64 or bool.
type Props map[string]any

// NormalizeProps copies in, converting integer types to float64 and
// rejecting non-scalar values.
func NormalizeProps(in map[string]any) (Props, error) {
	out := make(Props, len(in))
	for k, v := range in {
		switch x := v.(type) {
		case string, bool, float64:
			out[k] = x
		case float32:
			out[k] = float64(x)
		case int:
			out[k] = float64(x)
		case int32:
			out[k] = float64(x)
		case int64:
			out[k] = float64(x)
		case uint:
			out[k] = float64(x)
		case uint64:
			out[k] = float64(x)
		case nil:
			continue
		default:
			return nil, fmt.Errorf("graph: property %q has non-scalar type %T", k, v)
		}
	}
	return out, nil
}

// String returns p[key] rendered as a string.
func (p Props) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float returns p[key] as a float64.
func (p Props) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns p[key] truncated to an int, or 0.
func (p Props) Int(key string) int {
	f, ok := p.Float(key)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

func (p Props) merged(over Props) Props {
	out := make(Props, len(p)+len(over))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func (p Props) equal(o Props) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		if w, ok := o[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Node is a typed entity. Nodes in a published snapshot are immutable.
type Node struct {
	ID         string `json:"id"`
	Label      Label  `json:"label"`
	Name       string `json:"name"`
	Properties Props  `json:"properties,omitempty"`
	Seq        int64  `json:"seq"`
}

// Aliases returns the node's alternate names.
func (n *Node) Aliases() []string {
	raw := n.Properties.String("aliases")
	if raw == "" {
		return nil
	}
	var out []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Edge is a fact derived from one source file.
type Edge struct {
	Seq           int64     `json:"seq"`
	Source        string    `json:"source"`
	Predicate     Predicate `json:"predicate"`
	Target        string    `json:"target"`
	Properties    Props     `json:"properties,omitempty"`
	OriginFile    string    `json:"origin_file"`
	OriginVersion string    `json:"origin_version"`
}

// Strength returns the edge's "strength" property, defaulting to 1 for
// edges that do not record one.
func (e *Edge) Strength() float64 {
	if s, ok := e.Properties.Float("strength"); ok {
		return s
	}
	return 1
}

// Confidence returns the edge's "confidence" property, defaulting to 1.
func (e *Edge) Confidence() float64 {
	if c, ok := e.Properties.Float("confidence"); ok {
		return c
	}
	return 1
}

type nodeKey struct {
	label Label
	name  string
}

type edgeKey struct {
	source    string
	predicate Predicate
	target    string
	file      string
}

func (e *Edge) key() edgeKey {
	return edgeKey{e.Source, e.Predicate, e.Target, e.OriginFile}
}

// File kinds.
const (
	KindChapter = "chapter"
	KindSetting = "setting"
)

// FileRecord tracks an ingested source file.
type FileRecord struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// Document is a file record plus the body handed to the text index.
type Document struct {
	FileRecord
	Body string
}

// Hop is one traversed edge in a path.
type Hop struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Predicate Predicate `json:"predicate"`
	// Forward is true when the edge points From → To.
	Forward bool  `json:"forward"`
	EdgeSeq int64 `json:"edge_seq"`
}

// Neighbor is one adjacent edge and the node at its other end.
type Neighbor struct {
	Edge    *Edge `json:"edge"`
	Node    *Node `json:"node"`
	Forward bool  `json:"forward"`
}

// Reached is a node found by Expand.
type Reached struct {
	Node *Node `json:"node"`
	Hops int   `json:"hops"`
	Path []Hop `json:"path"`
}

// Stats summarizes a snapshot.
type Stats struct {
	Version     uint64            `json:"version"`
	Nodes       int               `json:"nodes"`
	Edges       int               `json:"edges"`
	Files       int               `json:"files"`
	ByLabel     map[Label]int     `json:"by_label"`
	ByPredicate map[Predicate]int `json:"by_predicate"`
	Orphans     int               `json:"orphans"`
}
