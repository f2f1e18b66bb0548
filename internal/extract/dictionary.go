package extract

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/plotweave/internal/checksum"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/textnorm"
)

// Entity is a dictionary entry: a canonical name, its aliases and the
// attributes declared for it.
type Entity struct {
	Label      graph.Label       `json:"label"`
	Name       string            `json:"name"`
	Aliases    []string          `json:"aliases,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Source     string            `json:"source,omitempty"`
}

// Ref returns the node key of the entity.
func (e Entity) Ref() Ref { return Ref{Label: e.Label, Name: e.Name} }

type term struct {
	folded string
	ref    Ref
	// latin terms only match on word boundaries.
	latin bool
}

// Dictionary matches known character and location names (and aliases) in
// text, longest match first.
type Dictionary struct {
	entities map[Ref]Entity
	order    []Ref
	terms    []term
	byFirst  map[rune][]int
}

// NewDictionary builds a dictionary from entity lists. Later entities with
// the same label and name merge their aliases into the earlier one.
func NewDictionary(entities ...Entity) *Dictionary {
	d := &Dictionary{entities: make(map[Ref]Entity)}
	for _, e := range entities {
		d.add(e)
	}
	d.compile()
	return d
}

// FromNames builds dictionary entities from plain name lists.
func FromNames(label graph.Label, names []string) []Entity {
	out := make([]Entity, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, Entity{Label: label, Name: n})
		}
	}
	return out
}

func (d *Dictionary) add(e Entity) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return
	}
	r := e.Ref()
	prev, ok := d.entities[r]
	if !ok {
		d.order = append(d.order, r)
		d.entities[r] = e
		return
	}
	for _, a := range e.Aliases {
		if !slices.Contains(prev.Aliases, a) {
			prev.Aliases = append(prev.Aliases, a)
		}
	}
	if len(e.Attributes) > 0 {
		if prev.Attributes == nil {
			prev.Attributes = make(map[string]string)
		}
		for k, v := range e.Attributes {
			prev.Attributes[k] = v
		}
	}
	if prev.Source == "" {
		prev.Source = e.Source
	}
	d.entities[r] = prev
}

func (d *Dictionary) compile() {
	seen := make(map[string]bool)
	for _, r := range d.order {
		e := d.entities[r]
		for _, name := range append([]string{e.Name}, e.Aliases...) {
			f := textnorm.Fold(strings.TrimSpace(name))
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			d.terms = append(d.terms, term{folded: f, ref: r, latin: isLatin(f)})
		}
	}
	slices.SortStableFunc(d.terms, func(a, b term) int {
		return cmp.Compare(len(b.folded), len(a.folded))
	})
	d.byFirst = make(map[rune][]int)
	for i, t := range d.terms {
		first, _ := utf8.DecodeRuneInString(t.folded)
		d.byFirst[first] = append(d.byFirst[first], i)
	}
}

// Len returns the number of canonical entities.
func (d *Dictionary) Len() int { return len(d.order) }

// Entities returns the canonical entities in declaration order.
func (d *Dictionary) Entities() []Entity {
	out := make([]Entity, 0, len(d.order))
	for _, r := range d.order {
		out = append(out, d.entities[r])
	}
	return out
}

// Resolve maps a name or alias to its entity.
func (d *Dictionary) Resolve(name string) (Entity, bool) {
	f := textnorm.Fold(strings.TrimSpace(name))
	for _, t := range d.terms {
		if t.folded == f {
			return d.entities[t.ref], true
		}
	}
	return Entity{}, false
}

// Fingerprint changes whenever the matchable names change.
func (d *Dictionary) Fingerprint() string {
	parts := make([]string, 0, len(d.terms))
	for _, t := range d.terms {
		parts = append(parts, string(t.ref.Label)+"|"+t.ref.Name+"|"+t.folded)
	}
	slices.Sort(parts)
	return checksum.Strings(parts...)
}

// Match is one dictionary hit in folded text.
type Match struct {
	Start, End int
	Ref        Ref
}

// Match scans already folded text and returns non-overlapping hits,
// leftmost first and longest at each position.
func (d *Dictionary) Match(folded string) []Match {
	var out []Match
	for i := 0; i < len(folded); {
		r, size := utf8.DecodeRuneInString(folded[i:])
		matched := false
		for _, ti := range d.byFirst[r] {
			t := d.terms[ti]
			if !strings.HasPrefix(folded[i:], t.folded) {
				continue
			}
			end := i + len(t.folded)
			if t.latin && !(boundaryBefore(folded, i) && boundaryAfter(folded, end)) {
				continue
			}
			out = append(out, Match{Start: i, End: end, Ref: t.ref})
			i = end
			matched = true
			break
		}
		if !matched {
			i += size
		}
	}
	return out
}

func isLatin(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return (unicode.IsLetter(r) || unicode.IsDigit(r)) && !unicode.Is(unicode.Han, r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}
