// Package extract turns chapter and settings files into candidate graph
// facts using a name dictionary and explicit text markers. It performs no
// natural-language analysis: text that matches neither yields nothing.
package extract

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/parser"
	"github.com/starford/plotweave/internal/textnorm"
)

// ErrNoChapterNumber is returned for chapter files whose number cannot be
// determined from frontmatter, file name or a 第N章 heading.
var ErrNoChapterNumber = errors.New("chapter number not found")

// DefaultRelationCues maps cue words found between two names to predicates.
var DefaultRelationCues = map[string]string{
	"认识": "knows",
	"结识": "knows",
	"爱":  "loves",
	"爱上": "loves",
	"喜欢": "loves",
	"恨":  "hates",
	"憎恨": "hates",
	"杀了": "kills",
	"杀死": "kills",
	"前往": "travels_to",
	"来到": "travels_to",
	"住在": "located_in",
	"位于": "located_in",
}

// cueSuffixes are aspect particles tried off the end of a cue.
var cueSuffixes = []string{"了", "过", "着"}

var (
	markerRe   = regexp.MustCompile(`\[(?i:(rel|time|event|ref|setup|foreshadow|hint|payoff|fulfill)):([^\]]*)\]`)
	atRefRe    = regexp.MustCompile("`@ref\\[([^\\]]+)\\]`")
	isoDateRe  = regexp.MustCompile("`(\\d{4}-\\d{2}-\\d{2}(?:[T ]\\d{2}:\\d{2}(?::\\d{2})?(?:Z|[+-]\\d{2}:?\\d{2})?)?)`")
	chapterRef = regexp.MustCompile(`^(?i:ch(?:apter)?)[_-]?0*(\d+)$|^第\s*0*(\d+)\s*章$`)
)

// Config tunes extraction.
type Config struct {
	// CooccurrenceConfidence is recorded on weak knows edges.
	CooccurrenceConfidence float64
	// RelationCues maps cue words to predicate names; nil uses DefaultRelationCues.
	RelationCues map[string]string
}

// Extractor holds only its configuration and is safe for concurrent use.
type Extractor struct {
	cooc float64
	cues map[string]graph.Predicate
}

// New validates cfg and builds an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.CooccurrenceConfidence <= 0 || cfg.CooccurrenceConfidence > 1 {
		return nil, fmt.Errorf("extract: cooccurrence confidence %v must be in (0,1]", cfg.CooccurrenceConfidence)
	}
	raw := cfg.RelationCues
	if raw == nil {
		raw = DefaultRelationCues
	}
	x := &Extractor{cooc: cfg.CooccurrenceConfidence, cues: make(map[string]graph.Predicate, len(raw))}
	for word, name := range raw {
		p, err := graph.ParsePredicate(name)
		if err != nil {
			return nil, fmt.Errorf("extract: relation cue %q: %w", word, err)
		}
		if p.Structural() {
			return nil, fmt.Errorf("extract: relation cue %q maps to structural predicate %s", word, p)
		}
		if f := textnorm.Fold(strings.TrimSpace(word)); f != "" {
			x.cues[f] = p
		}
	}
	return x, nil
}

// ChapterName is the node name for chapter number n.
func ChapterName(n int) string { return fmt.Sprintf("ch%03d", n) }

// Entities parses only the entity declarations of a settings file.
func Entities(path string, data []byte) ([]Entity, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return parseSettings(path, res), nil
}

// Setting extracts entity declarations and [REL:] markers from a settings
// file. Names in markers resolve against dict plus the file's own entities.
func (x *Extractor) Setting(path string, data []byte, dict *Dictionary) (*Facts, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	f := newFacts(path, graph.KindSetting)
	f.Title = res.Title
	f.Body = res.Body
	f.Entities = parseSettings(path, res)

	for _, e := range f.Entities {
		props := make(map[string]any, len(e.Attributes)+2)
		for k, v := range e.Attributes {
			props[k] = v
		}
		if len(e.Aliases) > 0 {
			props["aliases"] = strings.Join(e.Aliases, ",")
		}
		props["source"] = path
		f.node(e.Ref(), props, true)
	}

	var known []Entity
	if dict != nil {
		known = dict.Entities()
	}
	s := &scan{x: x, f: f, dict: NewDictionary(append(known, f.Entities...)...), local: make(map[string]Ref)}
	for _, line := range strings.Split(res.Body, "\n") {
		for _, m := range markerRe.FindAllStringSubmatch(line, -1) {
			if !strings.EqualFold(m[1], "rel") {
				continue
			}
			if err := s.relMarker(m[2]); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// Chapter extracts facts from a chapter file using dict for name matching.
func (x *Extractor) Chapter(path string, data []byte, dict *Dictionary) (*Facts, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	num := parser.ChapterNumber(path, res)
	if num <= 0 {
		return nil, ErrNoChapterNumber
	}
	if dict == nil {
		dict = NewDictionary()
	}

	f := newFacts(path, graph.KindChapter)
	f.Title = res.Title
	f.Body = res.Body
	f.Number = num
	chapter := Ref{Label: graph.Chapter, Name: ChapterName(num)}
	f.node(chapter, map[string]any{
		"number":     num,
		"word_count": parser.WordCount(res.Body),
		"title":      res.Title,
		"path":       path,
	}, true)

	s := &scan{x: x, f: f, dict: dict, chapter: chapter, local: make(map[string]Ref)}
	s.frontmatterCast(res.Frontmatter)
	for _, line := range strings.Split(res.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.paragraph(line); err != nil {
			return nil, err
		}
	}
	for _, target := range res.Links {
		s.reference(target, "wikilink")
	}
	s.finish()
	return f, nil
}

// scan carries per-file extraction state.
type scan struct {
	x       *Extractor
	f       *Facts
	dict    *Dictionary
	chapter Ref
	// local resolves Event and Foreshadow names seen in this file.
	local map[string]Ref

	appearances map[Ref]int
	appearOrder []Ref
	lastTime    *Ref
	timeCount   int
	pairs       map[[2]Ref]int
	pairOrder   [][2]Ref
	explicit    map[[2]Ref]bool
}

func (s *scan) explicitPair(a, b Ref) {
	if s.explicit == nil {
		s.explicit = make(map[[2]Ref]bool)
	}
	s.explicit[[2]Ref{a, b}] = true
	s.explicit[[2]Ref{b, a}] = true
}

func (s *scan) appear(r Ref) {
	if s.appearances == nil {
		s.appearances = make(map[Ref]int)
	}
	if s.appearances[r] == 0 {
		s.appearOrder = append(s.appearOrder, r)
	}
	s.appearances[r]++
}

// resolve maps a marker name to a node ref: file-local events and
// foreshadows first, then the dictionary, else a Character of that name.
func (s *scan) resolve(name string) Ref {
	name = strings.TrimSpace(name)
	if r, ok := s.local[textnorm.Fold(name)]; ok {
		return r
	}
	if e, ok := s.dict.Resolve(name); ok {
		return e.Ref()
	}
	return Ref{Label: graph.Character, Name: name}
}

func (s *scan) remember(r Ref) {
	s.local[textnorm.Fold(r.Name)] = r
}

// frontmatterCast links the "characters" and "locations" lists of chapter
// frontmatter to the chapter.
func (s *scan) frontmatterCast(fm map[string]interface{}) {
	for _, key := range []string{"characters", "locations"} {
		list, ok := fm[key].([]interface{})
		if !ok {
			continue
		}
		label := graph.Character
		if key == "locations" {
			label = graph.Location
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok || strings.TrimSpace(name) == "" {
				continue
			}
			r := Ref{Label: label, Name: strings.TrimSpace(name)}
			if e, ok := s.dict.Resolve(name); ok {
				r = e.Ref()
			}
			if r.Label == graph.Character {
				s.f.edge(s.chapter, graph.ContainsCharacter, r, map[string]any{"source": "frontmatter"})
			} else {
				s.f.edge(r, graph.AppearsIn, s.chapter, map[string]any{"source": "frontmatter"})
			}
		}
	}
}

type marker struct {
	start, end int
	kind       string
	value      string
	// text is the prose between this marker and the next one.
	text string
}

// markers finds every marker in line, in order, and returns them with the
// line stripped of marker syntax.
func markers(line string) ([]marker, string) {
	var out []marker
	for _, m := range markerRe.FindAllStringSubmatchIndex(line, -1) {
		out = append(out, marker{start: m[0], end: m[1], kind: strings.ToLower(line[m[2]:m[3]]), value: strings.TrimSpace(line[m[4]:m[5]])})
	}
	for _, m := range atRefRe.FindAllStringSubmatchIndex(line, -1) {
		out = append(out, marker{start: m[0], end: m[1], kind: "hint", value: strings.TrimSpace(line[m[2]:m[3]])})
	}
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(line, -1) {
		out = append(out, marker{start: m[0], end: m[1], kind: "time", value: line[m[2]:m[3]]})
	}
	if len(out) == 0 {
		return nil, line
	}
	slices.SortFunc(out, func(a, b marker) int { return cmp.Compare(a.start, b.start) })
	kept := out[:0]
	for _, m := range out {
		if len(kept) > 0 && m.start < kept[len(kept)-1].end {
			continue
		}
		kept = append(kept, m)
	}

	var clean strings.Builder
	prev := 0
	for i := range kept {
		clean.WriteString(line[prev:kept[i].start])
		clean.WriteByte(' ')
		next := len(line)
		if i+1 < len(kept) {
			next = kept[i+1].start
		}
		kept[i].text = strings.Trim(line[kept[i].end:next], " \t：:，,")
		prev = kept[i].end
	}
	clean.WriteString(line[prev:])
	return kept, clean.String()
}

// paragraph processes one non-empty, non-heading line.
func (s *scan) paragraph(line string) error {
	ms, clean := markers(line)
	folded := textnorm.Fold(clean)
	hits := s.dict.Match(folded)

	var cast []Ref
	for _, h := range hits {
		s.appear(h.Ref)
		if h.Ref.Label == graph.Character && !slices.Contains(cast, h.Ref) {
			cast = append(cast, h.Ref)
		}
	}

	for i := 0; i+1 < len(hits); i++ {
		a, b := hits[i], hits[i+1]
		if a.Ref == b.Ref {
			continue
		}
		if p, ok := s.cue(strings.TrimSpace(folded[a.End:b.Start])); ok {
			s.f.edge(a.Ref, p, b.Ref, map[string]any{"confidence": 1.0, "source": "cue"})
			s.explicitPair(a.Ref, b.Ref)
		}
	}

	for _, m := range ms {
		if m.value == "" {
			continue
		}
		if err := s.marker(m, cast); err != nil {
			return err
		}
	}

	for i := 0; i < len(cast); i++ {
		for j := i + 1; j < len(cast); j++ {
			a, b := cast[i], cast[j]
			if b.Name < a.Name {
				a, b = b, a
			}
			k := [2]Ref{a, b}
			if s.pairs == nil {
				s.pairs = make(map[[2]Ref]int)
			}
			if s.pairs[k] == 0 {
				s.pairOrder = append(s.pairOrder, k)
			}
			s.pairs[k]++
		}
	}
	return nil
}

func (s *scan) cue(between string) (graph.Predicate, bool) {
	if between == "" {
		return "", false
	}
	if p, ok := s.x.cues[between]; ok {
		return p, true
	}
	for _, suf := range cueSuffixes {
		if trimmed, ok := strings.CutSuffix(between, suf); ok && trimmed != "" {
			if p, ok := s.x.cues[trimmed]; ok {
				return p, true
			}
		}
	}
	return "", false
}

func (s *scan) marker(m marker, cast []Ref) error {
	switch m.kind {
	case "rel":
		return s.relMarker(m.value)
	case "time":
		s.timeCount++
		ev := Ref{Label: graph.Event, Name: fmt.Sprintf("%s@t%d", s.chapter.Name, s.timeCount)}
		props := map[string]any{"timestamp": m.value}
		if m.text != "" {
			props["description"] = m.text
		}
		s.f.node(ev, props, true)
		s.f.edge(s.chapter, graph.ContainsEvent, ev, nil)
		if s.lastTime != nil {
			s.f.edge(*s.lastTime, graph.Precedes, ev, map[string]any{"source": "timeline"})
		}
		s.lastTime = &ev
	case "event":
		ev := Ref{Label: graph.Event, Name: m.value}
		s.remember(ev)
		var props map[string]any
		if m.text != "" {
			props = map[string]any{"description": m.text}
		}
		s.f.node(ev, props, true)
		s.f.edge(s.chapter, graph.ContainsEvent, ev, nil)
		for _, c := range cast {
			s.f.edge(c, graph.RelatedTo, ev, map[string]any{"role": "participant"})
		}
	case "ref":
		s.reference(m.value, "marker")
	case "setup", "foreshadow":
		fs := Ref{Label: graph.Foreshadow, Name: m.value}
		s.remember(fs)
		props := map[string]any{"chapter": s.f.Number}
		if m.text != "" {
			props["description"] = m.text
		}
		s.f.node(fs, props, true)
		s.f.edge(s.chapter, graph.Foreshadows, fs, map[string]any{"role": "setup"})
	case "hint":
		fs := Ref{Label: graph.Foreshadow, Name: m.value}
		s.remember(fs)
		s.f.edge(s.chapter, graph.Mentions, fs, map[string]any{"role": "hint"})
	case "payoff", "fulfill":
		fs := Ref{Label: graph.Foreshadow, Name: m.value}
		s.remember(fs)
		props := map[string]any{"role": "payoff"}
		if m.text != "" {
			props["description"] = m.text
		}
		s.f.edge(fs, graph.Fulfills, s.chapter, props)
	}
	return nil
}

// relMarker handles "A|predicate|B" or "A|predicate|B|strength".
func (s *scan) relMarker(value string) error {
	parts := strings.Split(value, "|")
	if len(parts) != 3 && len(parts) != 4 {
		return fmt.Errorf("extract: relation marker %q: want A|predicate|B[|strength]", value)
	}
	p, err := graph.ParsePredicate(parts[1])
	if err != nil {
		return fmt.Errorf("extract: relation marker %q: %w", value, err)
	}
	if strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[2]) == "" {
		return fmt.Errorf("extract: relation marker %q: empty endpoint", value)
	}
	props := map[string]any{"confidence": 1.0, "source": "marker"}
	if len(parts) == 4 {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || v < 0 || v > 1 {
			return fmt.Errorf("extract: relation marker %q: strength must be a number in [0,1]", value)
		}
		props["strength"] = v
	}
	a, b := s.resolve(parts[0]), s.resolve(parts[2])
	s.f.edge(a, p, b, props)
	s.explicitPair(a, b)
	return nil
}

// reference links the chapter to a referenced chapter or known entity.
// Unknown targets are ignored.
func (s *scan) reference(target, source string) {
	target = strings.TrimSpace(target)
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = strings.TrimSpace(target[:i])
	}
	if target == "" {
		return
	}
	var to Ref
	if m := chapterRef.FindStringSubmatch(target); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			return
		}
		to = Ref{Label: graph.Chapter, Name: ChapterName(n)}
	} else if r, ok := s.local[textnorm.Fold(target)]; ok {
		to = r
	} else if e, ok := s.dict.Resolve(target); ok {
		to = e.Ref()
	} else {
		return
	}
	if to == s.chapter {
		return
	}
	s.f.edge(s.chapter, graph.Mentions, to, map[string]any{"source": source})
}

// finish emits the per-file aggregates: appearances and co-occurrence.
func (s *scan) finish() {
	for _, r := range s.appearOrder {
		s.f.edge(r, graph.AppearsIn, s.chapter, map[string]any{"count": s.appearances[r]})
	}
	for _, k := range s.pairOrder {
		if s.explicit[k] {
			continue
		}
		n := s.pairs[k]
		s.f.edge(k[0], graph.Knows, k[1], map[string]any{
			"confidence": s.x.cooc,
			"strength":   min(1, s.x.cooc*float64(n)),
			"kind":       "cooccurrence",
			"paragraphs": n,
		})
	}
}
