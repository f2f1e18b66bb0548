package extract

import (
	"path"
	"regexp"
	"strings"

	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/parser"
)

var (
	typedHeadingRe = regexp.MustCompile(`^#{2,3}\s*(角色|人物|地点|场景|地名|(?i:character|person|location|place))\s*[:：]\s*(.+?)\s*$`)
	bareHeadingRe  = regexp.MustCompile(`^#{2,3}\s+(.+?)\s*$`)
	attributeRe    = regexp.MustCompile(`^[-*]\s*(?:\*\*)?([^*:：]+?)(?:\*\*)?\s*[:：]\s*(.+?)\s*$`)
	aliasSplitRe   = regexp.MustCompile(`[,，、/;；]`)
)

var aliasKeys = map[string]bool{
	"别名": true, "别称": true, "外号": true, "绰号": true, "aliases": true, "alias": true,
}

func headingLabel(kind string) graph.Label {
	switch strings.ToLower(kind) {
	case "地点", "场景", "地名", "location", "place":
		return graph.Location
	}
	return graph.Character
}

// defaultLabel decides what a bare "## Name" heading declares: frontmatter
// "entity" wins, then the file name. It returns "" when bare headings are
// section titles rather than entities.
func defaultLabel(p string, fm map[string]interface{}) graph.Label {
	switch strings.ToLower(parser.String(fm, "entity")) {
	case "character", "角色", "人物":
		return graph.Character
	case "location", "地点", "place":
		return graph.Location
	}
	base := strings.ToLower(path.Base(p))
	switch {
	case strings.Contains(base, "location"), strings.Contains(base, "place"), strings.Contains(base, "地点"), strings.Contains(base, "场景"):
		return graph.Location
	case strings.Contains(base, "character"), strings.Contains(base, "角色"), strings.Contains(base, "人物"):
		return graph.Character
	}
	return ""
}

// parseSettings reads entity declarations from a settings body:
//
//	## 角色：张三
//	- **别名**：小张、三哥
//	- **身份**：剑客
func parseSettings(p string, res *parser.Result) []Entity {
	def := defaultLabel(p, res.Frontmatter)
	var (
		out []Entity
		cur *Entity
	)
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(res.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := typedHeadingRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = &Entity{Label: headingLabel(m[1]), Name: stripMarkup(m[2]), Source: p}
			continue
		}
		if strings.HasPrefix(line, "#") {
			flush()
			if m := bareHeadingRe.FindStringSubmatch(line); m != nil && def != "" {
				cur = &Entity{Label: def, Name: stripMarkup(m[1]), Source: p}
			}
			continue
		}
		if cur == nil {
			continue
		}
		m := attributeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, val := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if aliasKeys[strings.ToLower(key)] {
			for _, a := range aliasSplitRe.Split(val, -1) {
				if a = strings.TrimSpace(a); a != "" && a != cur.Name {
					cur.Aliases = append(cur.Aliases, a)
				}
			}
			continue
		}
		if cur.Attributes == nil {
			cur.Attributes = make(map[string]string)
		}
		cur.Attributes[key] = val
	}
	flush()
	return out
}

func stripMarkup(s string) string {
	s = strings.Trim(s, "*_` ")
	return strings.TrimSpace(s)
}
