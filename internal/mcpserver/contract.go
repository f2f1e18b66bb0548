package mcpserver

// MarkupContract describes the chapter and settings markup the indexer
// understands. Agents read it before writing chapters so the graph picks
// up their facts.
const MarkupContract = `# plotweave Markup Contract

Chapters live under ` + "`chapters/`" + `, settings under ` + "`settings/`" + `. Every file is
UTF-8 Markdown with an optional YAML frontmatter block.

## Settings files

` + "```" + `markdown
## 角色：张三
- **别名**：小张、三哥
- **身份**：剑客

## 地点：长安
` + "```" + `

1. ` + "`## 角色：名字`" + ` / ` + "`## Character: Name`" + ` declares a character;
   ` + "`## 地点：名字`" + ` / ` + "`## Location: Name`" + ` declares a location.
2. A bare ` + "`## Name`" + ` heading takes its kind from frontmatter ` + "`entity:`" + ` or
   from the file name (characters.md, locations.md).
3. ` + "`- **别名**：...`" + ` lists aliases; other ` + "`- **key**：value`" + ` lines become
   properties.
4. ` + "`[REL:A|predicate|B]`" + ` declares a relation between two settings entities.

## Chapter files

The chapter number comes from frontmatter ` + "`number:`" + `, the file name
(` + "`ch012.md`" + `, ` + "`chapter-12.md`" + `, ` + "`第12章.md`" + `) or the first heading. A
chapter without a number is rejected.

Frontmatter ` + "`characters:`" + ` and ` + "`locations:`" + ` lists add cast entries.
Every line is one paragraph. Known names in the same paragraph are linked
weakly; a cue word between two names (认识, 爱上, 恨, 杀了, 前往, 住在...)
links them explicitly.

| Marker | Meaning |
|---|---|
| ` + "`[REL:A|predicate|B|0.8]`" + ` | explicit relation, optional strength |
| ` + "`[TIME:三更]`" + `, ` + "`` `2024-03-01` ``" + ` | timeline point, ordered by ` + "`precedes`" + ` |
| ` + "`[EVENT:夜袭] text`" + ` | event with the paragraph's characters as participants |
| ` + "`[REF:ch3]`" + `, ` + "`[[王五]]`" + ` | cross reference to a chapter or entity |
| ` + "`[SETUP:玉佩] text`" + ` | foreshadow set up in this chapter |
| ` + "`[HINT:玉佩]`" + `, ` + "`` `@ref[玉佩]` ``" + ` | hint at an open foreshadow |
| ` + "`[PAYOFF:玉佩] text`" + ` | foreshadow fulfilled in this chapter |

Predicates: knows, loves, hates, kills, father_of, mentor_of, located_in,
travels_to, causes, precedes, triggers, resolves, related_to.

## Example

` + "```" + `markdown
---
title: 夜雨
characters: [张三]
---
# 第十二章 夜雨
张三认识了李四。
[SETUP:玉佩] 张三捡到一块刻字的玉佩
[EVENT:夜袭] 张三与李四迎敌
` + "```" + `
`
