package parser

import (
	"errors"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: 初遇\nnumber: 3\n---\n# 第三章\n张三走进酒馆。\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "初遇" {
		t.Errorf("title = %q, want %q", r.Title, "初遇")
	}
	if r.Body != "# 第三章\n张三走进酒馆。\n" {
		t.Errorf("body = %q", r.Body)
	}
	if n := ChapterNumber("chapters/intro.md", r); n != 3 {
		t.Errorf("chapter number = %d, want 3", n)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLIsError(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	if _, err := Parse(input); err == nil {
		t.Fatal("expected error for malformed frontmatter")
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	_, err := Parse([]byte{0xff, 0xfe, 'a'})
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestParse_UnclosedFrontmatterIsBody(t *testing.T) {
	r, err := Parse([]byte("---\nnot closed\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter")
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[ch001]] and [[李四|小李]].\nAlso [[ch001]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "ch001" || links[1] != "李四" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractLinks_EmptyTarget(t *testing.T) {
	links := extractLinks("see [[ ]] and [[|alias]]")
	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	title := deriveTitle(fm, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestDeriveTitle_FirstLine(t *testing.T) {
	title := deriveTitle(nil, "\n夜色很深。\n")
	if title != "夜色很深。" {
		t.Errorf("title = %q", title)
	}
}

func TestChapterNumber(t *testing.T) {
	cases := []struct {
		path string
		body string
		want int
	}{
		{"chapters/ch001.md", "", 1},
		{"chapters/chapter-12.md", "", 12},
		{"chapters/第7章.md", "", 7},
		{"chapters/opening.md", "# 第 15 章 风起\n", 15},
		{"chapters/opening.md", "no number here", 0},
	}
	for _, c := range cases {
		got := ChapterNumber(c.path, &Result{Body: c.body})
		if got != c.want {
			t.Errorf("ChapterNumber(%q) = %d, want %d", c.path, got, c.want)
		}
	}
}

func TestWordCount(t *testing.T) {
	if n := WordCount("张三认识李四"); n != 6 {
		t.Errorf("han count = %d, want 6", n)
	}
	if n := WordCount("Alice met Bob in 1999."); n != 5 {
		t.Errorf("latin count = %d, want 5", n)
	}
	if n := WordCount("张三 met Bob。"); n != 4 {
		t.Errorf("mixed count = %d, want 4", n)
	}
}
