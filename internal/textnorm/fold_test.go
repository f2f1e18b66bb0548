package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "alice", Fold("ALICE"))
	assert.Equal(t, "张三", Fold("张三"))
	// Fullwidth Latin normalizes under NFKC.
	assert.Equal(t, "abc", Fold("ＡＢＣ"))
	assert.Equal(t, "strasse", Fold("STRASSE"))
}

func TestIndexMapsBackToSource(t *testing.T) {
	s := "前言。ＡＢＣ遇到了张三"
	start, end := Index(s, "abc")
	assert.Equal(t, "ＡＢＣ", s[start:end])

	start, end = Index(s, "张三")
	assert.Equal(t, "张三", s[start:end])

	start, end = Index(s, "李四")
	assert.Equal(t, -1, start)
	assert.Equal(t, -1, end)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("The Iron Tower", "iron tower"))
	assert.False(t, Contains("The Iron Tower", "stone"))
}

func TestSnippet(t *testing.T) {
	s := "一二三四五六七八九十"
	start, end := Index(s, "五六")
	assert.Equal(t, "…三四五六七八…", Snippet(s, start, end, 2))
	assert.Equal(t, s, Snippet(s, start, end, 20))
}
