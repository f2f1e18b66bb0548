package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/textnorm"
)

func TestDictionaryLongestMatch(t *testing.T) {
	d := NewDictionary(
		Entity{Label: graph.Character, Name: "张三"},
		Entity{Label: graph.Character, Name: "张三丰"},
	)
	hits := d.Match(textnorm.Fold("张三丰见张三"))
	require.Len(t, hits, 2)
	assert.Equal(t, "张三丰", hits[0].Ref.Name)
	assert.Equal(t, "张三", hits[1].Ref.Name)
}

func TestDictionaryLatinWordBoundaries(t *testing.T) {
	d := NewDictionary(Entity{Label: graph.Character, Name: "Ann"})
	assert.Empty(t, d.Match(textnorm.Fold("Annabel walked")))
	hits := d.Match(textnorm.Fold("Then ANN left"))
	require.Len(t, hits, 1)
	assert.Equal(t, "Ann", hits[0].Ref.Name)
}

func TestDictionaryMergeAndResolve(t *testing.T) {
	d := NewDictionary(
		Entity{Label: graph.Character, Name: "张三", Aliases: []string{"小张"}},
		Entity{Label: graph.Character, Name: "张三", Aliases: []string{"三哥"}, Attributes: map[string]string{"身份": "剑客"}},
	)
	assert.Equal(t, 1, d.Len())
	e, ok := d.Resolve("三哥")
	require.True(t, ok)
	assert.Equal(t, "张三", e.Name)
	assert.Equal(t, "剑客", e.Attributes["身份"])
	_, ok = d.Resolve("李四")
	assert.False(t, ok)
}

func TestDictionaryFingerprint(t *testing.T) {
	a := NewDictionary(FromNames(graph.Character, []string{"张三", "李四"})...)
	b := NewDictionary(FromNames(graph.Character, []string{"李四", "张三"})...)
	c := NewDictionary(Entity{Label: graph.Character, Name: "张三", Aliases: []string{"小张"}}, Entity{Label: graph.Character, Name: "李四"})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
