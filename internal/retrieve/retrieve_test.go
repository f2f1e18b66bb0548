package retrieve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/testutil"
)

func setup(t *testing.T, files map[string]string) *Retriever {
	t.Helper()
	_, fs := testutil.TestProject(t, files)
	store, db := testutil.TestStore(t)
	ix := indexer.New(indexer.Config{
		ChaptersDir: "chapters",
		SettingsDir: "settings",
		Characters:  []string{"张三", "李四"},
	}, fs, store, testutil.Extractor(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := ix.Rebuild(context.Background(), indexer.RebuildOptions{})
	require.NoError(t, err)
	r, err := New(DefaultConfig(), store, db)
	require.NoError(t, err)
	return r
}

func chapterIDs(res []Result) []string {
	var out []string
	for _, r := range res {
		if r.Target.Kind == TargetChapter {
			out = append(out, r.Target.Name)
		}
	}
	return out
}

func TestRetrieveHopDecay(t *testing.T) {
	r := setup(t, map[string]string{
		"chapters/ch001.md": "张三认识李四。",
		"chapters/ch002.md": "李四独自赶路。",
	})

	res, err := r.Retrieve(context.Background(), Query{Text: "张三", MaxHops: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"ch001", "ch002"}, chapterIDs(res))

	assert.Equal(t, 1.0, res[0].Confidence)
	assert.Equal(t, 0, res[0].Hops)
	assert.Equal(t, SourceGraph, res[0].Source)
	assert.Contains(t, res[0].Excerpt, "张三")

	assert.Equal(t, 0.5, res[1].Confidence)
	assert.Equal(t, 1, res[1].Hops)
	assert.Equal(t, "李四", res[1].Anchor)
	require.Len(t, res[1].Path, 2)
	assert.Equal(t, "张三", res[1].Path[0].Name)
	assert.Equal(t, "李四", res[1].Path[1].Name)
	assert.EqualValues(t, "knows", res[1].Path[1].Predicate)

	res, err = r.Retrieve(context.Background(), Query{Text: "张三", MaxHops: 0, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"ch001"}, chapterIDs(res))
}

func TestRetrieveLimitAndOrder(t *testing.T) {
	r := setup(t, map[string]string{
		"chapters/ch001.md": "张三认识李四。",
		"chapters/ch002.md": "李四独自赶路。",
	})
	res, err := r.Retrieve(context.Background(), Query{Text: "张三", MaxHops: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "ch001", res[0].Target.Name)

	again, err := r.Retrieve(context.Background(), Query{Text: "张三", MaxHops: 2, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestRetrieveTextFallback(t *testing.T) {
	r := setup(t, map[string]string{
		"chapters/ch001.md": "张三在雪夜里拔出长剑。",
		"chapters/ch002.md": "风停了。",
	})
	res, err := r.Retrieve(context.Background(), Query{Text: "长剑", MaxHops: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, SourceText, res[0].Source)
	assert.Equal(t, "ch001", res[0].Target.Name)
	assert.Equal(t, 0.8, res[0].Confidence)
	assert.Contains(t, res[0].Excerpt, "长剑")
}

func TestRetrieveChapterReference(t *testing.T) {
	r := setup(t, map[string]string{
		"chapters/ch001.md": "张三认识李四。",
		"chapters/ch002.md": "风停了。",
	})
	res, err := r.Retrieve(context.Background(), Query{Text: "第2章", MaxHops: 0, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "ch002", res[0].Target.Name)
	assert.Equal(t, 2, res[0].Target.Number)
	assert.Equal(t, SourceGraph, res[0].Source)
}

func TestRetrieveBlankAndUnknown(t *testing.T) {
	r := setup(t, map[string]string{"chapters/ch001.md": "张三认识李四。"})

	res, err := r.Retrieve(context.Background(), Query{Text: "   ", MaxHops: 1, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = r.Retrieve(context.Background(), Query{Text: "王五", MaxHops: 1, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRetrieveMalformed(t *testing.T) {
	r := setup(t, nil)
	tests := []struct {
		name  string
		q     Query
		param string
	}{
		{"negative hops", Query{Text: "张三", MaxHops: -1, Limit: 5}, "max_hops"},
		{"zero limit", Query{Text: "张三", MaxHops: 1, Limit: 0}, "limit"},
		{"negative limit", Query{Text: "张三", MaxHops: 1, Limit: -3}, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Retrieve(context.Background(), tt.q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrMalformedQuery))
			var mq *apperr.MalformedQueryError
			require.ErrorAs(t, err, &mq)
			assert.Equal(t, tt.param, mq.Param)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.HopDecay = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TextConfidence = 0
	assert.Error(t, cfg.Validate())

	_, err := New(Config{HopDecay: 2}, nil, nil)
	assert.Error(t, err)
}
