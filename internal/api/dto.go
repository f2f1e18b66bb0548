package api

import (
	"time"

	"github.com/starford/plotweave/internal/foreshadow"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/retrieve"
)

// RetrieveResponse wraps context retrieval results.
type RetrieveResponse struct {
	Query   string            `json:"query" example:"张三" validate:"required"`
	MaxHops int               `json:"max_hops" example:"2" validate:"required"`
	Limit   int               `json:"limit" example:"20" validate:"required"`
	Results []retrieve.Result `json:"results" validate:"required"`
}

// ForeshadowListResponse wraps foreshadow chains.
type ForeshadowListResponse struct {
	Status      string              `json:"status" example:"open" validate:"required"`
	Foreshadows []*foreshadow.Chain `json:"foreshadows" validate:"required"`
}

// RebuildRequest is the optional body of POST /api/rebuild.
type RebuildRequest struct {
	Force bool `json:"force" example:"false"`
	Clean bool `json:"clean" example:"false"`
}

// RebuildResponse reports a finished rebuild.
type RebuildResponse struct {
	Stats    *indexer.RebuildStats `json:"stats" validate:"required"`
	Duration string                `json:"duration" example:"120ms" validate:"required"`
	Failures []indexer.FileError   `json:"failures"`
}

func rebuildResponse(st *indexer.RebuildStats) RebuildResponse {
	failures := st.Failed
	if failures == nil {
		failures = []indexer.FileError{}
	}
	return RebuildResponse{Stats: st, Duration: st.Duration.Round(time.Millisecond).String(), Failures: failures}
}
