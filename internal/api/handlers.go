package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/indexer"
)

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// idParam extracts a path parameter, decoding escaped names such as
// %E5%BC%A0%E4%B8%89.
func idParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// intParam parses an optional integer query parameter.
func intParam(q url.Values, key string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &apperr.MalformedQueryError{Param: key, Reason: "must be an integer"}
	}
	return n, nil
}

// Retrieve handles GET /api/retrieve.
//
//	@Summary		Retrieve chapters and entities relevant to a query
//	@Tags			retrieval
//	@Produce		json
//	@Param			q		query		string	true	"Query text"
//	@Param			hops	query		int		false	"Maximum hops (>= 0)"
//	@Param			limit	query		int		false	"Maximum results (> 0)"
//	@Success		200		{object}	RetrieveResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/retrieve [get]
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := h.svc.DefaultQuery(q.Get("q"))
	var err error
	if query.MaxHops, err = intParam(q, "hops", query.MaxHops); err != nil {
		writeError(w, r, "retrieve", err)
		return
	}
	if query.Limit, err = intParam(q, "limit", query.Limit); err != nil {
		writeError(w, r, "retrieve", err)
		return
	}
	results, err := h.svc.Retrieve(r.Context(), query)
	if err != nil {
		writeError(w, r, "retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Query: query.Text, MaxHops: query.MaxHops, Limit: query.Limit, Results: results})
}

// Network handles GET /api/network.
//
//	@Summary		Build the relationship network among characters
//	@Tags			network
//	@Produce		json
//	@Param			names	query		string	false	"Comma separated names; empty selects all characters"
//	@Success		200		{object}	network.Network
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/network [get]
func (h *Handler) Network(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, v := range r.URL.Query()["names"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	n, err := h.svc.Network(r.Context(), names)
	if err != nil {
		writeError(w, r, "network", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Foreshadows handles GET /api/foreshadows.
//
//	@Summary		List foreshadow chains
//	@Tags			foreshadow
//	@Produce		json
//	@Param			status	query		string	false	"open or all"	Enums(open, all)
//	@Success		200		{object}	ForeshadowListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/foreshadows [get]
func (h *Handler) Foreshadows(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "":
		status = "all"
	case "open", "all":
	default:
		writeError(w, r, "foreshadows", &apperr.MalformedQueryError{Param: "status", Reason: "must be open or all"})
		return
	}
	chains := h.svc.Foreshadows(r.Context(), status == "open")
	writeJSON(w, http.StatusOK, ForeshadowListResponse{Status: status, Foreshadows: chains})
}

// Foreshadow handles GET /api/foreshadows/{id}.
//
//	@Summary		Trace one foreshadow chain by id or name
//	@Tags			foreshadow
//	@Produce		json
//	@Param			id	path		string	true	"Foreshadow node id or name"
//	@Success		200	{object}	foreshadow.Chain
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/foreshadows/{id} [get]
func (h *Handler) Foreshadow(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Trace(r.Context(), idParam(r, "id"))
	if err != nil {
		writeError(w, r, "trace foreshadow", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Node handles GET /api/nodes/{id}.
//
//	@Summary		Get a node and its adjacent edges
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Node id or name"
//	@Success		200	{object}	service.NodeDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id} [get]
func (h *Handler) Node(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Node(r.Context(), idParam(r, "id"))
	if err != nil {
		writeError(w, r, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Neighbors handles GET /api/nodes/{id}/neighbors.
//
//	@Summary		List a node's neighbours
//	@Tags			graph
//	@Produce		json
//	@Param			id			path		string	true	"Node id or name"
//	@Param			predicate	query		string	false	"Comma separated predicates"
//	@Param			direction	query		string	false	"out, in or both"	Enums(out, in, both)
//	@Success		200			{array}		graph.Neighbor
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id}/neighbors [get]
func (h *Handler) Neighbors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nbs, err := h.svc.Neighbors(r.Context(), idParam(r, "id"), q.Get("predicate"), q.Get("direction"))
	if err != nil {
		writeError(w, r, "neighbors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"neighbors": nbs})
}

// Path handles GET /api/path.
//
//	@Summary		Shortest path between two nodes
//	@Tags			graph
//	@Produce		json
//	@Param			from	query		string	true	"Node id or name"
//	@Param			to		query		string	true	"Node id or name"
//	@Success		200		{object}	service.PathResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/path [get]
func (h *Handler) Path(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.svc.Path(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, "path", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Stats handles GET /api/stats.
//
//	@Summary		Graph counts, file states and process usage
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	service.Stats
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}

// Rebuild handles POST /api/rebuild.
//
//	@Summary		Reconcile the index with the project files
//	@Tags			index
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RebuildRequest	false	"Rebuild options"
//	@Success		200		{object}	RebuildResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	q := r.URL.Query()
	if v, err := strconv.ParseBool(q.Get("force")); err == nil {
		req.Force = req.Force || v
	}
	if v, err := strconv.ParseBool(q.Get("clean")); err == nil {
		req.Clean = req.Clean || v
	}
	st, err := h.svc.Rebuild(r.Context(), indexer.RebuildOptions{Force: req.Force, Clean: req.Clean})
	if err != nil {
		writeError(w, r, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse(st))
}
