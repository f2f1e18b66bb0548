package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/plotweave/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Param string `json:"param,omitempty"`
	ID    string `json:"id,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors to status codes: NotFound is 404 naming
// the id, MalformedQuery is 400 naming the parameter, anything else is a
// logged 500.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		nf *apperr.NotFoundError
		mq *apperr.MalformedQueryError
	)
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errResponse{Error: nf.Error(), ID: nf.ID})
	case errors.As(err, &mq):
		writeJSON(w, http.StatusBadRequest, errResponse{Error: mq.Error(), Param: mq.Param})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrMalformedQuery):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
