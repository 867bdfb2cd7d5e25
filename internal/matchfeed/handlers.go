package matchfeed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

type matchListResponse struct {
	Matches []Match `json:"matches"`
}

// HandleList serves the loaded match list, optionally filtered with
// ?window=upcoming or ?window=historical.
func (f *Feed) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	now := time.Now()
	var matches []Match
	switch window := r.URL.Query().Get("window"); window {
	case "", "all":
		matches = f.All()
	case "upcoming":
		matches = f.Upcoming(now)
	case "historical":
		matches = f.Historical(now)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown window " + window})
		return
	}

	writeJSON(w, http.StatusOK, matchListResponse{Matches: matches})
}

// HandleGet serves a single match by id from the request path.
func (f *Feed) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	id := r.PathValue("id")
	m, ok := f.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "match not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("matchfeed: encode response")
	}
}
