package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/allowlist"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/matchfeed"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Version       string `json:"version"`
	TotalGrants   int    `json:"total_grants"`
	MatchesLoaded int    `json:"matches_loaded"`
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key,
// read from X-Admin-Key or an Authorization bearer token.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness probe).
func HandleReadyz(grants *allowlist.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := grants.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleStatus returns a handler that reports aggregate server status.
func HandleStatus(grants *allowlist.Store, feed *matchfeed.Feed, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := grants.Count()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Version:       version,
			TotalGrants:   total,
			MatchesLoaded: feed.Len(),
		})
	}
}

type grantRequest struct {
	UserID    string `json:"user_id"`
	GrantedBy string `json:"granted_by"`
	Notes     string `json:"notes"`
}

type grantListResponse struct {
	Grants []*allowlist.Grant `json:"grants"`
}

// HandleGrants serves the admin grant collection: GET lists every grant,
// POST creates or replaces one.
func HandleGrants(grants *allowlist.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := grants.List()
			if err != nil {
				log.Error().Err(err).Msg("List grants failed")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			writeJSON(w, http.StatusOK, grantListResponse{Grants: list})

		case http.MethodPost:
			var req grantRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
				return
			}
			req.UserID = strings.TrimSpace(req.UserID)
			if req.UserID == "" {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
				return
			}
			grantedBy := strings.TrimSpace(req.GrantedBy)
			if grantedBy == "" {
				grantedBy = "admin"
			}
			g := &allowlist.Grant{
				UserID:    req.UserID,
				GrantedBy: grantedBy,
				Notes:     strings.TrimSpace(req.Notes),
				GrantedAt: time.Now(),
			}
			if err := grants.Upsert(g); err != nil {
				log.Error().Err(err).Str("userId", req.UserID).Msg("Upsert grant failed")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			log.Info().Str("userId", req.UserID).Str("grantedBy", grantedBy).Msg("Manual grant recorded")
			writeJSON(w, http.StatusOK, g)

		default:
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		}
	}
}

// HandleDeleteGrant revokes a grant by user id from the request path.
// Deleting an absent grant succeeds.
func HandleDeleteGrant(grants *allowlist.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		userID := strings.TrimSpace(r.PathValue("user_id"))
		if userID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
			return
		}
		if err := grants.Delete(userID); err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("Delete grant failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		log.Info().Str("userId", userID).Msg("Grant revoked")
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

type profileRequest struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// HandleUpsertProfile records the email the payment provider knows a user
// by, so webhook deliveries can be resolved back to a local account.
func HandleUpsertProfile(grants *allowlist.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.UserID == "" || req.Email == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id and email are required"})
			return
		}
		p := &allowlist.Profile{
			UserID:      req.UserID,
			Email:       req.Email,
			DisplayName: strings.TrimSpace(req.DisplayName),
			CreatedAt:   time.Now(),
		}
		if err := grants.UpsertProfile(p); err != nil {
			if errors.Is(err, allowlist.ErrEmailTaken) {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "email already mapped to another user"})
				return
			}
			log.Error().Err(err).Str("userId", req.UserID).Msg("Upsert profile failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("server: encode response")
	}
}
