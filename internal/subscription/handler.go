package subscription

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/identity"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCheck returns the subscription-check endpoint handler. It answers
// with the caller's SubscriptionStatus, 401 on credential failures, and
// 500 on any other verification error (the only unrecovered path).
func HandleCheck(v *Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		status, err := v.Verify(r.Context(), r.Header.Get("Authorization"))
		if errors.Is(err, identity.ErrNoCredential) || errors.Is(err, identity.ErrInvalidToken) {
			metrics.VerificationsTotal.WithLabelValues("auth_error").Inc()
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}
		if err != nil {
			metrics.VerificationsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Msg("subscription verification failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		if status.Subscribed {
			metrics.VerificationsTotal.WithLabelValues("premium").Inc()
		} else {
			metrics.VerificationsTotal.WithLabelValues("free").Inc()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("subscription: encode response")
	}
}
