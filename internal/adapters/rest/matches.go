package rest

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// GetMatches handles GET /api/matches/{id}.
func (h *Handler) GetMatches(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	matches, err := h.svc.Rank(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		handleDomainError(w, r, err)
		return
	}

	if matches == nil {
		matches = []domain.MatchCandidate{}
	}
	writeJSON(w, http.StatusOK, matches)
}
