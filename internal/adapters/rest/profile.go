package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ewilliams-labs/duet/internal/core/services"
)

type createProfileResponse struct {
	UserID string `json:"user_id"`
}

// CreateProfile handles POST /api/profile with a multipart "photo" file and
// a "playlist_id" field.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	defer r.MultipartForm.RemoveAll()

	photo, header, err := r.FormFile("photo")
	playlistID := strings.TrimSpace(r.FormValue("playlist_id"))
	if err != nil || playlistID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	defer photo.Close()

	user, err := h.svc.CreateProfile(r.Context(), services.NewProfile{
		Photo:       photo,
		Filename:    header.Filename,
		PlaylistRef: playlistID,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createProfileResponse{UserID: user.ID})
}
