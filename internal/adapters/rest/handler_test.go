package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ewilliams-labs/duet/internal/adapters/photos"
	"github.com/ewilliams-labs/duet/internal/adapters/sqlite"
	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/services"
)

// --- Mocks ---

type mockFeatures struct {
	descriptors []domain.TrackDescriptor
	err         error
}

func (m *mockFeatures) FetchTrackDescriptors(ctx context.Context, playlistRef string) ([]domain.TrackDescriptor, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.descriptors, nil
}

// mockFace reports every pair as identical.
type mockFace struct{}

func (mockFace) FaceDistance(ctx context.Context, a, b domain.FaceInput) (float64, error) {
	return 0, nil
}

type testEnv struct {
	handler *Handler
	repo    *sqlite.Adapter
}

// newTestEnv builds a real Matchmaker over sqlite and a temp photo dir,
// with only the external providers mocked.
func newTestEnv(t *testing.T, features *mockFeatures) testEnv {
	t.Helper()
	repo, err := sqlite.NewAdapter(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := photos.NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("photos: %v", err)
	}

	cfg := services.DefaultScoringConfig()
	ranker := services.NewRanker(repo, services.NewScorer(mockFace{}, cfg, nil), cfg, nil)
	svc := services.NewMatchmaker(features, repo, store, ranker, nil)
	return testEnv{handler: NewHandler(svc, nil, WithMaxUploadBytes(1<<20)), repo: repo}
}

func multipartBody(t *testing.T, fields map[string]string, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if photo != nil {
		part, err := w.CreateFormFile("photo", "me.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(photo)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

// --- Tests ---

func TestHandler_HealthCheck(t *testing.T) {
	env := newTestEnv(t, &mockFeatures{})

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_CreateProfile(t *testing.T) {
	descriptors := []domain.TrackDescriptor{{0.8, 0.6, 0.5, 120, 0.1}}

	tests := []struct {
		name           string
		fields         map[string]string
		photo          []byte
		features       *mockFeatures
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Success: returns the new user id",
			fields:         map[string]string{"playlist_id": "37i9dQZF1DXcBWIGoYBM5M"},
			photo:          []byte("jpeg"),
			features:       &mockFeatures{descriptors: descriptors},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"user_id":"`,
		},
		{
			name:           "Bad Request: missing photo",
			fields:         map[string]string{"playlist_id": "p"},
			features:       &mockFeatures{descriptors: descriptors},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Missing required fields",
		},
		{
			name:           "Bad Request: missing playlist",
			photo:          []byte("jpeg"),
			features:       &mockFeatures{descriptors: descriptors},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Missing required fields",
		},
		{
			name:           "Unprocessable: playlist without analyzable tracks",
			fields:         map[string]string{"playlist_id": "p"},
			photo:          []byte("jpeg"),
			features:       &mockFeatures{},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "Could not analyze playlist",
		},
		{
			name:           "Not Found: inaccessible playlist",
			fields:         map[string]string{"playlist_id": "private"},
			photo:          []byte("jpeg"),
			features:       &mockFeatures{err: domain.ErrNotFound},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Service Error: provider failure is a 500",
			fields:         map[string]string{"playlist_id": "p"},
			photo:          []byte("jpeg"),
			features:       &mockFeatures{err: errors.New("spotify down")},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.features)
			body, contentType := multipartBody(t, tt.fields, tt.photo)

			req := httptest.NewRequest(http.MethodPost, "/api/profile", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rec.Code, strings.TrimSpace(rec.Body.String()))
			}
			if tt.expectedBody != "" && !strings.Contains(rec.Body.String(), tt.expectedBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedBody, rec.Body.String())
			}

			if rec.Code == http.StatusCreated {
				var resp createProfileResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				user, err := env.repo.GetByID(context.Background(), resp.UserID)
				if err != nil {
					t.Fatalf("user not persisted: %v", err)
				}
				if user.PlaylistRef != "37i9dQZF1DXcBWIGoYBM5M" || !user.MusicProfile.Present() {
					t.Fatalf("unexpected stored user: %+v", user)
				}
			}
		})
	}
}

func TestHandler_GetMatches(t *testing.T) {
	env := newTestEnv(t, &mockFeatures{})
	ctx := context.Background()
	users := []domain.User{
		{ID: "a", PlaylistRef: "pa", MusicProfile: domain.MusicProfile{0.8, 0.6, 0.5, 120, 0.1}},
		{ID: "b", PlaylistRef: "pb", MusicProfile: domain.MusicProfile{0.8, 0.6, 0.5, 120, 0.1}},
		{ID: "c", PlaylistRef: "pc"},
	}
	for _, u := range users {
		if err := env.repo.Save(ctx, u); err != nil {
			t.Fatalf("save %s: %v", u.ID, err)
		}
	}

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedIDs    []string
		expectedBody   string
	}{
		{
			name:           "Success: ranked matches",
			path:           "/api/matches/a",
			expectedStatus: http.StatusOK,
			expectedIDs:    []string{"b", "c"},
		},
		{
			name:           "Not Found: unknown user",
			path:           "/api/matches/ghost",
			expectedStatus: http.StatusNotFound,
			expectedBody:   "User not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d, body: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedBody != "" && !strings.Contains(rec.Body.String(), tt.expectedBody) {
				t.Fatalf("expected body to contain %q, got %q", tt.expectedBody, rec.Body.String())
			}
			if tt.expectedIDs == nil {
				return
			}

			var got []struct {
				UserID     string  `json:"user_id"`
				PlaylistID string  `json:"playlist_id"`
				MatchScore float64 `json:"match_score"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tt.expectedIDs) {
				t.Fatalf("expected %d matches, got %+v", len(tt.expectedIDs), got)
			}
			for i, id := range tt.expectedIDs {
				if got[i].UserID != id {
					t.Fatalf("position %d: got %s, want %s", i, got[i].UserID, id)
				}
			}
			if got[0].PlaylistID != "pb" || math.Abs(got[0].MatchScore-1) > 1e-9 {
				t.Fatalf("unexpected first match: %+v", got[0])
			}
		})
	}
}

func TestHandler_GetMatches_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, &mockFeatures{})
	if err := env.repo.Save(context.Background(), domain.User{ID: "alone"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matches/alone", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestHandler_Metrics(t *testing.T) {
	env := newTestEnv(t, &mockFeatures{})

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
