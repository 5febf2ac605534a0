package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/worker"
)

func newTestMatchmaker(features *mockFeatures, repo *mockRepo, photos *mockPhotos) *Matchmaker {
	m := NewMatchmaker(features, repo, photos, newTestRanker(repo, newMockFace()), nil)
	m.newID = func() string { return "user-1" }
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600)) }
	return m
}

func TestMatchmaker_BuildProfile(t *testing.T) {
	fetchErr := errors.New("spotify down")

	tests := []struct {
		name        string
		ref         string
		features    *mockFeatures
		want        domain.MusicProfile
		wantErr     error
		wantOutcome string
	}{
		{
			name: "mean of descriptors",
			ref:  "37i9dQZF1DXcBWIGoYBM5M",
			features: &mockFeatures{descriptors: []domain.TrackDescriptor{
				{0.8, 0.6, 0.5, 120, 0.1},
				{0.4, 0.2, 0.1, 100, 0.3},
			}},
			want:        domain.MusicProfile{0.6, 0.4, 0.3, 110, 0.2},
			wantOutcome: "ok",
		},
		{
			name:        "blank reference",
			ref:         "   ",
			features:    &mockFeatures{},
			wantErr:     domain.ErrValidation,
			wantOutcome: "",
		},
		{
			name:        "no analyzable tracks",
			ref:         "empty",
			features:    &mockFeatures{descriptors: []domain.TrackDescriptor{{math.NaN(), 0, 0, 0, 0}}},
			wantErr:     domain.ErrNoAnalyzableTracks,
			wantOutcome: "no_tracks",
		},
		{
			name:        "provider failure",
			ref:         "p",
			features:    &mockFeatures{err: fetchErr},
			wantErr:     fetchErr,
			wantOutcome: "error",
		},
		{
			name:        "inaccessible playlist",
			ref:         "private",
			features:    &mockFeatures{err: domain.ErrNotFound},
			wantErr:     domain.ErrNotFound,
			wantOutcome: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_profiles_total"}, []string{"result"})
			m := newTestMatchmaker(tt.features, newMockRepo(), &mockPhotos{}).WithProfileCounter(counter)

			got, err := m.BuildProfile(context.Background(), tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("profile: got %v, want %v", got, tt.want)
				}
				for i := range tt.want {
					if math.Abs(got[i]-tt.want[i]) > 1e-9 {
						t.Fatalf("profile[%d]: got %v, want %v", i, got[i], tt.want[i])
					}
				}
				if tt.features.calledRef != tt.ref {
					t.Fatalf("expected provider called with %q, got %q", tt.ref, tt.features.calledRef)
				}
			}

			if tt.wantOutcome != "" {
				if n := testutil.ToFloat64(counter.WithLabelValues(tt.wantOutcome)); n != 1 {
					t.Fatalf("expected %s counted once, got %v", tt.wantOutcome, n)
				}
			} else if n := testutil.CollectAndCount(counter); n != 0 {
				t.Fatalf("expected no profile outcome, got %d series", n)
			}
		})
	}
}

func TestMatchmaker_BuildProfile_PinnedDim(t *testing.T) {
	features := &mockFeatures{descriptors: []domain.TrackDescriptor{
		{1, 2},
		{0.2, 0.4, 0.6, 100, 0.8},
	}}
	m := newTestMatchmaker(features, newMockRepo(), &mockPhotos{}).WithDescriptorDim(domain.DescriptorDim)

	got, err := m.BuildProfile(context.Background(), "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != domain.DescriptorDim || got[3] != 100 {
		t.Fatalf("expected the short descriptor to be skipped, got %v", got)
	}
}

func TestMatchmaker_CreateProfile(t *testing.T) {
	features := &mockFeatures{descriptors: []domain.TrackDescriptor{{0.8, 0.6, 0.5, 120, 0.1}}}
	repo := newMockRepo()
	photos := &mockPhotos{}
	embedder := &mockEmbedder{embedding: []float32{0.1, 0.2, 0.3}}
	m := newTestMatchmaker(features, repo, photos).WithFaceEmbedder(embedder, nil)

	user, err := m.CreateProfile(context.Background(), NewProfile{
		Photo:       strings.NewReader("jpeg-bytes"),
		Filename:    "me.jpg",
		PlaylistRef: " 37i9dQZF1DXcBWIGoYBM5M ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.ID != "user-1" || user.PhotoRef != "photos/me.jpg" || user.PlaylistRef != "37i9dQZF1DXcBWIGoYBM5M" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", user.CreatedAt)
	}
	if string(photos.data) != "jpeg-bytes" {
		t.Fatalf("photo not stored: %q", photos.data)
	}
	if repo.saved == nil || repo.saved.ID != "user-1" || !repo.saved.MusicProfile.Present() {
		t.Fatalf("user not persisted with profile: %+v", repo.saved)
	}
	if embedder.calledRef != "photos/me.jpg" {
		t.Fatalf("embedder called with %q", embedder.calledRef)
	}
	if got := repo.embeddings["user-1"]; len(got) != 3 {
		t.Fatalf("embedding not stored: %v", got)
	}
}

func TestMatchmaker_CreateProfile_Failures(t *testing.T) {
	storeErr := errors.New("store failed")

	tests := []struct {
		name      string
		in        NewProfile
		features  *mockFeatures
		repo      *mockRepo
		photos    *mockPhotos
		wantErr   error
		wantPhoto bool
		wantClean bool
	}{
		{
			name:     "missing photo",
			in:       NewProfile{PlaylistRef: "p"},
			features: &mockFeatures{descriptors: []domain.TrackDescriptor{{1, 1, 1, 1, 1}}},
			repo:     newMockRepo(),
			photos:   &mockPhotos{},
			wantErr:  domain.ErrValidation,
		},
		{
			name:     "missing playlist",
			in:       NewProfile{Photo: strings.NewReader("x"), Filename: "x.jpg"},
			features: &mockFeatures{},
			repo:     newMockRepo(),
			photos:   &mockPhotos{},
			wantErr:  domain.ErrValidation,
		},
		{
			name:     "no analyzable tracks leaves no photo behind",
			in:       NewProfile{Photo: strings.NewReader("x"), Filename: "x.jpg", PlaylistRef: "p"},
			features: &mockFeatures{},
			repo:     newMockRepo(),
			photos:   &mockPhotos{},
			wantErr:  domain.ErrNoAnalyzableTracks,
		},
		{
			name:     "photo store failure",
			in:       NewProfile{Photo: strings.NewReader("x"), Filename: "x.jpg", PlaylistRef: "p"},
			features: &mockFeatures{descriptors: []domain.TrackDescriptor{{1, 1, 1, 1, 1}}},
			repo:     newMockRepo(),
			photos:   &mockPhotos{err: storeErr},
			wantErr:  storeErr,
		},
		{
			name:      "repository failure removes the stored photo",
			in:        NewProfile{Photo: strings.NewReader("x"), Filename: "x.jpg", PlaylistRef: "p"},
			features:  &mockFeatures{descriptors: []domain.TrackDescriptor{{1, 1, 1, 1, 1}}},
			repo:      &mockRepo{saveErr: storeErr},
			photos:    &mockPhotos{},
			wantErr:   storeErr,
			wantPhoto: true,
			wantClean: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatchmaker(tt.features, tt.repo, tt.photos)

			_, err := m.CreateProfile(context.Background(), tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if stored := tt.photos.filename != ""; stored != tt.wantPhoto {
				t.Fatalf("photo stored: got %v, want %v", stored, tt.wantPhoto)
			}
			if tt.wantClean {
				if len(tt.photos.deleted) != 1 || tt.photos.deleted[0] != "photos/"+tt.in.Filename {
					t.Fatalf("expected the stored photo to be deleted, got %v", tt.photos.deleted)
				}
			} else if len(tt.photos.deleted) != 0 {
				t.Fatalf("unexpected photo deletion: %v", tt.photos.deleted)
			}
		})
	}
}

func TestMatchmaker_CreateProfile_EmbeddingFailureIsNotFatal(t *testing.T) {
	features := &mockFeatures{descriptors: []domain.TrackDescriptor{{1, 1, 1, 1, 1}}}
	repo := newMockRepo()
	embedder := &mockEmbedder{err: domain.Degraded("face", domain.ReasonNoFace, nil)}
	m := newTestMatchmaker(features, repo, &mockPhotos{}).WithFaceEmbedder(embedder, nil)

	user, err := m.CreateProfile(context.Background(), NewProfile{Photo: strings.NewReader("x"), Filename: "x.jpg", PlaylistRef: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.embeddings[user.ID]; ok {
		t.Fatal("expected no embedding to be stored")
	}
}

func TestMatchmaker_CreateProfile_BackgroundEmbedding(t *testing.T) {
	features := &mockFeatures{descriptors: []domain.TrackDescriptor{{1, 1, 1, 1, 1}}}
	repo := newMockRepo()
	embedder := &mockEmbedder{embedding: []float32{1, 0}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := worker.NewPool(4, nil)
	pool.Start(ctx, 1)

	m := newTestMatchmaker(features, repo, &mockPhotos{}).WithFaceEmbedder(embedder, pool)
	if _, err := m.CreateProfile(context.Background(), NewProfile{Photo: strings.NewReader("x"), Filename: "x.jpg", PlaylistRef: "p"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool.Stop()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if got := repo.embeddings["user-1"]; len(got) != 2 {
		t.Fatalf("expected embedding stored by background job, got %v", got)
	}
}

func TestMatchmaker_Rank(t *testing.T) {
	repo := newMockRepo(
		domain.User{ID: "a", MusicProfile: profileA},
		domain.User{ID: "b", MusicProfile: profileA, PlaylistRef: "pb"},
	)
	cfg := DefaultScoringConfig()
	ranker := NewRanker(repo, NewScorer(newMockFace().set("a", "b", 0), cfg, nil), cfg, nil)
	m := NewMatchmaker(&mockFeatures{}, repo, &mockPhotos{}, ranker, nil)

	got, err := m.Rank(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "b" || got[0].PlaylistRef != "pb" {
		t.Fatalf("unexpected matches: %+v", got)
	}
}
