package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// --- Mocks ---

// mockRepo is an in-memory UserRepository keeping insertion order.
type mockRepo struct {
	mu      sync.Mutex
	users   []domain.User
	getErr  error
	listErr error
	saveErr error

	saved      *domain.User
	embeddings map[string][]float32
}

func newMockRepo(users ...domain.User) *mockRepo {
	return &mockRepo{users: users, embeddings: map[string][]float32{}}
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	if m.getErr != nil {
		return domain.User{}, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *mockRepo) ListOthers(ctx context.Context, excludeID string) ([]domain.User, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if u.ID != excludeID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockRepo) Save(ctx context.Context, u domain.User) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = &u
	m.users = append(m.users, u)
	return nil
}

func (m *mockRepo) UpdateFaceEmbedding(ctx context.Context, id string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[id] = embedding
	return nil
}

// leakyRepo returns the querying user among the candidates.
type leakyRepo struct {
	*mockRepo
}

func (l leakyRepo) ListOthers(ctx context.Context, excludeID string) ([]domain.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.User(nil), l.users...), nil
}

// mockFace returns distances keyed by the unordered pair of user ids.
type mockFace struct {
	mu        sync.Mutex
	distances map[[2]string]float64
	errs      map[[2]string]error
	fallback  float64
	err       error
	calls     int
}

func newMockFace() *mockFace {
	return &mockFace{distances: map[[2]string]float64{}, errs: map[[2]string]error{}, fallback: 1}
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (m *mockFace) set(a, b string, d float64) *mockFace {
	m.distances[pairKey(a, b)] = d
	return m
}

func (m *mockFace) fail(a, b string, err error) *mockFace {
	m.errs[pairKey(a, b)] = err
	return m
}

func (m *mockFace) FaceDistance(ctx context.Context, a, b domain.FaceInput) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	key := pairKey(a.UserID, b.UserID)
	if err, ok := m.errs[key]; ok {
		return 0, err
	}
	if d, ok := m.distances[key]; ok {
		return d, nil
	}
	return m.fallback, nil
}

// asymmetricFace depends on argument order.
type asymmetricFace struct{}

func (asymmetricFace) FaceDistance(ctx context.Context, a, b domain.FaceInput) (float64, error) {
	if a.UserID < b.UserID {
		return 0.1, nil
	}
	return 0.9, nil
}

type mockFeatures struct {
	descriptors []domain.TrackDescriptor
	err         error
	calledRef   string
}

func (m *mockFeatures) FetchTrackDescriptors(ctx context.Context, playlistRef string) ([]domain.TrackDescriptor, error) {
	m.calledRef = playlistRef
	if m.err != nil {
		return nil, m.err
	}
	return m.descriptors, nil
}

type mockPhotos struct {
	err      error
	filename string
	data     []byte
	deleted  []string
}

func (m *mockPhotos) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.filename = filename
	m.data = data
	return "photos/" + filename, nil
}

func (m *mockPhotos) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (m *mockPhotos) Delete(ctx context.Context, ref string) error {
	m.deleted = append(m.deleted, ref)
	return nil
}

type mockEmbedder struct {
	embedding []float32
	err       error
	calledRef string
}

func (m *mockEmbedder) EmbedFace(ctx context.Context, photoRef string) ([]float32, error) {
	m.calledRef = photoRef
	if m.err != nil {
		return nil, m.err
	}
	return m.embedding, nil
}

// embeddingFace embeds photos by reference and compares embeddings by
// cosine distance, counting every call.
type embeddingFace struct {
	mu         sync.Mutex
	embeddings map[string][]float32
	embedErr   error
	embedCalls map[string]int
	distCalls  int
}

func newEmbeddingFace(embeddings map[string][]float32) *embeddingFace {
	return &embeddingFace{embeddings: embeddings, embedCalls: map[string]int{}}
}

func (f *embeddingFace) EmbedFace(ctx context.Context, photoRef string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls[photoRef]++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	e, ok := f.embeddings[photoRef]
	if !ok {
		return nil, domain.Degraded("face", domain.ReasonMissingImage, nil)
	}
	return e, nil
}

func (f *embeddingFace) FaceDistance(ctx context.Context, a, b domain.FaceInput) (float64, error) {
	f.mu.Lock()
	f.distCalls++
	f.mu.Unlock()

	ea, eb := a.Embedding, b.Embedding
	var err error
	if !a.HasEmbedding() {
		if ea, err = f.EmbedFace(ctx, a.PhotoRef); err != nil {
			return 0, err
		}
	}
	if !b.HasEmbedding() {
		if eb, err = f.EmbedFace(ctx, b.PhotoRef); err != nil {
			return 0, err
		}
	}
	return domain.CosineDistance(ea, eb), nil
}
