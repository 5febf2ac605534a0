package domain

import "time"

// User is the record the matching engine reads from the user store.
type User struct {
	ID            string
	PhotoRef      string
	FaceEmbedding []float32 // optional, precomputed from PhotoRef
	MusicProfile  MusicProfile
	PlaylistRef   string
	CreatedAt     time.Time
}

// FaceInput returns what the face provider needs to compare this user.
func (u User) FaceInput() FaceInput {
	return FaceInput{UserID: u.ID, PhotoRef: u.PhotoRef, Embedding: u.FaceEmbedding}
}

// FaceInput carries either a precomputed embedding or a photo reference.
type FaceInput struct {
	UserID    string
	PhotoRef  string
	Embedding []float32
}

// HasEmbedding reports whether the input can be compared without the face service.
func (f FaceInput) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// MatchCandidate is one ranked result.
type MatchCandidate struct {
	UserID      string  `json:"user_id"`
	PlaylistRef string  `json:"playlist_id"`
	Score       float64 `json:"match_score"`
}

// ScoreBreakdown keeps the component similarities next to the final score.
type ScoreBreakdown struct {
	Face     float64
	Music    float64
	Score    float64
	Degraded *ProviderDegradedError
}
