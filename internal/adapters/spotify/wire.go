package spotify

// playlistTracksPage is one page of GET /playlists/{id}/tracks.
type playlistTracksPage struct {
	Items []playlistItem `json:"items"`
	Next  *string        `json:"next"`
	Total int            `json:"total"`
}

type playlistItem struct {
	// Track is null for removed or unavailable tracks.
	Track *spotifyTrack `json:"track"`
}

type spotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	IsLocal bool   `json:"is_local"`
}

// audioFeaturesResponse is the body of GET /audio-features?ids=...
// Entries are null for ids without analysis.
type audioFeaturesResponse struct {
	AudioFeatures []*spotifyAudioFeatures `json:"audio_features"`
}

type spotifyAudioFeatures struct {
	ID               string  `json:"id"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
}
