package spotify

import "github.com/ewilliams-labs/duet/internal/core/domain"

// mapFeaturesToDescriptor orders the features as domain.DescriptorFields.
// Values are kept as returned; tempo is not normalized.
func mapFeaturesToDescriptor(f spotifyAudioFeatures) domain.TrackDescriptor {
	return domain.TrackDescriptor{
		f.Danceability,
		f.Energy,
		f.Valence,
		f.Tempo,
		f.Acousticness,
	}
}

// analyzableTrackIDs keeps the ids of catalog tracks; local files and
// episodes have no audio features.
func analyzableTrackIDs(items []playlistItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Track == nil || item.Track.ID == "" || item.Track.IsLocal {
			continue
		}
		if item.Track.Type != "" && item.Track.Type != "track" {
			continue
		}
		ids = append(ids, item.Track.ID)
	}
	return ids
}
