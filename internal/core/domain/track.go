package domain

import "math"

// DescriptorFields names the audio attributes of a TrackDescriptor in order.
var DescriptorFields = []string{"danceability", "energy", "valence", "tempo", "acousticness"}

// DescriptorDim is the dimensionality of descriptors produced by the Spotify adapter.
const DescriptorDim = 5

// TrackDescriptor is the numeric audio attribute vector for one track.
// Units and ranges belong to the feature provider and are kept verbatim.
type TrackDescriptor []float64

// Valid reports whether d has exactly dim finite components.
func (d TrackDescriptor) Valid(dim int) bool {
	if dim <= 0 || len(d) != dim {
		return false
	}
	for _, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
