package domain

// MusicProfile is the element-wise mean of a user's track descriptors.
// A nil profile means no music signal is available.
type MusicProfile []float64

// Present reports whether the profile carries a music signal.
func (p MusicProfile) Present() bool {
	return len(p) > 0
}

// Playlist is the set of descriptors fetched for one playlist reference.
type Playlist struct {
	Ref         string
	Descriptors []TrackDescriptor
}

// Analyze reduces the playlist to a MusicProfile. ok is false when no
// descriptor was usable.
func (p Playlist) Analyze() (MusicProfile, bool) {
	return Aggregate(p.Descriptors)
}

// Aggregate returns the coordinate-wise mean of the valid descriptors.
// The first finite, non-empty descriptor fixes the dimensionality; later
// descriptors of another length are skipped, never averaged as zero.
func Aggregate(descriptors []TrackDescriptor) (MusicProfile, bool) {
	for _, d := range descriptors {
		if d.Valid(len(d)) {
			return AggregateDim(descriptors, len(d))
		}
	}
	return nil, false
}

// AggregateDim is Aggregate with a fixed expected dimensionality.
func AggregateDim(descriptors []TrackDescriptor, dim int) (MusicProfile, bool) {
	if dim <= 0 {
		return nil, false
	}

	sum := make([]float64, dim)
	count := 0
	for _, d := range descriptors {
		if !d.Valid(dim) {
			continue
		}
		for i, v := range d {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return nil, false
	}

	for i := range sum {
		sum[i] /= float64(count)
	}
	return MusicProfile(sum), true
}
