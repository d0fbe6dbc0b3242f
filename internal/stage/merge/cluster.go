package merge

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/longscribe/longscribe/internal/stage"
)

// cluster groups speaker embeddings by average-linkage agglomerative
// clustering over cosine distances. Two clusters merge while their average
// pairwise distance stays below maxDistance (1 − similarity threshold).
//
// The result is deterministic: among equal merge candidates the pair with
// the lowest cluster indices wins, and the returned groups are ordered by
// their lowest member index. Each group lists member indices in ascending
// order.
func cluster(embeddings [][]float32, maxDistance float64) ([][]int, error) {
	n := len(embeddings)
	if n == 0 {
		return nil, nil
	}

	dim := len(embeddings[0])
	vecs := make([][]float64, n)
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("%w: embedding %d has dim %d, want %d",
				stage.ErrClusteringInvariant, i, len(e), dim)
		}
		v := make([]float64, dim)
		for j, x := range e {
			v[j] = float64(x)
		}
		vecs[i] = v
	}

	// Pairwise cosine distances.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := cosineDistance(vecs[i], vecs[j])
			if err != nil {
				return nil, fmt.Errorf("%w: embeddings %d/%d: %v", stage.ErrClusteringInvariant, i, j, err)
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	// Active clusters, each a sorted slice of member indices.
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	// avg is the mean pairwise distance between two clusters.
	avg := func(a, b []int) float64 {
		var sum float64
		for _, i := range a {
			for _, j := range b {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a)*len(b))
	}

	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		bestD := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if d := avg(clusters[i], clusters[j]); d < bestD {
					bestD = d
					bestI, bestJ = i, j
				}
			}
		}
		if bestD >= maxDistance {
			break
		}
		merged := append(append([]int{}, clusters[bestI]...), clusters[bestJ]...)
		slices.Sort(merged)
		clusters[bestI] = merged
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	// Order groups by lowest member index so labels are stable.
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters, nil
}

// cosineDistance returns 1 − cosine similarity.
func cosineDistance(a, b []float64) (float64, error) {
	na := math.Sqrt(floats.Dot(a, a))
	nb := math.Sqrt(floats.Dot(b, b))
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("zero-norm embedding")
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	if math.IsNaN(d) {
		return 0, fmt.Errorf("distance is NaN")
	}
	return d, nil
}

// speakerLabel formats global speaker i as SPEAKER_A..SPEAKER_Z, then
// SPEAKER_AA, SPEAKER_AB and so on.
func speakerLabel(i int) string {
	var suffix []byte
	for i >= 0 {
		suffix = append([]byte{byte('A' + i%26)}, suffix...)
		i = i/26 - 1
	}
	return "SPEAKER_" + string(suffix)
}
