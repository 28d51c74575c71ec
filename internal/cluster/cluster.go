// Package cluster groups message embeddings with HDBSCAN, computes centroids,
// extracts lexical keywords and projects clustered points to two dimensions.
package cluster

import (
	"errors"
	"fmt"
	"time"
)

// NoiseLabel is assigned to items that belong to no dense region.
const NoiseLabel = -1

// ErrInvalidInput is returned when item vectors are empty or of mixed length.
var ErrInvalidInput = errors.New("invalid clustering input")

// Item is an embedded message.
type Item struct {
	ID        string
	Text      string
	Vector    []float32
	CreatedAt *time.Time
}

// Cluster is one non-noise group. Members keep arrival order.
type Cluster struct {
	Label    int
	Members  []Item
	Centroid []float32
}

// Result is the outcome of one clustering pass.
type Result struct {
	// Clusters ordered by label.
	Clusters []Cluster
	// Labels is index-aligned with the input; noise is NoiseLabel.
	Labels []int
	Noise  int
}

// Config holds HDBSCAN parameters.
type Config struct {
	// MinClusterSize is the smallest group reported as a cluster. Must be >= 2.
	MinClusterSize int
	// MinSamples sets the core-distance neighbourhood. Defaults to MinClusterSize.
	MinSamples int
}

// DefaultMinClusterSize is used when Config.MinClusterSize is zero.
const DefaultMinClusterSize = 5

// Clusterer runs density clustering with a fixed configuration.
type Clusterer struct {
	minClusterSize int
	minSamples     int
}

// New validates cfg and returns a Clusterer.
func New(cfg Config) (*Clusterer, error) {
	if cfg.MinClusterSize == 0 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}
	if cfg.MinClusterSize < 2 {
		return nil, fmt.Errorf("min cluster size must be >= 2, got %d", cfg.MinClusterSize)
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = cfg.MinClusterSize
	}
	if cfg.MinSamples < 1 {
		return nil, fmt.Errorf("min samples must be >= 1, got %d", cfg.MinSamples)
	}
	return &Clusterer{minClusterSize: cfg.MinClusterSize, minSamples: cfg.MinSamples}, nil
}

// Validate checks that every item carries a non-empty vector of one shared
// length and returns that length. Empty input yields 0 and no error.
func Validate(items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	dim := len(items[0].Vector)
	if dim == 0 {
		return 0, fmt.Errorf("%w: item %s has an empty vector", ErrInvalidInput, items[0].ID)
	}
	for _, it := range items[1:] {
		if len(it.Vector) != dim {
			return 0, fmt.Errorf("%w: item %s has dimension %d, expected %d", ErrInvalidInput, it.ID, len(it.Vector), dim)
		}
	}
	return dim, nil
}

// Cluster groups items. Noise items are reported in Labels and excluded from
// Clusters. Identical input always yields identical labels.
func (c *Clusterer) Cluster(items []Item) (*Result, error) {
	if len(items) == 0 {
		return &Result{}, nil
	}
	if _, err := Validate(items); err != nil {
		return nil, err
	}

	vecs := make([][]float64, len(items))
	for i, it := range items {
		v := make([]float64, len(it.Vector))
		for j, x := range it.Vector {
			v[j] = float64(x)
		}
		vecs[i] = v
	}

	labels := hdbscan(vecs, c.minClusterSize, c.minSamples)

	res := &Result{Labels: labels}
	byLabel := make(map[int]int)
	for i, l := range labels {
		if l == NoiseLabel {
			res.Noise++
			continue
		}
		idx, ok := byLabel[l]
		if !ok {
			idx = len(res.Clusters)
			byLabel[l] = idx
			res.Clusters = append(res.Clusters, Cluster{Label: l})
		}
		res.Clusters[idx].Members = append(res.Clusters[idx].Members, items[i])
	}
	for i := range res.Clusters {
		res.Clusters[i].Centroid = Centroid(res.Clusters[i].Members)
	}
	return res, nil
}

// Centroid returns the element-wise mean of the member vectors.
func Centroid(members []Item) []float32 {
	if len(members) == 0 {
		return nil
	}
	sum := make([]float64, len(members[0].Vector))
	for _, m := range members {
		for j, x := range m.Vector {
			sum[j] += float64(x)
		}
	}
	out := make([]float32, len(sum))
	n := float64(len(members))
	for j, s := range sum {
		out[j] = float32(s / n)
	}
	return out
}
