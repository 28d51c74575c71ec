package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrTooFewPoints is returned by Project for fewer than three points.
var ErrTooFewPoints = errors.New("projection needs at least 3 points")

// Point2D is the projected position of one item.
type Point2D struct {
	ItemID string
	X, Y   float64
}

// ProjectionOptions tunes the layout. Zero values take defaults.
type ProjectionOptions struct {
	// Neighbors is the kNN size, capped at n-1. Default 15.
	Neighbors int
	// Epochs is the number of optimisation passes. Default 200.
	Epochs int
	// Seed fixes the initial layout and sampling. Default 42.
	Seed int64
}

// Curve parameters for min_dist = 0.1, spread = 1.
const (
	curveA         = 1.577
	curveB         = 0.895
	negativeRate   = 5
	gradClip       = 4.0
	sigmaSearchMax = 64
)

type graphEdge struct {
	i, j int
	w    float64
}

// Project lays items out in two dimensions with a UMAP-style embedding over
// cosine distance. The output is index-aligned with items and deterministic
// for a given seed.
func Project(items []Item, opts ProjectionOptions) ([]Point2D, error) {
	n := len(items)
	if n < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewPoints, n)
	}
	if _, err := Validate(items); err != nil {
		return nil, err
	}
	if opts.Neighbors <= 0 {
		opts.Neighbors = 15
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 200
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	k := opts.Neighbors
	if k > n-1 {
		k = n - 1
	}

	dist := cosineDistances(items)
	edges := fuzzyGraph(dist, k)
	rng := rand.New(rand.NewSource(opts.Seed))
	emb := layout(n, edges, opts.Epochs, rng)

	out := make([]Point2D, n)
	for i, it := range items {
		out[i] = Point2D{ItemID: it.ID, X: emb[i][0], Y: emb[i][1]}
	}
	return out, nil
}

func cosineDistances(items []Item) [][]float64 {
	n := len(items)
	unit := make([][]float64, n)
	for i, it := range items {
		v := make([]float64, len(it.Vector))
		var norm float64
		for j, x := range it.Vector {
			v[j] = float64(x)
			norm += v[j] * v[j]
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for j := range v {
				v[j] /= norm
			}
		}
		unit[i] = v
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var dot float64
			for d := range unit[i] {
				dot += unit[i][d] * unit[j][d]
			}
			dd := math.Max(0, 1-dot)
			dist[i][j], dist[j][i] = dd, dd
		}
	}
	return dist
}

// fuzzyGraph builds the symmetrised fuzzy kNN graph:
// w_ij = exp(-(d_ij - rho_i) / sigma_i), combined as a + b - ab.
func fuzzyGraph(dist [][]float64, k int) []graphEdge {
	n := len(dist)
	target := math.Log2(float64(k))
	directed := make(map[[2]int]float64)

	idx := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		idx = idx[:0]
		for j := 0; j < n; j++ {
			if j != i {
				idx = append(idx, j)
			}
		}
		sort.SliceStable(idx, func(a, b int) bool { return dist[i][idx[a]] < dist[i][idx[b]] })
		nbrs := idx[:k]

		rho := 0.0
		for _, j := range nbrs {
			if dist[i][j] > 0 {
				rho = dist[i][j]
				break
			}
		}
		sigma := smoothSigma(dist[i], nbrs, rho, target)
		for _, j := range nbrs {
			d := dist[i][j] - rho
			w := 1.0
			if d > 0 {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, j}] = w
		}
	}

	var edges []graphEdge
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := directed[[2]int{i, j}], directed[[2]int{j, i}]
			w := a + b - a*b
			if w > 0 {
				edges = append(edges, graphEdge{i: i, j: j, w: w})
			}
		}
	}
	return edges
}

// smoothSigma binary-searches sigma so the neighbour weights sum to target.
func smoothSigma(row []float64, nbrs []int, rho, target float64) float64 {
	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for iter := 0; iter < sigmaSearchMax; iter++ {
		var sum float64
		for _, j := range nbrs {
			d := row[j] - rho
			if d > 0 {
				sum += math.Exp(-d / mid)
			} else {
				sum++
			}
		}
		if math.Abs(sum-target) < 1e-5 {
			break
		}
		if sum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}
	if mid < 1e-3 {
		mid = 1e-3
	}
	return mid
}

// layout runs SGD with attraction along graph edges and negative sampling.
func layout(n int, edges []graphEdge, epochs int, rng *rand.Rand) [][2]float64 {
	emb := make([][2]float64, n)
	for i := range emb {
		emb[i] = [2]float64{rng.Float64()*20 - 10, rng.Float64()*20 - 10}
	}

	maxW := 0.0
	for _, e := range edges {
		maxW = math.Max(maxW, e.w)
	}
	if maxW == 0 {
		return emb
	}

	for epoch := 0; epoch < epochs; epoch++ {
		alpha := 1 - float64(epoch)/float64(epochs)
		for _, e := range edges {
			if rng.Float64() > e.w/maxW {
				continue
			}
			attract(emb, e.i, e.j, alpha)
			for s := 0; s < negativeRate; s++ {
				k := rng.Intn(n)
				if k == e.i {
					continue
				}
				repel(emb, e.i, k, alpha)
			}
		}
	}
	return emb
}

func attract(emb [][2]float64, i, j int, alpha float64) {
	dx, dy := emb[i][0]-emb[j][0], emb[i][1]-emb[j][1]
	d2 := dx*dx + dy*dy
	if d2 <= 0 {
		return
	}
	coef := -2 * curveA * curveB * math.Pow(d2, curveB-1) / (1 + curveA*math.Pow(d2, curveB))
	gx, gy := clip(coef*dx), clip(coef*dy)
	emb[i][0] += gx * alpha
	emb[i][1] += gy * alpha
	emb[j][0] -= gx * alpha
	emb[j][1] -= gy * alpha
}

func repel(emb [][2]float64, i, k int, alpha float64) {
	dx, dy := emb[i][0]-emb[k][0], emb[i][1]-emb[k][1]
	d2 := dx*dx + dy*dy
	var gx, gy float64
	if d2 > 0 {
		coef := 2 * curveB / ((0.001 + d2) * (1 + curveA*math.Pow(d2, curveB)))
		gx, gy = clip(coef*dx), clip(coef*dy)
	} else {
		gx, gy = gradClip, gradClip
	}
	emb[i][0] += gx * alpha
	emb[i][1] += gy * alpha
}

func clip(v float64) float64 {
	return math.Max(-gradClip, math.Min(gradClip, v))
}
