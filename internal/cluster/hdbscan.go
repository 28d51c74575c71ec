package cluster

import (
	"math"
	"sort"
)

// minDistance keeps lambda = 1/distance finite for duplicate points.
const minDistance = 1e-10

type mstEdge struct {
	a, b int
	w    float64
}

// condensedRow is one edge of the condensed cluster tree. Child ids below n
// are points; ids at or above n are clusters.
type condensedRow struct {
	parent, child int
	lambda        float64
	size          int
}

// hdbscan returns a label per point, NoiseLabel for noise, with clusters
// numbered by the index of their first member.
func hdbscan(vecs [][]float64, minClusterSize, minSamples int) []int {
	n := len(vecs)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}
	if n < minClusterSize || n < 2 {
		return labels
	}

	core := coreDistances(vecs, minSamples)
	edges := primMST(vecs, core)
	left, right, dist, size := singleLinkage(n, edges)
	tree := condense(n, left, right, dist, size, minClusterSize)
	selected := selectClusters(n, tree)
	raw := assignLabels(n, tree, selected)

	next := 0
	renumber := make(map[int]int)
	for i, l := range raw {
		if l < 0 {
			continue
		}
		id, ok := renumber[l]
		if !ok {
			id = next
			renumber[l] = id
			next++
		}
		labels[i] = id
	}
	return labels
}

func euclidean(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// coreDistances returns, per point, the distance to its k-th nearest
// neighbour counting the point itself.
func coreDistances(vecs [][]float64, k int) []float64 {
	n := len(vecs)
	if k > n {
		k = n
	}
	core := make([]float64, n)
	row := make([]float64, n)
	for i := range vecs {
		for j := range vecs {
			row[j] = euclidean(vecs[i], vecs[j])
		}
		sorted := append([]float64(nil), row...)
		sort.Float64s(sorted)
		core[i] = sorted[k-1]
	}
	return core
}

// primMST builds the minimum spanning tree of the mutual-reachability graph
// without materialising the full distance matrix.
func primMST(vecs [][]float64, core []float64) []mstEdge {
	n := len(vecs)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			mr := math.Max(euclidean(vecs[cur], vecs[j]), math.Max(core[cur], core[j]))
			if mr < best[j] {
				best[j] = mr
				from[j] = cur
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, w: best[next]})
		cur = next
	}
	return edges
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// singleLinkage turns MST edges into a binary merge hierarchy. Merge i creates
// node n+i with the given children, merge distance and point count.
func singleLinkage(n int, edges []mstEdge) (left, right []int, dist []float64, size []int) {
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	// Union-find roots double as hierarchy node ids: merge i roots both sides at n+i.
	uf := newUnionFind(2*n - 1)
	left = make([]int, n-1)
	right = make([]int, n-1)
	dist = make([]float64, n-1)
	size = make([]int, n-1)

	for i, e := range edges {
		ra, rb := uf.find(e.a), uf.find(e.b)
		left[i], right[i], dist[i] = ra, rb, e.w
		size[i] = nodeSize(n, ra, size) + nodeSize(n, rb, size)

		id := n + i
		uf.parent[ra] = id
		uf.parent[rb] = id
	}
	return left, right, dist, size
}

func nodeSize(n, id int, size []int) int {
	if id < n {
		return 1
	}
	return size[id-n]
}

// condense walks the hierarchy from the root, keeping a split only when both
// sides have at least minClusterSize points. Smaller sides fall out of the
// parent cluster as individual points.
func condense(n int, left, right []int, dist []float64, size []int, minClusterSize int) []condensedRow {
	root := 2*n - 2
	relabel := make([]int, 2*n-1)
	relabel[root] = n
	nextLabel := n + 1
	ignore := make([]bool, 2*n-1)

	var rows []condensedRow
	fallOut := func(parent, sub int, lambda float64) {
		for _, leaf := range descendants(n, sub, left, right) {
			if leaf < n {
				rows = append(rows, condensedRow{parent: parent, child: leaf, lambda: lambda, size: 1})
			}
			ignore[leaf] = true
		}
	}

	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < n || ignore[node] {
			continue
		}
		i := node - n
		l, r := left[i], right[i]
		queue = append(queue, l, r)

		lambda := 1 / math.Max(dist[i], minDistance)
		lc, rc := nodeSize(n, l, size), nodeSize(n, r, size)
		parent := relabel[node]

		switch {
		case lc >= minClusterSize && rc >= minClusterSize:
			relabel[l] = nextLabel
			nextLabel++
			rows = append(rows, condensedRow{parent: parent, child: relabel[l], lambda: lambda, size: lc})
			relabel[r] = nextLabel
			nextLabel++
			rows = append(rows, condensedRow{parent: parent, child: relabel[r], lambda: lambda, size: rc})
		case lc < minClusterSize && rc < minClusterSize:
			fallOut(parent, l, lambda)
			fallOut(parent, r, lambda)
		case lc < minClusterSize:
			relabel[r] = parent
			fallOut(parent, l, lambda)
		default:
			relabel[l] = parent
			fallOut(parent, r, lambda)
		}
	}
	return rows
}

// descendants lists id and every node below it.
func descendants(n, id int, left, right []int) []int {
	out := []int{}
	stack := []int{id}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, x)
		if x >= n {
			stack = append(stack, left[x-n], right[x-n])
		}
	}
	return out
}

// selectClusters applies excess-of-mass selection over the condensed tree.
// The root cluster (id n) is never selected.
func selectClusters(n int, tree []condensedRow) map[int]bool {
	birth := map[int]float64{n: 0}
	children := map[int][]int{}
	maxID := n
	for _, r := range tree {
		if r.child >= n {
			birth[r.child] = r.lambda
			children[r.parent] = append(children[r.parent], r.child)
			if r.child > maxID {
				maxID = r.child
			}
		}
	}

	stability := make(map[int]float64, maxID-n+1)
	for _, r := range tree {
		stability[r.parent] += (r.lambda - birth[r.parent]) * float64(r.size)
	}

	selected := make(map[int]bool)
	// Children always carry larger ids than their parent.
	for c := maxID; c > n; c-- {
		kids := children[c]
		if len(kids) == 0 {
			selected[c] = true
			continue
		}
		var sub float64
		for _, k := range kids {
			sub += stability[k]
		}
		if sub > stability[c] {
			stability[c] = sub
			continue
		}
		selected[c] = true
		var unmark func(int)
		unmark = func(x int) {
			for _, k := range children[x] {
				delete(selected, k)
				unmark(k)
			}
		}
		unmark(c)
	}
	return selected
}

// assignLabels gives each point the selected cluster it descends from, or -1.
func assignLabels(n int, tree []condensedRow, selected map[int]bool) []int {
	clusterParent := map[int]int{}
	pointParent := make([]int, n)
	for i := range pointParent {
		pointParent[i] = -1
	}
	for _, r := range tree {
		if r.child >= n {
			clusterParent[r.child] = r.parent
		} else {
			pointParent[r.child] = r.parent
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
		c := pointParent[i]
		for c > n {
			if selected[c] {
				labels[i] = c
				break
			}
			c = clusterParent[c]
		}
	}
	return labels
}
