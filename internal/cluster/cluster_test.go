package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
)

// groupedItems returns three tight groups of four items around 10·e0, 10·e1
// and 10·e2, followed by two far outliers at 30·e3 and 30·e4.
func groupedItems() []Item {
	var items []Item
	for g := 0; g < 3; g++ {
		for j := 0; j < 4; j++ {
			v := make([]float32, 5)
			v[g] = 10
			v[(g+1)%3] = 0.1 * float32(j)
			items = append(items, Item{ID: fmt.Sprintf("g%d-%d", g, j), Text: fmt.Sprintf("group %d message %d", g, j), Vector: v})
		}
	}
	items = append(items,
		Item{ID: "out-1", Text: "outlier one", Vector: []float32{0, 0, 0, 30, 0}},
		Item{ID: "out-2", Text: "outlier two", Vector: []float32{0, 0, 0, 0, 30}},
	)
	return items
}

func membershipSets(res *Result) []string {
	var sets []string
	for _, c := range res.Clusters {
		ids := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = m.ID
		}
		sort.Strings(ids)
		sets = append(sets, strings.Join(ids, ","))
	}
	sort.Strings(sets)
	return sets
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.minClusterSize != DefaultMinClusterSize {
		t.Errorf("minClusterSize = %d, want %d", c.minClusterSize, DefaultMinClusterSize)
	}
	if c.minSamples != DefaultMinClusterSize {
		t.Errorf("minSamples = %d, want %d", c.minSamples, DefaultMinClusterSize)
	}
}

func TestNew_RejectsTinyClusters(t *testing.T) {
	if _, err := New(Config{MinClusterSize: 1}); err == nil {
		t.Fatal("expected error for min cluster size 1")
	}
	if _, err := New(Config{MinClusterSize: 3, MinSamples: -1}); err == nil {
		t.Fatal("expected error for negative min samples")
	}
}

func TestCluster_EmptyInput(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 3})
	res, err := c.Cluster(nil)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Clusters) != 0 || res.Noise != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestCluster_MixedDimensions(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 3})
	items := groupedItems()
	items[5].Vector = items[5].Vector[:4]

	res, err := c.Cluster(items)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !strings.Contains(err.Error(), items[5].ID) {
		t.Errorf("error %q does not name item %s", err, items[5].ID)
	}
}

func TestCluster_EmptyVector(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 3})
	_, err := c.Cluster([]Item{{ID: "a"}, {ID: "b"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCluster_GroupsAndOutliers(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 3})
	items := groupedItems()

	res, err := c.Cluster(items)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Clusters) != 3 {
		t.Fatalf("got %d clusters, want 3 (labels %v)", len(res.Clusters), res.Labels)
	}
	if res.Noise != 2 {
		t.Errorf("noise = %d, want 2", res.Noise)
	}
	if res.Labels[12] != NoiseLabel || res.Labels[13] != NoiseLabel {
		t.Errorf("outlier labels = %d, %d, want noise", res.Labels[12], res.Labels[13])
	}

	for i, cl := range res.Clusters {
		if cl.Label != i {
			t.Errorf("cluster %d has label %d", i, cl.Label)
		}
		if len(cl.Members) != 4 {
			t.Errorf("cluster %d has %d members, want 4", i, len(cl.Members))
		}
		prefix := fmt.Sprintf("g%d-", i)
		for j, m := range cl.Members {
			if !strings.HasPrefix(m.ID, prefix) {
				t.Errorf("cluster %d contains %s", i, m.ID)
			}
			if want := fmt.Sprintf("g%d-%d", i, j); m.ID != want {
				t.Errorf("cluster %d member %d = %s, want %s (arrival order)", i, j, m.ID, want)
			}
		}
	}
}

func TestCluster_NoiseExcludedFromCentroids(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 3})
	res, err := c.Cluster(groupedItems())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	for _, cl := range res.Clusters {
		for _, m := range cl.Members {
			if strings.HasPrefix(m.ID, "out-") {
				t.Errorf("noise item %s is a member of cluster %d", m.ID, cl.Label)
			}
		}
		// Outliers live on e3 and e4; any contribution would show there.
		if cl.Centroid[3] != 0 || cl.Centroid[4] != 0 {
			t.Errorf("cluster %d centroid %v has outlier contribution", cl.Label, cl.Centroid)
		}
	}
}

func TestCluster_Idempotent(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 3})
	items := groupedItems()

	first, err := c.Cluster(items)
	if err != nil {
		t.Fatalf("first Cluster: %v", err)
	}
	second, err := c.Cluster(items)
	if err != nil {
		t.Fatalf("second Cluster: %v", err)
	}

	a, b := membershipSets(first), membershipSets(second)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Errorf("memberships differ:\n%v\n%v", a, b)
	}
}

func TestCluster_TooFewItemsIsAllNoise(t *testing.T) {
	c, _ := New(Config{MinClusterSize: 5})
	items := groupedItems()[:4]
	res, err := c.Cluster(items)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(res.Clusters) != 0 {
		t.Errorf("got %d clusters, want 0", len(res.Clusters))
	}
	if res.Noise != 4 {
		t.Errorf("noise = %d, want 4", res.Noise)
	}
}

func TestCentroid(t *testing.T) {
	got := Centroid([]Item{
		{Vector: []float32{1, 2, 3}},
		{Vector: []float32{3, 4, 5}},
	})
	want := []float32{2, 3, 4}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("centroid[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if Centroid(nil) != nil {
		t.Error("Centroid(nil) should be nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		items   []Item
		wantDim int
		wantErr bool
	}{
		{"empty", nil, 0, false},
		{"uniform", []Item{{Vector: []float32{1, 2}}, {Vector: []float32{3, 4}}}, 2, false},
		{"mixed", []Item{{Vector: []float32{1, 2}}, {Vector: []float32{3}}}, 0, true},
		{"zero length", []Item{{Vector: nil}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dim, err := Validate(tt.items)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if dim != tt.wantDim {
				t.Errorf("dim = %d, want %d", dim, tt.wantDim)
			}
		})
	}
}
