package kmeans

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-ml-lab/internal/dataset"
	"tiny-ml-lab/internal/stepper"
)

func newTestClusterer(t *testing.T, cfg Config) *Clusterer {
	t.Helper()
	c, err := NewClusterer(cfg, nil)
	require.NoError(t, err)
	return c
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = 0
	return cfg
}

// tightGroups returns three groups of five nearly identical points around
// (0,0), (1,0) and (0,1).
func tightGroups() []dataset.Point {
	offsets := []dataset.Point{{}, {X: 0.01}, {Y: 0.01}, {X: 0.01, Y: 0.01}, {X: 0.005, Y: 0.005}}
	var points []dataset.Point
	for _, center := range []dataset.Point{{}, {X: 1}, {Y: 1}} {
		for _, o := range offsets {
			points = append(points, dataset.Point{X: center.X + o.X, Y: center.Y + o.Y})
		}
	}
	return points
}

func runToCompletion(t *testing.T, c *Clusterer) Snapshot {
	t.Helper()
	require.True(t, c.StartContinuous(context.Background()))
	select {
	case <-c.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("clustering did not finish")
	}
	return c.Snapshot()
}

func TestFarthestPointSeeding(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	require.NoError(t, c.Load(tightGroups()))
	require.NoError(t, c.InitializeCentroids())

	snap := c.Snapshot()
	require.Len(t, snap.Centroids, 3)
	groups := map[int]bool{}
	for i, centroid := range snap.Centroids {
		assert.Equal(t, i, centroid.Cluster)
		groups[int(math.Round(centroid.X))+2*int(math.Round(centroid.Y))] = true
	}
	assert.Len(t, groups, 3, "every group must receive one seed")
}

func TestAssignTieGoesToLowerIndex(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	require.NoError(t, c.Load([]dataset.Point{{X: 1}, {X: 0}, {X: 2}}))
	require.NoError(t, c.SetK(2))
	assert.ErrorIs(t, c.Assign(), ErrNotInitialized)

	c.centroids = []Centroid{{X: 0, Cluster: 0}, {X: 2, Cluster: 1}}
	require.NoError(t, c.Assign())

	snap := c.Snapshot()
	assert.Equal(t, []int{0, 0, 1}, []int{snap.Points[0].Cluster, snap.Points[1].Cluster, snap.Points[2].Cluster})
	assert.Equal(t, []int{2, 1}, c.ClusterSizes())
}

func TestEmptyClusterKeepsCentroid(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	require.NoError(t, c.Load([]dataset.Point{{X: 0}, {X: 0.2}}))
	require.NoError(t, c.SetK(2))
	c.centroids = []Centroid{{X: 0, Cluster: 0}, {X: 5, Y: 5, Cluster: 1}}

	require.NoError(t, c.Assign())
	require.NoError(t, c.Update())

	snap := c.Snapshot()
	assert.InDelta(t, 0.1, snap.Centroids[0].X, 1e-12)
	assert.Equal(t, Centroid{X: 5, Y: 5, Cluster: 1}, snap.Centroids[1])
	assert.Equal(t, []int{2, 0}, snap.ClusterSizes)
	assert.InDelta(t, 0.02, snap.Inertia, 1e-12)
}

func TestConvergesOneIterationAfterStableAssignments(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	require.NoError(t, c.Load(tightGroups()))
	require.True(t, c.StartStepMode())

	snap, ok := c.AdvanceStep()
	require.True(t, ok)
	assert.Equal(t, PhaseAssignment, snap.Phase)
	assert.Equal(t, 15, snap.Reassigned)
	assert.Zero(t, snap.Iteration)

	snap, _ = c.AdvanceStep()
	assert.Equal(t, PhaseUpdate, snap.Phase)
	assert.Equal(t, 1, snap.Iteration)
	assert.False(t, snap.Converged, "the first iteration has nothing to compare with")

	snap, _ = c.AdvanceStep()
	assert.Equal(t, PhaseAssignment, snap.Phase)
	assert.Zero(t, snap.Reassigned)

	snap, _ = c.AdvanceStep()
	assert.Equal(t, 2, snap.Iteration)
	assert.True(t, snap.Converged)
	assert.Equal(t, OutcomeConverged, snap.Outcome)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, stepper.ModeIdle, snap.Status.Mode)
	assert.Equal(t, []int{5, 5, 5}, snap.ClusterSizes)

	_, ok = c.AdvanceStep()
	assert.False(t, ok)
}

func TestIterationCapEndsRun(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	require.NoError(t, c.SetMaxIterations(1))
	require.True(t, c.StartStepMode())

	c.AdvanceStep()
	snap, _ := c.AdvanceStep()

	assert.Equal(t, 1, snap.Iteration)
	assert.False(t, snap.Converged)
	assert.Equal(t, OutcomeIterationCap, snap.Outcome)
	assert.Equal(t, stepper.ModeIdle, snap.Status.Mode)
}

func TestInertiaNeverIncreasesAcrossUpdate(t *testing.T) {
	cfg := fastConfig()
	cfg.Kind = dataset.KindRandom
	cfg.MaxIterations = 20
	c := newTestClusterer(t, cfg)
	require.True(t, c.StartStepMode())

	last := math.Inf(1)
	for c.Snapshot().Status.Mode == stepper.ModeStep {
		snap, _ := c.AdvanceStep()
		require.Equal(t, PhaseAssignment, snap.Phase)
		before := c.Inertia()
		assert.LessOrEqual(t, before, last+1e-12, "assignment step raised inertia")

		snap, _ = c.AdvanceStep()
		assert.LessOrEqual(t, snap.Inertia, before+1e-12, "update step raised inertia at iteration %d", snap.Iteration)
		last = snap.Inertia
	}
}

func TestBlobsEndToEnd(t *testing.T) {
	c := newTestClusterer(t, fastConfig())

	snap := runToCompletion(t, c)

	require.True(t, snap.Converged, "outcome %s after %d iterations", snap.Outcome, snap.Iteration)
	require.Len(t, snap.Points, 100)
	require.Len(t, snap.Labels, 100)

	matched := map[int]bool{}
	for _, centroid := range snap.Centroids {
		best, bestDist := -1, math.Inf(1)
		for i, center := range dataset.DefaultCenters {
			if d := math.Hypot(centroid.X-center.X, centroid.Y-center.Y); d < bestDist {
				best, bestDist = i, d
			}
		}
		assert.Less(t, bestDist, 0.06, "centroid %+v is far from every generating center", centroid)
		matched[best] = true
	}
	assert.Len(t, matched, 3, "each generating center needs its own centroid")

	counts := make([]map[int]int, snap.K)
	for i := range counts {
		counts[i] = map[int]int{}
	}
	for i, p := range snap.Points {
		counts[p.Cluster][snap.Labels[i]]++
	}
	agree := 0
	for _, byLabel := range counts {
		majority := 0
		for _, n := range byLabel {
			majority = max(majority, n)
		}
		agree += majority
	}
	assert.GreaterOrEqual(t, float64(agree)/float64(len(snap.Points)), 0.9)
}

func TestStepModeMatchesContinuous(t *testing.T) {
	cfg := fastConfig()
	cfg.Kind = dataset.KindRandom

	want := runToCompletion(t, newTestClusterer(t, cfg))

	stepped := newTestClusterer(t, cfg)
	require.True(t, stepped.StartStepMode())
	var got Snapshot
	for i := 0; i < 2*cfg.MaxIterations; i++ {
		got, _ = stepped.AdvanceStep()
	}

	assert.Equal(t, want.Iteration, got.Iteration)
	assert.Equal(t, want.Outcome, got.Outcome)
	assert.Equal(t, want.Centroids, got.Centroids)
	assert.Equal(t, want.Points, got.Points)
}

func TestSetters(t *testing.T) {
	c := newTestClusterer(t, fastConfig())

	assert.ErrorIs(t, c.SetK(0), ErrInvalidK)
	assert.ErrorIs(t, c.SetK(101), ErrInvalidK)
	assert.ErrorIs(t, c.SetMaxIterations(0), ErrInvalidMaxIterations)
	require.NoError(t, c.SetK(4))
	assert.Equal(t, 4, c.Snapshot().K)

	require.True(t, c.StartStepMode())
	assert.ErrorIs(t, c.SetK(2), stepper.ErrBusy)
	assert.ErrorIs(t, c.SetMaxIterations(5), stepper.ErrBusy)
	assert.ErrorIs(t, c.Generate(dataset.KindRandom), stepper.ErrBusy)
	assert.ErrorIs(t, c.Load(tightGroups()), stepper.ErrBusy)
	assert.ErrorIs(t, c.Assign(), stepper.ErrBusy)
}

func TestGenerateKinds(t *testing.T) {
	c := newTestClusterer(t, fastConfig())

	require.NoError(t, c.Generate(dataset.KindRandom))
	snap := c.Snapshot()
	assert.Equal(t, dataset.KindRandom, snap.Kind)
	assert.Len(t, snap.Points, 100)
	assert.Nil(t, snap.Labels)
	for _, p := range snap.Points {
		assert.Equal(t, Unassigned, p.Cluster)
	}

	assert.ErrorIs(t, c.Generate("spiral"), dataset.ErrUnknownKind)
}

func TestEmptyDatasetCannotStart(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	require.NoError(t, c.Load(nil))

	assert.ErrorIs(t, c.InitializeCentroids(), ErrEmptyDataset)
	assert.False(t, c.StartStepMode())
	assert.False(t, c.StartContinuous(context.Background()))
	assert.Zero(t, c.Inertia())
	assert.Equal(t, []int{0, 0, 0}, c.ClusterSizes())
}

func TestResetDuringContinuous(t *testing.T) {
	cfg := fastConfig()
	cfg.Interval = 20 * time.Millisecond
	c := newTestClusterer(t, cfg)

	require.True(t, c.StartContinuous(context.Background()))
	done := c.Done()
	c.Reset()
	<-done

	snap := c.Snapshot()
	assert.Equal(t, stepper.ModeIdle, snap.Status.Mode)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Zero(t, snap.Iteration)
	assert.Empty(t, snap.Centroids)
	assert.Len(t, snap.Points, 100)
	for _, p := range snap.Points {
		require.Equal(t, Unassigned, p.Cluster)
	}
}

func TestNoopsOutsideMode(t *testing.T) {
	c := newTestClusterer(t, fastConfig())
	before := c.Snapshot()

	snap, ok := c.AdvanceStep()
	assert.False(t, ok)
	assert.Equal(t, before, snap)
	assert.False(t, c.Stop())
	assert.False(t, c.StopStepMode())
	assert.Equal(t, before, c.Snapshot())
}
