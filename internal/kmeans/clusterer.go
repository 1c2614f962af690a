// Package kmeans implements Lloyd's k-means over 2-D points with farthest
// point seeding.
//
// An iteration is an assignment phase followed by an update phase. The
// convergence check runs at the end of the update phase and compares the
// assignment vector that produced the new centroids with the one of the
// previous iteration, so a run stops one iteration after the assignments
// become stable, or at the iteration cap.
package kmeans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"tiny-ml-lab/internal/dataset"
	"tiny-ml-lab/internal/stepper"
)

var (
	ErrInvalidK             = errors.New("kmeans: k must be between 1 and the number of points")
	ErrEmptyDataset         = errors.New("kmeans: dataset has no points")
	ErrInvalidMaxIterations = errors.New("kmeans: iteration cap must be positive")
	ErrNotInitialized       = errors.New("kmeans: centroids have not been initialized")
)

// Unassigned is the cluster id of a point that has not been assigned yet.
const Unassigned = -1

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAssignment Phase = "assignment"
	PhaseUpdate     Phase = "update"
)

// Outcome records how the last run ended.
type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeConverged    Outcome = "converged"
	OutcomeIterationCap Outcome = "iterationCap"
)

type Point struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Cluster int     `json:"cluster"`
}

type Centroid struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Cluster int     `json:"cluster"`
}

type Config struct {
	K             int           `json:"k" yaml:"k"`
	MaxIterations int           `json:"maxIterations" yaml:"max_iterations"`
	Points        int           `json:"points" yaml:"points"`
	Kind          dataset.Kind  `json:"kind" yaml:"kind"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	Seed          int64         `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		K:             3,
		MaxIterations: 10,
		Points:        dataset.DefaultClusterPoints,
		Kind:          dataset.KindBlobs,
		Interval:      1500 * time.Millisecond,
		Seed:          1,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Points <= 0 {
		cfg.Points = def.Points
	}
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return cfg
}

type Snapshot struct {
	Status        stepper.Status `json:"status"`
	Phase         Phase          `json:"phase"`
	Kind          dataset.Kind   `json:"kind"`
	K             int            `json:"k"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"maxIterations"`
	Points        []Point        `json:"points"`
	Labels        []int          `json:"labels,omitempty"`
	Centroids     []Centroid     `json:"centroids"`
	ClusterSizes  []int          `json:"clusterSizes"`
	Inertia       float64        `json:"inertia"`
	Reassigned    int            `json:"reassigned"`
	Converged     bool           `json:"converged"`
	Outcome       Outcome        `json:"outcome,omitempty"`
	Interval      time.Duration  `json:"interval"`
}

// Clusterer is safe for concurrent use.
type Clusterer struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	machine *stepper.Machine
	logger  *slog.Logger

	kind      dataset.Kind
	points    []Point
	labels    []int
	centroids []Centroid
	previous  []int

	phase      Phase
	iteration  int
	inertia    float64
	reassigned int
	converged  bool
	outcome    Outcome
}

// NewClusterer creates a clusterer holding a generated dataset of cfg.Kind.
func NewClusterer(cfg Config, logger *slog.Logger) (*Clusterer, error) {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	c := &Clusterer{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With(slog.String("component", "kmeans")),
		phase:  PhaseIdle,
	}
	c.machine = stepper.NewMachine("kmeans", &c.mu, stepper.NewPacer(cfg.Interval), logger)
	c.machine.OnEnd(c.onRunEnd)
	if err := c.generate(cfg.Kind); err != nil {
		return nil, err
	}
	return c, nil
}

// Generate replaces the points with a fresh dataset of the given kind.
func (c *Clusterer) Generate(kind dataset.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	return c.generate(kind)
}

func (c *Clusterer) generate(kind dataset.Kind) error {
	raw, labels, err := dataset.Clusters(c.rng, kind, c.cfg.Points)
	if err != nil {
		return fmt.Errorf("generate points: %w", err)
	}
	if kind == "" {
		kind = dataset.KindBlobs
	}
	c.kind = kind
	c.cfg.Kind = kind
	c.labels = labels
	c.setPoints(raw)
	c.logger.Debug("points generated", slog.String("kind", string(kind)), slog.Int("n", len(raw)))
	return nil
}

// Load replaces the points with caller-provided coordinates. Any cluster ids
// in points are ignored.
func (c *Clusterer) Load(points []dataset.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	c.kind = "custom"
	c.labels = nil
	c.setPoints(points)
	return nil
}

func (c *Clusterer) setPoints(raw []dataset.Point) {
	c.points = make([]Point, len(raw))
	for i, p := range raw {
		c.points[i] = Point{X: p.X, Y: p.Y, Cluster: Unassigned}
	}
	c.centroids = nil
	c.resetSession()
}

// InitializeCentroids seeds k centroids: a uniformly random point first, then
// repeatedly the point farthest from its nearest chosen centroid.
func (c *Clusterer) InitializeCentroids() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	return c.initializeCentroids()
}

func (c *Clusterer) initializeCentroids() error {
	if len(c.points) == 0 {
		return ErrEmptyDataset
	}
	if c.cfg.K > len(c.points) {
		return fmt.Errorf("%w: k=%d with %d points", ErrInvalidK, c.cfg.K, len(c.points))
	}
	first := c.points[c.rng.Intn(len(c.points))]
	centroids := []Centroid{{X: first.X, Y: first.Y, Cluster: 0}}
	for i := 1; i < c.cfg.K; i++ {
		best := c.points[0]
		bestDist := 0.0
		for _, p := range c.points {
			nearest := math.Inf(1)
			for _, centroid := range centroids {
				nearest = math.Min(nearest, distance(p, centroid))
			}
			if nearest > bestDist {
				bestDist = nearest
				best = p
			}
		}
		centroids = append(centroids, Centroid{X: best.X, Y: best.Y, Cluster: i})
	}
	c.centroids = centroids
	return nil
}

// Assign moves every point to its nearest centroid, ties going to the lower
// centroid index.
func (c *Clusterer) Assign() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	if len(c.centroids) == 0 {
		return ErrNotInitialized
	}
	c.assign()
	return nil
}

// Update moves every centroid to the mean of its points. A centroid without
// points keeps its position.
func (c *Clusterer) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	if len(c.centroids) == 0 {
		return ErrNotInitialized
	}
	c.update()
	c.inertia = c.computeInertia()
	return nil
}

// Inertia is the sum of squared distances from assigned points to their
// centroid, computed from the current state.
func (c *Clusterer) Inertia() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computeInertia()
}

func (c *Clusterer) ClusterSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clusterSizes()
}

// StartContinuous seeds the centroids and runs one phase per tick until the
// assignments converge, the iteration cap is hit, or the run is stopped. It
// reports false if a mode is active or the points cannot be seeded.
func (c *Clusterer) StartContinuous(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() || !c.beginSession() {
		return false
	}
	return c.machine.StartContinuous(ctx, c.advance)
}

// Stop ends continuous mode. It is a no-op in any other mode.
func (c *Clusterer) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Stop(stepper.ModeContinuous)
}

func (c *Clusterer) StartStepMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() || !c.beginSession() {
		return false
	}
	return c.machine.StartStep()
}

func (c *Clusterer) StopStepMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Stop(stepper.ModeStep)
}

// AdvanceStep runs the next phase. Outside step mode it changes nothing and
// reports false.
func (c *Clusterer) AdvanceStep() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Mode() != stepper.ModeStep {
		return c.snapshot(), false
	}
	if c.advance() {
		c.machine.Finish()
	}
	return c.snapshot(), true
}

// Reset cancels any active mode and clears centroids and assignments.
// Generated datasets are drawn again; loaded points are kept.
func (c *Clusterer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.StopAny()
	if c.kind == dataset.KindBlobs || c.kind == dataset.KindRandom {
		if err := c.generate(c.kind); err != nil {
			c.logger.Error("regenerate points", slog.Any("error", err))
		}
	} else {
		raw := make([]dataset.Point, len(c.points))
		for i, p := range c.points {
			raw[i] = dataset.Point{X: p.X, Y: p.Y}
		}
		c.setPoints(raw)
	}
	c.logger.Info("clusterer reset")
}

// Done is closed when the latest continuous run has exited.
func (c *Clusterer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Done()
}

func (c *Clusterer) SetInterval(d time.Duration) {
	c.machine.Pacer().SetInterval(d)
}

// SetK changes the number of clusters and drops the current centroids.
func (c *Clusterer) SetK(k int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	if k < 1 || k > len(c.points) {
		return fmt.Errorf("%w: k=%d with %d points", ErrInvalidK, k, len(c.points))
	}
	c.cfg.K = k
	c.centroids = nil
	c.resetSession()
	return nil
}

func (c *Clusterer) SetMaxIterations(n int) error {
	if n <= 0 {
		return ErrInvalidMaxIterations
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Active() {
		return stepper.ErrBusy
	}
	c.cfg.MaxIterations = n
	return nil
}

func (c *Clusterer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// beginSession clears the previous run and seeds fresh centroids.
func (c *Clusterer) beginSession() bool {
	for i := range c.points {
		c.points[i].Cluster = Unassigned
	}
	c.resetSession()
	if err := c.initializeCentroids(); err != nil {
		c.logger.Warn("cannot start clustering", slog.Any("error", err))
		return false
	}
	return true
}

// advance runs the next phase and reports whether the run is over. It is the
// tick of both modes.
func (c *Clusterer) advance() bool {
	if c.phase != PhaseAssignment {
		c.assign()
		c.phase = PhaseAssignment
		return false
	}
	c.update()
	c.inertia = c.computeInertia()
	c.phase = PhaseUpdate
	c.converged = c.checkConvergence()
	c.iteration++
	iterationsTotal.Inc()
	inertiaGauge.Set(c.inertia)
	switch {
	case c.converged:
		c.outcome = OutcomeConverged
	case c.iteration >= c.cfg.MaxIterations:
		c.outcome = OutcomeIterationCap
	default:
		return false
	}
	runsFinishedTotal.WithLabelValues(string(c.outcome)).Inc()
	c.logger.Info("clustering finished",
		slog.String("outcome", string(c.outcome)),
		slog.Int("iterations", c.iteration),
		slog.Float64("inertia", c.inertia),
	)
	return true
}

func (c *Clusterer) assign() {
	c.reassigned = 0
	for i, p := range c.points {
		nearest := Unassigned
		nearestDist := math.Inf(1)
		for _, centroid := range c.centroids {
			if d := distance(p, centroid); d < nearestDist {
				nearestDist = d
				nearest = centroid.Cluster
			}
		}
		if nearest != p.Cluster {
			c.reassigned++
		}
		c.points[i].Cluster = nearest
	}
}

func (c *Clusterer) update() {
	for i, centroid := range c.centroids {
		var xs, ys []float64
		for _, p := range c.points {
			if p.Cluster == centroid.Cluster {
				xs = append(xs, p.X)
				ys = append(ys, p.Y)
			}
		}
		if len(xs) == 0 {
			continue
		}
		n := float64(len(xs))
		c.centroids[i].X = floats.Sum(xs) / n
		c.centroids[i].Y = floats.Sum(ys) / n
	}
}

func (c *Clusterer) computeInertia() float64 {
	total := 0.0
	for _, p := range c.points {
		if p.Cluster < 0 || p.Cluster >= len(c.centroids) {
			continue
		}
		d := distance(p, c.centroids[p.Cluster])
		total += d * d
	}
	return total
}

// checkConvergence compares the assignments with the previous iteration's and
// then stores them for the next comparison.
func (c *Clusterer) checkConvergence() bool {
	converged := len(c.previous) == len(c.points)
	for i, p := range c.points {
		if converged && c.previous[i] != p.Cluster {
			converged = false
		}
	}
	c.previous = c.assignments()
	return converged
}

func (c *Clusterer) assignments() []int {
	out := make([]int, len(c.points))
	for i, p := range c.points {
		out[i] = p.Cluster
	}
	return out
}

func (c *Clusterer) clusterSizes() []int {
	sizes := make([]int, c.cfg.K)
	for _, p := range c.points {
		if p.Cluster >= 0 && p.Cluster < len(sizes) {
			sizes[p.Cluster]++
		}
	}
	return sizes
}

func (c *Clusterer) resetSession() {
	c.phase = PhaseIdle
	c.iteration = 0
	c.inertia = 0
	c.reassigned = 0
	c.converged = false
	c.outcome = OutcomeNone
	c.previous = c.assignments()
}

func (c *Clusterer) onRunEnd(stepper.Mode) {
	c.phase = PhaseIdle
}

func (c *Clusterer) snapshot() Snapshot {
	return Snapshot{
		Status:        c.machine.Status(),
		Phase:         c.phase,
		Kind:          c.kind,
		K:             c.cfg.K,
		Iteration:     c.iteration,
		MaxIterations: c.cfg.MaxIterations,
		Points:        append([]Point(nil), c.points...),
		Labels:        append([]int(nil), c.labels...),
		Centroids:     append([]Centroid(nil), c.centroids...),
		ClusterSizes:  c.clusterSizes(),
		Inertia:       c.inertia,
		Reassigned:    c.reassigned,
		Converged:     c.converged,
		Outcome:       c.outcome,
		Interval:      c.machine.Pacer().Interval(),
	}
}

func distance(p Point, c Centroid) float64 {
	return floats.Distance([]float64{p.X, p.Y}, []float64{c.X, c.Y}, 2)
}
