// Package dataset generates the synthetic data the learning engines train on.
// It is a pure source: every function takes its random generator explicitly
// and returns fresh slices.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

var (
	ErrUnknownScenario = errors.New("dataset: unknown scenario")
	ErrUnknownKind     = errors.New("dataset: unknown cluster dataset kind")
)

// Scenario is a named linear data-generating profile.
type Scenario struct {
	Name      string  `json:"name" yaml:"name"`
	Slope     float64 `json:"slope" yaml:"slope"`
	Intercept float64 `json:"intercept" yaml:"intercept"`
	Noise     float64 `json:"noise" yaml:"noise"`
}

var scenarios = map[string]Scenario{
	"weather": {Name: "weather", Slope: 2.2, Intercept: 0.6, Noise: 0.16},
	"housing": {Name: "housing", Slope: 2.8, Intercept: 0.3, Noise: 0.22},
	"sales":   {Name: "sales", Slope: 1.5, Intercept: 1.0, Noise: 0.12},
}

// DefaultScenario is the scenario used when none is configured.
const DefaultScenario = "weather"

// LookupScenario returns the named scenario.
func LookupScenario(name string) (Scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return s, nil
}

// ScenarioNames lists the built-in scenarios in name order.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Point is a 2-D sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Linear returns n points with x evenly spaced over [0,1] and
// y = slope*x + intercept + u, u uniform in [-noise, noise].
func Linear(rng *rand.Rand, s Scenario, n int) []Point {
	if n <= 0 {
		return nil
	}
	points := make([]Point, n)
	for i := range points {
		x := 0.0
		if n > 1 {
			x = float64(i) / float64(n-1)
		}
		y := s.Slope*x + s.Intercept
		if s.Noise > 0 {
			y += (rng.Float64()*2 - 1) * s.Noise
		}
		points[i] = Point{X: x, Y: y}
	}
	return points
}

// Kind names a clustering dataset profile.
type Kind string

const (
	KindBlobs  Kind = "blobs"
	KindRandom Kind = "random"
)

// DefaultCenters are the generating centers of the three-blob dataset.
var DefaultCenters = []Point{{X: 0.3, Y: 0.3}, {X: 0.7, Y: 0.7}, {X: 0.3, Y: 0.7}}

const (
	// DefaultSpread is the half-width of the square each blob is drawn from.
	DefaultSpread = 0.1
	// DefaultClusterPoints is the size of the clustering datasets.
	DefaultClusterPoints = 100
)

// Clusters builds the dataset of the given kind with n points. For blobs the
// returned labels give the generating center of every point; for random data
// labels is nil.
func Clusters(rng *rand.Rand, kind Kind, n int) (points []Point, labels []int, err error) {
	switch kind {
	case KindBlobs, "":
		points, labels = Blobs(rng, n, DefaultCenters, DefaultSpread)
		return points, labels, nil
	case KindRandom:
		return Uniform(rng, n, 0.1, 0.9), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Blobs draws n points split as evenly as possible over centers, each point
// uniform in the square of half-width spread around its center. The first
// n%len(centers) blobs receive one extra point.
func Blobs(rng *rand.Rand, n int, centers []Point, spread float64) ([]Point, []int) {
	if n <= 0 || len(centers) == 0 {
		return nil, nil
	}
	points := make([]Point, 0, n)
	labels := make([]int, 0, n)
	per := n / len(centers)
	extra := n % len(centers)
	for c, center := range centers {
		count := per
		if c < extra {
			count++
		}
		for i := 0; i < count; i++ {
			points = append(points, Point{
				X: center.X + (rng.Float64()*2-1)*spread,
				Y: center.Y + (rng.Float64()*2-1)*spread,
			})
			labels = append(labels, c)
		}
	}
	return points, labels
}

// Uniform draws n points uniformly from the square [lo,hi]x[lo,hi].
func Uniform(rng *rand.Rand, n int, lo, hi float64) []Point {
	if n <= 0 {
		return nil
	}
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			X: lo + rng.Float64()*(hi-lo),
			Y: lo + rng.Float64()*(hi-lo),
		}
	}
	return points
}
