// Package config loads the tinyml YAML configuration.
//
// A file only needs the keys it wants to change: Load decodes it over
// Default(), then validates the result. Durations are written as Go
// duration strings ("100ms", "1.5s").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tiny-ml-lab/internal/dataset"
	"tiny-ml-lab/internal/gridworld"
	"tiny-ml-lab/internal/kmeans"
	"tiny-ml-lab/internal/regression"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration that reads and writes as a duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string `yaml:"log_format" validate:"oneof=auto text json"`
	Seed        int64  `yaml:"seed"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Trace       bool   `yaml:"trace"`

	GridWorld  GridWorld  `yaml:"gridworld"`
	Regression Regression `yaml:"regression"`
	KMeans     KMeans     `yaml:"kmeans"`
}

type GridWorld struct {
	Interval     Duration `yaml:"interval" validate:"gte=0"`
	Layout       []string `yaml:"layout,omitempty" validate:"omitempty,min=1,dive,required"`
	Alpha        float64  `yaml:"alpha" validate:"gt=0,lte=1"`
	Gamma        float64  `yaml:"gamma" validate:"gt=0,lte=1"`
	Epsilon      float64  `yaml:"epsilon" validate:"gt=0,lte=1"`
	EpsilonMin   float64  `yaml:"epsilon_min" validate:"gte=0,ltefield=Epsilon"`
	EpsilonDecay float64  `yaml:"epsilon_decay" validate:"gt=0,lte=1"`
	MaxMoves     int      `yaml:"max_moves" validate:"gt=0"`
	DemoMoves    int      `yaml:"demo_moves" validate:"gt=0"`
	MaxEpisodes  int      `yaml:"max_episodes" validate:"gte=0"`
}

type Regression struct {
	Interval     Duration `yaml:"interval" validate:"gte=0"`
	Scenario     string   `yaml:"scenario" validate:"oneof=weather housing sales"`
	Samples      int      `yaml:"samples" validate:"gt=0"`
	LearningRate float64  `yaml:"learning_rate" validate:"gt=0"`
	Epochs       int      `yaml:"epochs" validate:"gt=0"`
}

type KMeans struct {
	Interval      Duration `yaml:"interval" validate:"gte=0"`
	K             int      `yaml:"k" validate:"gte=1,ltefield=Points"`
	MaxIterations int      `yaml:"max_iterations" validate:"gt=0"`
	Points        int      `yaml:"points" validate:"gt=0"`
	Kind          string   `yaml:"kind" validate:"oneof=blobs random"`
}

// Default mirrors the engines' own defaults.
func Default() Config {
	grid := gridworld.DefaultConfig()
	reg := regression.DefaultConfig()
	km := kmeans.DefaultConfig()
	return Config{
		LogLevel:  "info",
		LogFormat: "auto",
		Seed:      1,
		GridWorld: GridWorld{
			Interval:     Duration(grid.Interval),
			Alpha:        grid.Alpha,
			Gamma:        grid.Gamma,
			Epsilon:      grid.Epsilon,
			EpsilonMin:   grid.EpsilonMin,
			EpsilonDecay: grid.EpsilonDecay,
			MaxMoves:     grid.MaxMoves,
			DemoMoves:    grid.DemoMoves,
			MaxEpisodes:  500,
		},
		Regression: Regression{
			Interval:     Duration(reg.Interval),
			Scenario:     reg.Scenario,
			Samples:      reg.Samples,
			LearningRate: reg.LearningRate,
			Epochs:       reg.Epochs,
		},
		KMeans: KMeans{
			Interval:      Duration(km.Interval),
			K:             km.K,
			MaxIterations: km.MaxIterations,
			Points:        km.Points,
			Kind:          string(km.Kind),
		},
	}
}

// Load reads the YAML file at path over Default(). An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default() and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c Config) GridWorldConfig() gridworld.Config {
	cfg := gridworld.DefaultConfig()
	if len(c.GridWorld.Layout) > 0 {
		cfg.Layout = append([]string(nil), c.GridWorld.Layout...)
	}
	cfg.Alpha = c.GridWorld.Alpha
	cfg.Gamma = c.GridWorld.Gamma
	cfg.Epsilon = c.GridWorld.Epsilon
	cfg.EpsilonMin = c.GridWorld.EpsilonMin
	cfg.EpsilonDecay = c.GridWorld.EpsilonDecay
	cfg.MaxMoves = c.GridWorld.MaxMoves
	cfg.DemoMoves = c.GridWorld.DemoMoves
	cfg.MaxEpisodes = c.GridWorld.MaxEpisodes
	cfg.Interval = c.GridWorld.Interval.Std()
	cfg.Seed = c.Seed
	return cfg
}

func (c Config) RegressionConfig() regression.Config {
	cfg := regression.DefaultConfig()
	cfg.Scenario = c.Regression.Scenario
	cfg.Samples = c.Regression.Samples
	cfg.LearningRate = c.Regression.LearningRate
	cfg.Epochs = c.Regression.Epochs
	cfg.Interval = c.Regression.Interval.Std()
	cfg.Seed = c.Seed
	return cfg
}

func (c Config) KMeansConfig() kmeans.Config {
	cfg := kmeans.DefaultConfig()
	cfg.K = c.KMeans.K
	cfg.MaxIterations = c.KMeans.MaxIterations
	cfg.Points = c.KMeans.Points
	cfg.Kind = dataset.Kind(c.KMeans.Kind)
	cfg.Interval = c.KMeans.Interval.Std()
	cfg.Seed = c.Seed
	return cfg
}
