// Package regression fits a line y = slope*x + intercept to a fixed sample
// set by batch gradient descent on the mean squared error.
//
// Training runs either continuously, one epoch per tick, or in step mode where
// each epoch is split into a prediction, an error and a learning phase so the
// intermediate vectors can be inspected.
package regression

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
	ErrEmptyDataset        = errors.New("regression: dataset must contain at least one sample")
	ErrInvalidLearningRate = errors.New("regression: learning rate must be positive")
	ErrInvalidEpochs       = errors.New("regression: epoch limit must be positive")
)

type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseTraining          Phase = "training"
	PhaseMakingPrediction  Phase = "makingPrediction"
	PhaseCalculatingError  Phase = "calculatingError"
	PhaseLearningFromError Phase = "learningFromError"
)

// Quality grades the current mean squared error.
type Quality string

const (
	QualityExcellent        Quality = "excellent"
	QualityGood             Quality = "good"
	QualityAcceptable       Quality = "acceptable"
	QualityNeedsImprovement Quality = "needsImprovement"
)

func gradeLoss(mse float64) Quality {
	switch {
	case mse < 0.01:
		return QualityExcellent
	case mse < 0.05:
		return QualityGood
	case mse < 0.1:
		return QualityAcceptable
	default:
		return QualityNeedsImprovement
	}
}

const lossHistoryLength = 600

type Sample struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Config struct {
	Scenario         string        `json:"scenario" yaml:"scenario"`
	Samples          int           `json:"samples" yaml:"samples"`
	LearningRate     float64       `json:"learningRate" yaml:"learning_rate"`
	Epochs           int           `json:"epochs" yaml:"epochs"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	InitialSlope     float64       `json:"initialSlope" yaml:"initial_slope"`
	InitialIntercept float64       `json:"initialIntercept" yaml:"initial_intercept"`
	Seed             int64         `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Scenario:         dataset.DefaultScenario,
		Samples:          56,
		LearningRate:     0.05,
		Epochs:           600,
		Interval:         100 * time.Millisecond,
		InitialSlope:     0,
		InitialIntercept: 0.5,
		Seed:             1,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Scenario == "" {
		cfg.Scenario = def.Scenario
	}
	if cfg.Samples <= 0 {
		cfg.Samples = def.Samples
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
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
	Status            stepper.Status   `json:"status"`
	Phase             Phase            `json:"phase"`
	Scenario          dataset.Scenario `json:"scenario"`
	Epoch             int              `json:"epoch"`
	Epochs            int              `json:"epochs"`
	LearningRate      float64          `json:"learningRate"`
	Slope             float64          `json:"slope"`
	Intercept         float64          `json:"intercept"`
	Loss              float64          `json:"loss"`
	Quality           Quality          `json:"quality"`
	LossHistory       []float64        `json:"lossHistory"`
	GradientSlope     float64          `json:"gradientSlope"`
	GradientIntercept float64          `json:"gradientIntercept"`
	GradientMagnitude float64          `json:"gradientMagnitude"`
	Samples           []Sample         `json:"samples"`
	Predictions       []float64        `json:"predictions,omitempty"`
	Residuals         []float64        `json:"residuals,omitempty"`
	Interval          time.Duration    `json:"interval"`
}

// Trainer is safe for concurrent use.
type Trainer struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	machine  *stepper.Machine
	logger   *slog.Logger
	scenario dataset.Scenario

	xs, ys []float64

	slope, intercept float64
	epoch            int
	phase            Phase
	loss             float64
	lossHistory      []float64

	predictions []float64
	residuals   []float64
	gradSlope   float64
	gradInter   float64
}

// NewTrainer creates a trainer holding a freshly generated sample set for
// cfg.Scenario.
func NewTrainer(cfg Config, logger *slog.Logger) (*Trainer, error) {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	t := &Trainer{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With(slog.String("component", "regression")),
		phase:  PhaseIdle,
	}
	t.machine = stepper.NewMachine("regression", &t.mu, stepper.NewPacer(cfg.Interval), logger)
	t.machine.OnEnd(t.onRunEnd)
	if err := t.generate(cfg.Scenario, cfg.Samples); err != nil {
		return nil, err
	}
	return t, nil
}

// Generate replaces the sample set with n points of the named scenario and
// resets the model.
func (t *Trainer) Generate(scenario string, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return stepper.ErrBusy
	}
	return t.generate(scenario, n)
}

func (t *Trainer) generate(name string, n int) error {
	if n <= 0 {
		return ErrEmptyDataset
	}
	scenario, err := dataset.LookupScenario(name)
	if err != nil {
		return fmt.Errorf("generate samples: %w", err)
	}
	points := dataset.Linear(t.rng, scenario, n)
	samples := make([]Sample, len(points))
	for i, p := range points {
		samples[i] = Sample{X: p.X, Y: p.Y}
	}
	t.scenario = scenario
	t.cfg.Scenario = name
	t.cfg.Samples = n
	t.setSamples(samples)
	t.logger.Debug("samples generated", slog.String("scenario", name), slog.Int("n", n))
	return nil
}

// Load replaces the sample set with caller-provided samples and resets the
// model. An empty set is accepted; its loss and gradient are zero.
func (t *Trainer) Load(samples []Sample) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return stepper.ErrBusy
	}
	t.scenario = dataset.Scenario{Name: "custom"}
	t.setSamples(samples)
	return nil
}

func (t *Trainer) setSamples(samples []Sample) {
	t.xs = make([]float64, len(samples))
	t.ys = make([]float64, len(samples))
	for i, s := range samples {
		t.xs[i] = s.X
		t.ys[i] = s.Y
	}
	t.resetModel()
}

// Loss is the mean squared error of the line a*x+b over the sample set.
func (t *Trainer) Loss(a, b float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lossAt(a, b)
}

// Gradient returns the partial derivatives of the loss at (a, b).
func (t *Trainer) Gradient(a, b float64) (da, db float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gradient(t.residualsAt(a, b))
}

// Predict evaluates the current model at x.
func (t *Trainer) Predict(x float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slope*x + t.intercept
}

func (t *Trainer) Quality() Quality {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gradeLoss(t.loss)
}

// StartContinuous trains one epoch per tick from the current parameters until
// the epoch limit, Stop, Reset or ctx cancellation.
func (t *Trainer) StartContinuous(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return false
	}
	t.resetSession()
	if !t.machine.StartContinuous(ctx, t.tick) {
		return false
	}
	t.phase = PhaseTraining
	return true
}

// Stop ends continuous mode. It is a no-op in any other mode.
func (t *Trainer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Stop(stepper.ModeContinuous)
}

func (t *Trainer) StartStepMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return false
	}
	t.resetSession()
	return t.machine.StartStep()
}

func (t *Trainer) StopStepMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Stop(stepper.ModeStep)
}

// AdvanceStep performs one phase transition of the current epoch. Outside
// step mode it changes nothing and reports false.
func (t *Trainer) AdvanceStep() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Mode() != stepper.ModeStep {
		return t.snapshot(), false
	}
	switch t.phase {
	case PhaseIdle, PhaseLearningFromError:
		t.predict()
	case PhaseMakingPrediction:
		t.measureError()
	case PhaseCalculatingError:
		if t.learn() {
			t.machine.Finish()
		}
	}
	return t.snapshot(), true
}

// Reset cancels any active mode and restores the initial parameters. The
// sample set is kept.
func (t *Trainer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.machine.StopAny()
	t.resetModel()
	t.logger.Info("trainer reset")
}

// Done is closed when the latest continuous run has exited.
func (t *Trainer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Done()
}

func (t *Trainer) SetInterval(d time.Duration) {
	t.machine.Pacer().SetInterval(d)
}

func (t *Trainer) SetLearningRate(lr float64) error {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return ErrInvalidLearningRate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return stepper.ErrBusy
	}
	t.cfg.LearningRate = lr
	return nil
}

func (t *Trainer) SetEpochs(n int) error {
	if n <= 0 {
		return ErrInvalidEpochs
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return stepper.ErrBusy
	}
	t.cfg.Epochs = n
	return nil
}

func (t *Trainer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Trainer) tick() bool {
	t.gradSlope, t.gradInter = t.gradient(t.residualsAt(t.slope, t.intercept))
	return t.applyGradient()
}

func (t *Trainer) predict() {
	t.predictions = t.predictionsAt(t.slope, t.intercept)
	t.residuals = nil
	t.phase = PhaseMakingPrediction
}

// measureError derives the residuals from the predictions of the previous
// phase, not from the current parameters.
func (t *Trainer) measureError() {
	t.residuals = floats.SubTo(make([]float64, len(t.ys)), t.predictions, t.ys)
	t.phase = PhaseCalculatingError
}

func (t *Trainer) learn() bool {
	t.gradSlope, t.gradInter = t.gradient(t.residuals)
	t.phase = PhaseLearningFromError
	return t.applyGradient()
}

// applyGradient takes one descent step along the stored gradient, records the
// new loss and reports whether the epoch limit has been reached.
func (t *Trainer) applyGradient() bool {
	t.slope -= t.cfg.LearningRate * t.gradSlope
	t.intercept -= t.cfg.LearningRate * t.gradInter
	t.loss = t.lossAt(t.slope, t.intercept)
	t.lossHistory = append(t.lossHistory, t.loss)
	if len(t.lossHistory) > lossHistoryLength {
		t.lossHistory = t.lossHistory[len(t.lossHistory)-lossHistoryLength:]
	}
	t.epoch++
	epochsTotal.Inc()
	lossGauge.Set(t.loss)
	if t.epoch < t.cfg.Epochs {
		return false
	}
	t.logger.Info("training complete",
		slog.Int("epochs", t.epoch),
		slog.Float64("slope", t.slope),
		slog.Float64("intercept", t.intercept),
		slog.Float64("loss", t.loss),
		slog.String("quality", string(gradeLoss(t.loss))),
	)
	return true
}

func (t *Trainer) predictionsAt(a, b float64) []float64 {
	out := floats.ScaleTo(make([]float64, len(t.xs)), a, t.xs)
	floats.AddConst(b, out)
	return out
}

func (t *Trainer) residualsAt(a, b float64) []float64 {
	out := t.predictionsAt(a, b)
	floats.Sub(out, t.ys)
	return out
}

func (t *Trainer) lossAt(a, b float64) float64 {
	if len(t.xs) == 0 {
		return 0
	}
	r := t.residualsAt(a, b)
	return floats.Dot(r, r) / float64(len(r))
}

func (t *Trainer) gradient(residuals []float64) (da, db float64) {
	if len(residuals) == 0 {
		return 0, 0
	}
	n := float64(len(residuals))
	return 2 / n * floats.Dot(residuals, t.xs), 2 / n * floats.Sum(residuals)
}

func (t *Trainer) resetModel() {
	t.slope = t.cfg.InitialSlope
	t.intercept = t.cfg.InitialIntercept
	t.resetSession()
	t.loss = t.lossAt(t.slope, t.intercept)
	lossGauge.Set(t.loss)
}

func (t *Trainer) resetSession() {
	t.epoch = 0
	t.phase = PhaseIdle
	t.lossHistory = nil
	t.clearStepState()
}

func (t *Trainer) clearStepState() {
	t.predictions = nil
	t.residuals = nil
	t.gradSlope = 0
	t.gradInter = 0
}

func (t *Trainer) onRunEnd(stepper.Mode) {
	t.phase = PhaseIdle
	t.clearStepState()
}

func (t *Trainer) snapshot() Snapshot {
	samples := make([]Sample, len(t.xs))
	for i := range t.xs {
		samples[i] = Sample{X: t.xs[i], Y: t.ys[i]}
	}
	return Snapshot{
		Status:            t.machine.Status(),
		Phase:             t.phase,
		Scenario:          t.scenario,
		Epoch:             t.epoch,
		Epochs:            t.cfg.Epochs,
		LearningRate:      t.cfg.LearningRate,
		Slope:             t.slope,
		Intercept:         t.intercept,
		Loss:              t.loss,
		Quality:           gradeLoss(t.loss),
		LossHistory:       append([]float64(nil), t.lossHistory...),
		GradientSlope:     t.gradSlope,
		GradientIntercept: t.gradInter,
		GradientMagnitude: math.Hypot(t.gradSlope, t.gradInter),
		Samples:           samples,
		Predictions:       append([]float64(nil), t.predictions...),
		Residuals:         append([]float64(nil), t.residuals...),
		Interval:          t.machine.Pacer().Interval(),
	}
}
