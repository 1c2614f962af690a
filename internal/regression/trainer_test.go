package regression

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-ml-lab/internal/dataset"
	"tiny-ml-lab/internal/stepper"
)

func newTestTrainer(t *testing.T, cfg Config) *Trainer {
	t.Helper()
	trainer, err := NewTrainer(cfg, nil)
	require.NoError(t, err)
	return trainer
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = 0
	return cfg
}

func runToCompletion(t *testing.T, trainer *Trainer) Snapshot {
	t.Helper()
	require.True(t, trainer.StartContinuous(context.Background()))
	select {
	case <-trainer.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("training did not finish")
	}
	return trainer.Snapshot()
}

func twoPoints() []Sample {
	return []Sample{{X: 0, Y: 1}, {X: 1, Y: 3}}
}

func TestLossAndGradient(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())
	require.NoError(t, trainer.Load(twoPoints()))

	assert.Zero(t, trainer.Loss(2, 1))
	assert.InDelta(t, 5.0, trainer.Loss(0, 0), 1e-12)

	da, db := trainer.Gradient(0, 0)
	assert.InDelta(t, -3.0, da, 1e-12)
	assert.InDelta(t, -4.0, db, 1e-12)

	da, db = trainer.Gradient(2, 1)
	assert.Zero(t, da)
	assert.Zero(t, db)
}

func TestEmptySampleSet(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())
	require.NoError(t, trainer.Load(nil))

	assert.Zero(t, trainer.Loss(3, -1))
	da, db := trainer.Gradient(3, -1)
	assert.Zero(t, da)
	assert.Zero(t, db)

	require.True(t, trainer.StartStepMode())
	for i := 0; i < 3; i++ {
		_, ok := trainer.AdvanceStep()
		require.True(t, ok)
	}
	snap := trainer.Snapshot()
	assert.Equal(t, 1, snap.Epoch)
	assert.Equal(t, []float64{0}, snap.LossHistory)
	assert.Equal(t, 0.5, snap.Intercept, "a zero gradient leaves the parameters alone")
}

func TestGenerateValidation(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())

	assert.ErrorIs(t, trainer.Generate("tides", 10), dataset.ErrUnknownScenario)
	assert.ErrorIs(t, trainer.Generate("sales", 0), ErrEmptyDataset)

	require.NoError(t, trainer.Generate("housing", 20))
	snap := trainer.Snapshot()
	assert.Equal(t, "housing", snap.Scenario.Name)
	assert.Len(t, snap.Samples, 20)

	require.True(t, trainer.StartStepMode())
	assert.ErrorIs(t, trainer.Generate("weather", 56), stepper.ErrBusy)
	assert.ErrorIs(t, trainer.Load(twoPoints()), stepper.ErrBusy)
	assert.ErrorIs(t, trainer.SetEpochs(10), stepper.ErrBusy)
	assert.ErrorIs(t, trainer.SetLearningRate(0.1), stepper.ErrBusy)
}

func TestSetterValidation(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())

	assert.ErrorIs(t, trainer.SetEpochs(0), ErrInvalidEpochs)
	assert.ErrorIs(t, trainer.SetLearningRate(-0.1), ErrInvalidLearningRate)
	require.NoError(t, trainer.SetEpochs(42))
	require.NoError(t, trainer.SetLearningRate(0.2))

	snap := trainer.Snapshot()
	assert.Equal(t, 42, snap.Epochs)
	assert.Equal(t, 0.2, snap.LearningRate)
}

func TestStepModePhases(t *testing.T) {
	cfg := fastConfig()
	cfg.Epochs = 2
	trainer := newTestTrainer(t, cfg)
	require.NoError(t, trainer.Load(twoPoints()))
	require.True(t, trainer.StartStepMode())

	snap, ok := trainer.AdvanceStep()
	require.True(t, ok)
	assert.Equal(t, PhaseMakingPrediction, snap.Phase)
	assert.Equal(t, []float64{0.5, 0.5}, snap.Predictions)
	assert.Empty(t, snap.Residuals)
	assert.Equal(t, 0.0, snap.Slope, "predicting must not touch the parameters")

	snap, _ = trainer.AdvanceStep()
	assert.Equal(t, PhaseCalculatingError, snap.Phase)
	assert.Equal(t, []float64{-0.5, -2.5}, snap.Residuals)
	assert.Zero(t, snap.Epoch)

	snap, _ = trainer.AdvanceStep()
	assert.Equal(t, PhaseLearningFromError, snap.Phase)
	assert.InDelta(t, -2.5, snap.GradientSlope, 1e-12)
	assert.InDelta(t, -3.0, snap.GradientIntercept, 1e-12)
	assert.InDelta(t, 0.125, snap.Slope, 1e-12)
	assert.InDelta(t, 0.65, snap.Intercept, 1e-12)
	assert.Equal(t, 1, snap.Epoch)
	require.Len(t, snap.LossHistory, 1)
	assert.InDelta(t, trainer.Loss(0.125, 0.65), snap.LossHistory[0], 1e-12)

	snap, _ = trainer.AdvanceStep()
	assert.Equal(t, PhaseMakingPrediction, snap.Phase)
	assert.InDelta(t, 0.65, snap.Predictions[0], 1e-12)

	trainer.AdvanceStep()
	snap, _ = trainer.AdvanceStep()
	assert.Equal(t, 2, snap.Epoch)
	assert.Equal(t, PhaseIdle, snap.Phase, "reaching the epoch limit ends step mode")
	assert.Equal(t, stepper.ModeIdle, snap.Status.Mode)

	_, ok = trainer.AdvanceStep()
	assert.False(t, ok)
}

func TestLearningUsesResidualsFromErrorPhase(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())
	require.NoError(t, trainer.Load(twoPoints()))
	wantDa, wantDb := trainer.Gradient(0, 0.5)

	require.True(t, trainer.StartStepMode())
	trainer.AdvanceStep()
	trainer.AdvanceStep()

	trainer.mu.Lock()
	trainer.slope, trainer.intercept = 40, -7
	trainer.mu.Unlock()

	snap, _ := trainer.AdvanceStep()
	assert.InDelta(t, wantDa, snap.GradientSlope, 1e-12)
	assert.InDelta(t, wantDb, snap.GradientIntercept, 1e-12)
	assert.InDelta(t, 40-0.05*wantDa, snap.Slope, 1e-12)
}

func TestStepModeMatchesContinuous(t *testing.T) {
	cfg := fastConfig()
	cfg.Epochs = 25

	continuous := newTestTrainer(t, cfg)
	want := runToCompletion(t, continuous)

	stepped := newTestTrainer(t, cfg)
	require.True(t, stepped.StartStepMode())
	for i := 0; i < 3*cfg.Epochs; i++ {
		stepped.AdvanceStep()
	}
	got := stepped.Snapshot()

	assert.Equal(t, want.Epoch, got.Epoch)
	assert.Equal(t, want.Slope, got.Slope)
	assert.Equal(t, want.Intercept, got.Intercept)
	assert.Equal(t, want.LossHistory, got.LossHistory)
}

func TestNoiselessDataConverges(t *testing.T) {
	points := dataset.Linear(nil, dataset.Scenario{Slope: 2.2, Intercept: 0.6}, 56)
	samples := make([]Sample, len(points))
	for i, p := range points {
		samples[i] = Sample{X: p.X, Y: p.Y}
	}
	trainer := newTestTrainer(t, fastConfig())
	require.NoError(t, trainer.Load(samples))

	snap := runToCompletion(t, trainer)

	assert.Less(t, snap.Loss, 1e-3)
	assert.Equal(t, QualityExcellent, snap.Quality)
	for i := 1; i < len(snap.LossHistory); i++ {
		require.LessOrEqual(t, snap.LossHistory[i], snap.LossHistory[i-1], "epoch %d", i)
	}
}

func TestWeatherScenarioEndToEnd(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())

	snap := runToCompletion(t, trainer)

	assert.Equal(t, "weather", snap.Scenario.Name)
	assert.Len(t, snap.Samples, 56)
	assert.Equal(t, 600, snap.Epoch)
	assert.Len(t, snap.LossHistory, 600)
	assert.Less(t, snap.Loss, 0.1)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.InDelta(t, snap.Slope*0.5+snap.Intercept, trainer.Predict(0.5), 1e-12)
}

func TestLossHistoryKeepsMostRecentEpochs(t *testing.T) {
	cfg := fastConfig()
	cfg.Epochs = 650
	trainer := newTestTrainer(t, cfg)

	snap := runToCompletion(t, trainer)

	require.Len(t, snap.LossHistory, lossHistoryLength)
	assert.Equal(t, snap.Loss, snap.LossHistory[len(snap.LossHistory)-1])
}

func TestResetRestoresInitialModel(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())
	before := trainer.Snapshot()
	runToCompletion(t, trainer)

	trainer.Reset()
	snap := trainer.Snapshot()
	assert.Equal(t, 0.0, snap.Slope)
	assert.Equal(t, 0.5, snap.Intercept)
	assert.Zero(t, snap.Epoch)
	assert.Empty(t, snap.LossHistory)
	assert.Equal(t, before.Samples, snap.Samples)
	assert.Equal(t, before.Loss, snap.Loss)
}

func TestResetDuringContinuousDiscardsTraining(t *testing.T) {
	cfg := fastConfig()
	cfg.Interval = time.Millisecond
	trainer := newTestTrainer(t, cfg)

	require.True(t, trainer.StartContinuous(context.Background()))
	require.Eventually(t, func() bool { return trainer.Snapshot().Epoch > 3 }, 5*time.Second, time.Millisecond)
	done := trainer.Done()
	trainer.Reset()
	<-done

	snap := trainer.Snapshot()
	assert.Equal(t, stepper.ModeIdle, snap.Status.Mode)
	assert.Zero(t, snap.Epoch)
	assert.Equal(t, 0.5, snap.Intercept)
}

func TestNoopsOutsideMode(t *testing.T) {
	trainer := newTestTrainer(t, fastConfig())
	before := trainer.Snapshot()

	snap, ok := trainer.AdvanceStep()
	assert.False(t, ok)
	assert.Equal(t, before, snap)
	assert.False(t, trainer.Stop())
	assert.False(t, trainer.StopStepMode())
	assert.Equal(t, before, trainer.Snapshot())
}

func TestGradeLoss(t *testing.T) {
	tests := []struct {
		mse  float64
		want Quality
	}{
		{0, QualityExcellent},
		{0.0099, QualityExcellent},
		{0.01, QualityGood},
		{0.049, QualityGood},
		{0.05, QualityAcceptable},
		{0.099, QualityAcceptable},
		{0.1, QualityNeedsImprovement},
		{3, QualityNeedsImprovement},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gradeLoss(tt.mse), "mse %v", tt.mse)
	}
}
