package gridworld

import (
	"context"
	"testing"
)

func benchmarkEpisodes(b *testing.B, cfg Config) {
	for i := 0; i < b.N; i++ {
		trainer, err := NewTrainer(cfg, nil)
		if err != nil {
			b.Fatalf("NewTrainer: %v", err)
		}
		trainer.StartContinuous(context.Background())
		<-trainer.Done()
	}
}

func BenchmarkEpisodeReferenceMaze(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Seed = 99
	cfg.Interval = 0
	cfg.MaxEpisodes = 1
	benchmarkEpisodes(b, cfg)
}

func BenchmarkEpisodeOpenField(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Seed = 99
	cfg.Interval = 0
	cfg.MaxEpisodes = 1
	cfg.Epsilon = 0.2
	cfg.Layout = []string{
		"S.....",
		"......",
		"......",
		"......",
		"......",
		".....G",
	}
	benchmarkEpisodes(b, cfg)
}

func BenchmarkStepModeMove(b *testing.B) {
	cfg := DefaultConfig()
	cfg.Interval = 0
	trainer, err := NewTrainer(cfg, nil)
	if err != nil {
		b.Fatalf("NewTrainer: %v", err)
	}
	trainer.StartStepMode()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for p := 0; p < 4; p++ {
			trainer.AdvanceStep()
		}
	}
}
