package gridworld

import (
	"math"
	"math/rand"
)

type epsilonGreedyAgent struct {
	rng          *rand.Rand
	qvalues      *qTable
	alpha        float64
	gamma        float64
	epsilon      float64
	epsilonStart float64
	epsilonMin   float64
	epsilonDecay float64
}

func newEpsilonGreedyAgent(rng *rand.Rand, qvalues *qTable, cfg Config) *epsilonGreedyAgent {
	return &epsilonGreedyAgent{
		rng:          rng,
		qvalues:      qvalues,
		alpha:        cfg.Alpha,
		gamma:        cfg.Gamma,
		epsilon:      cfg.Epsilon,
		epsilonStart: cfg.Epsilon,
		epsilonMin:   cfg.EpsilonMin,
		epsilonDecay: cfg.EpsilonDecay,
	}
}

func (a *epsilonGreedyAgent) act(state Position) Action {
	if a.rng.Float64() < a.epsilon {
		return Actions[a.rng.Intn(numActions)]
	}
	return a.qvalues.best(state)
}

// update applies one Q-learning step and returns the value before and after.
func (a *epsilonGreedyAgent) update(state Position, action Action, reward float64, next Position) (float64, float64) {
	current := a.qvalues.get(state, action)
	target := reward + a.gamma*a.qvalues.maxValue(next)
	updated := current + a.alpha*(target-current)
	a.qvalues.set(state, action, updated)
	return current, updated
}

func (a *epsilonGreedyAgent) decayEpsilon() {
	a.epsilon = math.Max(a.epsilonMin, a.epsilon*a.epsilonDecay)
}

func (a *epsilonGreedyAgent) reset() {
	a.qvalues.clear()
	a.epsilon = a.epsilonStart
}
