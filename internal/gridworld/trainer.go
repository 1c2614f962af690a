package gridworld

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"tiny-ml-lab/internal/stepper"
)

type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseMakingMove        Phase = "makingMove"
	PhaseCalculatingReward Phase = "calculatingReward"
	PhaseUpdatingQTable    Phase = "updatingQTable"
)

const (
	defaultMaxMoves     = 1000
	defaultDemoMoves    = 100
	rewardHistoryLength = 100
)

type Config struct {
	Layout       []string      `json:"layout" yaml:"layout"`
	Rewards      Rewards       `json:"rewards" yaml:"rewards"`
	Alpha        float64       `json:"alpha" yaml:"alpha"`
	Gamma        float64       `json:"gamma" yaml:"gamma"`
	Epsilon      float64       `json:"epsilon" yaml:"epsilon"`
	EpsilonMin   float64       `json:"epsilonMin" yaml:"epsilon_min"`
	EpsilonDecay float64       `json:"epsilonDecay" yaml:"epsilon_decay"`
	MaxMoves     int           `json:"maxMoves" yaml:"max_moves"`
	DemoMoves    int           `json:"demoMoves" yaml:"demo_moves"`
	MaxEpisodes  int           `json:"maxEpisodes" yaml:"max_episodes"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
	Seed         int64         `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Layout:       ReferenceLayout,
		Rewards:      DefaultRewards,
		Alpha:        0.5,
		Gamma:        0.95,
		Epsilon:      1.0,
		EpsilonMin:   0.05,
		EpsilonDecay: 0.998,
		MaxMoves:     defaultMaxMoves,
		DemoMoves:    defaultDemoMoves,
		Interval:     10 * time.Millisecond,
		Seed:         1,
	}
}

// Move is the in-flight move of the current step. Fields fill in as the phases
// advance: Action, From, Attempted and OldQ in makingMove; To, Reward and
// Blocked in calculatingReward; NewQ in updatingQTable.
type Move struct {
	From      Position `json:"from"`
	Action    Action   `json:"action"`
	Attempted Position `json:"attempted"`
	To        Position `json:"to"`
	Blocked   bool     `json:"blocked"`
	Reward    float64  `json:"reward"`
	OldQ      float64  `json:"oldQ"`
	NewQ      float64  `json:"newQ"`
}

type Snapshot struct {
	Status        stepper.Status `json:"status"`
	Phase         Phase          `json:"phase"`
	Episode       int            `json:"episode"`
	EpisodeReward float64        `json:"episodeReward"`
	Moves         int            `json:"moves"`
	Successes     int            `json:"successes"`
	SuccessRate   float64        `json:"successRate"`
	LastSucceeded bool           `json:"lastSucceeded"`
	TotalSteps    int            `json:"totalSteps"`
	Step          int            `json:"step"`
	Epsilon       float64        `json:"epsilon"`
	Agent         Position       `json:"agent"`
	Start         Position       `json:"start"`
	Goal          Position       `json:"goal"`
	Grid          [][]Cell       `json:"grid"`
	ValueMap      [][]float64    `json:"valueMap"`
	StatesVisited int            `json:"statesVisited"`
	RewardHistory []float64      `json:"rewardHistory"`
	Move          *Move          `json:"move,omitempty"`
	Interval      time.Duration  `json:"interval"`
}

// Trainer is the Q-learning maze engine. All methods are safe for concurrent
// use; continuous mode runs on its own goroutine and takes the trainer lock
// once per move.
type Trainer struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	maze    *maze
	qvalues *qTable
	agent   *epsilonGreedyAgent
	machine *stepper.Machine
	logger  *slog.Logger

	phase         Phase
	move          *Move
	episode       int
	episodeReward float64
	moves         int
	successes     int
	lastSucceeded bool
	totalSteps    int
	step          int
	rewardHistory []float64
}

func NewTrainer(cfg Config, logger *slog.Logger) (*Trainer, error) {
	cfg = sanitizeConfig(cfg)
	m, err := parseLayout(cfg.Layout, cfg.Rewards)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	qvalues := newQTable()
	t := &Trainer{
		cfg:     cfg,
		rng:     rng,
		maze:    m,
		qvalues: qvalues,
		agent:   newEpsilonGreedyAgent(rng, qvalues, cfg),
		logger:  logger.With(slog.String("component", "gridworld")),
		phase:   PhaseIdle,
	}
	t.machine = stepper.NewMachine("gridworld", &t.mu, stepper.NewPacer(cfg.Interval), logger)
	t.machine.OnEnd(t.onRunEnd)
	epsilonGauge.Set(t.agent.epsilon)
	return t, nil
}

func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if len(cfg.Layout) == 0 {
		cfg.Layout = def.Layout
	}
	if cfg.Rewards == (Rewards{}) {
		cfg.Rewards = def.Rewards
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Gamma <= 0 || cfg.Gamma > 1 {
		cfg.Gamma = def.Gamma
	}
	if cfg.Epsilon <= 0 || cfg.Epsilon > 1 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.EpsilonMin < 0 || cfg.EpsilonMin > cfg.Epsilon {
		cfg.EpsilonMin = 0
	}
	if cfg.EpsilonDecay <= 0 || cfg.EpsilonDecay > 1 {
		cfg.EpsilonDecay = def.EpsilonDecay
	}
	if cfg.MaxMoves <= 0 {
		cfg.MaxMoves = def.MaxMoves
	}
	if cfg.DemoMoves <= 0 {
		cfg.DemoMoves = def.DemoMoves
	}
	if cfg.MaxEpisodes < 0 {
		cfg.MaxEpisodes = 0
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return cfg
}

// StartContinuous trains episode after episode, one move per tick, until
// Stop, Reset, ctx cancellation, or MaxEpisodes completed episodes.
func (t *Trainer) StartContinuous(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return false
	}
	t.resetSession()
	return t.machine.StartContinuous(ctx, t.tick)
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

// AdvanceStep performs exactly one phase transition. Outside step mode it
// changes nothing and reports false.
func (t *Trainer) AdvanceStep() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Mode() != stepper.ModeStep {
		return t.snapshot(), false
	}
	switch t.phase {
	case PhaseIdle:
		t.chooseMove()
	case PhaseMakingMove:
		t.applyMove()
	case PhaseCalculatingReward:
		t.learn()
	case PhaseUpdatingQTable:
		if t.settle() && t.episodeLimitReached() {
			t.machine.Finish()
		}
	}
	return t.snapshot(), true
}

// Reset cancels any active mode and clears the Q-table, exploration rate and
// all counters.
func (t *Trainer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.machine.StopAny()
	t.agent.reset()
	t.resetSession()
	t.move = nil
	epsilonGauge.Set(t.agent.epsilon)
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

func (t *Trainer) SetMaxEpisodes(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return stepper.ErrBusy
	}
	if n < 0 {
		n = 0
	}
	t.cfg.MaxEpisodes = n
	return nil
}

// SetLayout replaces the maze. The Q-table is cleared because its states
// belong to the old layout.
func (t *Trainer) SetLayout(layout []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Active() {
		return stepper.ErrBusy
	}
	m, err := parseLayout(layout, t.cfg.Rewards)
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	t.maze = m
	t.cfg.Layout = append([]string(nil), layout...)
	t.agent.reset()
	t.resetSession()
	t.move = nil
	return nil
}

func (t *Trainer) ChooseAction(state Position) Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agent.act(state)
}

func (t *Trainer) BestAction(state Position) Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.qvalues.best(state)
}

func (t *Trainer) QValue(state Position, action Action) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.qvalues.get(state, action)
}

// Update applies the Q-learning rule to one transition and returns the new value.
func (t *Trainer) Update(state Position, action Action, reward float64, next Position) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, updated := t.agent.update(state, action, reward, next)
	return updated
}

// PerformAction resolves action from the agent's current position without
// moving it.
func (t *Trainer) PerformAction(action Action) (Position, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, reward, _ := t.maze.attempt(t.maze.agent, action)
	return next, reward
}

func (t *Trainer) Epsilon() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agent.epsilon
}

// Demonstrate replays the greedy policy from the start cell for at most
// DemoMoves moves and returns the visited cells, start included. It is refused
// while continuous training runs. The Q-table and agent are not touched.
func (t *Trainer) Demonstrate() ([]Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Mode() == stepper.ModeContinuous {
		return nil, false
	}
	pos := t.maze.start
	path := []Position{pos}
	for moves := 0; pos != t.maze.goal && moves < t.cfg.DemoMoves; moves++ {
		pos, _, _ = t.maze.attempt(pos, t.qvalues.best(pos))
		path = append(path, pos)
	}
	return path, true
}

// BestPath follows the greedy policy from start and stops before the first
// revisited cell, at the goal, or after DemoMoves cells.
func (t *Trainer) BestPath() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := t.maze.start
	path := []Position{pos}
	visited := map[Position]bool{}
	for pos != t.maze.goal && len(path) < t.cfg.DemoMoves {
		visited[pos] = true
		next, _, _ := t.maze.attempt(pos, t.qvalues.best(pos))
		if visited[next] {
			break
		}
		path = append(path, next)
		pos = next
	}
	return path
}

func (t *Trainer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Trainer) tick() bool {
	t.chooseMove()
	t.applyMove()
	t.learn()
	if t.settle() && t.episodeLimitReached() {
		return true
	}
	return false
}

func (t *Trainer) chooseMove() {
	from := t.maze.agent
	action := t.agent.act(from)
	attempted := t.maze.target(from, action)
	if !t.maze.inBounds(attempted) {
		attempted = from
	}
	t.move = &Move{
		From:      from,
		Action:    action,
		Attempted: attempted,
		OldQ:      t.qvalues.get(from, action),
	}
	t.phase = PhaseMakingMove
}

func (t *Trainer) applyMove() {
	next, reward, blocked := t.maze.attempt(t.move.From, t.move.Action)
	t.move.To = next
	t.move.Reward = reward
	t.move.Blocked = blocked
	t.maze.agent = next
	t.episodeReward += reward
	t.moves++
	t.step++
	movesTotal.Inc()
	t.phase = PhaseCalculatingReward
}

func (t *Trainer) learn() {
	old, updated := t.agent.update(t.move.From, t.move.Action, t.move.Reward, t.move.To)
	t.move.OldQ = old
	t.move.NewQ = updated
	t.phase = PhaseUpdatingQTable
}

// settle closes the move and, at the goal or the move cap, the episode.
// It reports whether an episode ended.
func (t *Trainer) settle() bool {
	t.phase = PhaseIdle
	reached := t.maze.agent == t.maze.goal
	if !reached && t.moves < t.cfg.MaxMoves {
		return false
	}
	t.completeEpisode(reached)
	return true
}

func (t *Trainer) completeEpisode(reached bool) {
	if reached {
		t.successes++
	}
	t.lastSucceeded = reached
	t.agent.decayEpsilon()
	t.episode++
	t.totalSteps += t.moves
	t.rewardHistory = append(t.rewardHistory, t.episodeReward)
	if len(t.rewardHistory) > rewardHistoryLength {
		t.rewardHistory = t.rewardHistory[len(t.rewardHistory)-rewardHistoryLength:]
	}
	outcome := "timeout"
	if reached {
		outcome = "goal"
	}
	episodesTotal.WithLabelValues(outcome).Inc()
	epsilonGauge.Set(t.agent.epsilon)
	t.logger.Debug("episode complete",
		slog.Int("episode", t.episode),
		slog.String("outcome", outcome),
		slog.Int("moves", t.moves),
		slog.Float64("reward", t.episodeReward),
		slog.Float64("epsilon", t.agent.epsilon),
	)
	t.maze.reset()
	t.episodeReward = 0
	t.moves = 0
}

func (t *Trainer) episodeLimitReached() bool {
	return t.cfg.MaxEpisodes > 0 && t.episode >= t.cfg.MaxEpisodes
}

func (t *Trainer) resetSession() {
	t.maze.reset()
	t.phase = PhaseIdle
	t.episode = 0
	t.episodeReward = 0
	t.moves = 0
	t.successes = 0
	t.lastSucceeded = false
	t.totalSteps = 0
	t.step = 0
	t.rewardHistory = nil
}

// onRunEnd drops the unfinished episode when a run ends between episodes.
func (t *Trainer) onRunEnd(stepper.Mode) {
	t.phase = PhaseIdle
	t.maze.reset()
	t.episodeReward = 0
	t.moves = 0
}

func (t *Trainer) snapshot() Snapshot {
	var move *Move
	if t.move != nil {
		copied := *t.move
		move = &copied
	}
	successRate := 0.0
	if t.episode > 0 {
		successRate = float64(t.successes) / float64(t.episode)
	}
	return Snapshot{
		Status:        t.machine.Status(),
		Phase:         t.phase,
		Episode:       t.episode,
		EpisodeReward: t.episodeReward,
		Moves:         t.moves,
		Successes:     t.successes,
		SuccessRate:   successRate,
		LastSucceeded: t.lastSucceeded,
		TotalSteps:    t.totalSteps,
		Step:          t.step,
		Epsilon:       t.agent.epsilon,
		Agent:         t.maze.agent,
		Start:         t.maze.start,
		Goal:          t.maze.goal,
		Grid:          t.maze.grid(),
		ValueMap:      t.qvalues.stateValues(t.maze.rows, t.maze.cols),
		StatesVisited: t.qvalues.len(),
		RewardHistory: append([]float64(nil), t.rewardHistory...),
		Move:          move,
		Interval:      t.machine.Pacer().Interval(),
	}
}
