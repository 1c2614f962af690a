package gridworld

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyLayout     = errors.New("gridworld: layout must have at least one row and one column")
	ErrNonRectangular  = errors.New("gridworld: all layout rows must have the same length")
	ErrInvalidCell     = errors.New("gridworld: unknown cell symbol")
	ErrMissingEndpoint = errors.New("gridworld: layout needs exactly one start and one goal")
)

type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

type Cell int

const (
	CellEmpty Cell = iota
	CellWall
	CellStart
	CellGoal
)

func (c Cell) String() string {
	switch c {
	case CellWall:
		return "wall"
	case CellStart:
		return "start"
	case CellGoal:
		return "goal"
	default:
		return "empty"
	}
}

func (c Cell) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

type Action int

const (
	ActionUp Action = iota
	ActionDown
	ActionLeft
	ActionRight
)

const numActions = 4

// Actions lists the actions in enumeration order, which is also the greedy
// tie-break order.
var Actions = [numActions]Action{ActionUp, ActionDown, ActionLeft, ActionRight}

// Delta is the coordinate change of an action; y grows downwards.
func (a Action) Delta() (dx, dy int) {
	switch a {
	case ActionUp:
		return 0, -1
	case ActionDown:
		return 0, 1
	case ActionLeft:
		return -1, 0
	case ActionRight:
		return 1, 0
	}
	return 0, 0
}

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "up"
	case ActionDown:
		return "down"
	case ActionLeft:
		return "left"
	case ActionRight:
		return "right"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Rewards is the reward policy of the maze. Goal must dominate, and a blocked
// move must cost more than a valid step.
type Rewards struct {
	Goal    float64 `json:"goal" yaml:"goal"`
	Step    float64 `json:"step" yaml:"step"`
	Blocked float64 `json:"blocked" yaml:"blocked"`
}

var DefaultRewards = Rewards{Goal: 200, Step: -0.01, Blocked: -0.5}

// ReferenceLayout is the 10x10 maze with start (0,0) and goal (9,9).
// Symbols: S start, G goal, # wall, . empty.
var ReferenceLayout = []string{
	"S..#...###",
	"##.#.#...#",
	"#....###.#",
	"#.######.#",
	"#........#",
	"####.###.#",
	"#....#...#",
	"#.####.###",
	"#......###",
	"######...G",
}

type maze struct {
	rows, cols int
	cells      [][]Cell
	start      Position
	goal       Position
	rewards    Rewards
	agent      Position
}

func parseLayout(layout []string, rewards Rewards) (*maze, error) {
	if len(layout) == 0 || len(layout[0]) == 0 {
		return nil, ErrEmptyLayout
	}
	rows, cols := len(layout), len(layout[0])
	m := &maze{rows: rows, cols: cols, rewards: rewards, cells: make([][]Cell, rows)}
	starts, goals := 0, 0
	for y, line := range layout {
		if len(line) != cols {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrNonRectangular, y, len(line), cols)
		}
		m.cells[y] = make([]Cell, cols)
		for x, symbol := range line {
			switch symbol {
			case '.':
				m.cells[y][x] = CellEmpty
			case '#':
				m.cells[y][x] = CellWall
			case 'S':
				m.cells[y][x] = CellStart
				m.start = Position{X: x, Y: y}
				starts++
			case 'G':
				m.cells[y][x] = CellGoal
				m.goal = Position{X: x, Y: y}
				goals++
			default:
				return nil, fmt.Errorf("%w: %q at (%d,%d)", ErrInvalidCell, symbol, x, y)
			}
		}
	}
	if starts != 1 || goals != 1 {
		return nil, ErrMissingEndpoint
	}
	m.agent = m.start
	return m, nil
}

func (m *maze) reset() {
	m.agent = m.start
}

func (m *maze) inBounds(p Position) bool {
	return p.X >= 0 && p.X < m.cols && p.Y >= 0 && p.Y < m.rows
}

func (m *maze) cellAt(p Position) Cell {
	if !m.inBounds(p) {
		return CellWall
	}
	return m.cells[p.Y][p.X]
}

func (m *maze) target(from Position, a Action) Position {
	dx, dy := a.Delta()
	return Position{X: from.X + dx, Y: from.Y + dy}
}

// attempt resolves action a from position from without moving the agent.
// Leaving the grid or walking into a wall keeps the position and costs the
// blocked penalty.
func (m *maze) attempt(from Position, a Action) (next Position, reward float64, blocked bool) {
	to := m.target(from, a)
	if m.cellAt(to) == CellWall {
		return from, m.rewards.Blocked, true
	}
	if to == m.goal {
		return to, m.rewards.Goal, false
	}
	return to, m.rewards.Step, false
}

func (m *maze) grid() [][]Cell {
	grid := make([][]Cell, m.rows)
	for y := range m.cells {
		grid[y] = make([]Cell, m.cols)
		copy(grid[y], m.cells[y])
	}
	return grid
}
