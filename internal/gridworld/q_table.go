package gridworld

import "math"

// qTable is sparse: states that were never updated read as all zeros.
type qTable struct {
	values map[Position][numActions]float64
}

func newQTable() *qTable {
	return &qTable{values: make(map[Position][numActions]float64)}
}

func (q *qTable) get(state Position, action Action) float64 {
	return q.values[state][action]
}

func (q *qTable) set(state Position, action Action, value float64) {
	row := q.values[state]
	row[action] = value
	q.values[state] = row
}

func (q *qTable) maxValue(state Position) float64 {
	row := q.values[state]
	max := row[0]
	for a := 1; a < numActions; a++ {
		if row[a] > max {
			max = row[a]
		}
	}
	return max
}

// best is the greedy action; ties go to the first action in enumeration order.
func (q *qTable) best(state Position) Action {
	row := q.values[state]
	bestAction := ActionUp
	bestValue := math.Inf(-1)
	for _, a := range Actions {
		if row[a] > bestValue {
			bestValue = row[a]
			bestAction = a
		}
	}
	return bestAction
}

func (q *qTable) len() int {
	return len(q.values)
}

func (q *qTable) clear() {
	clear(q.values)
}

func (q *qTable) clone() map[Position][numActions]float64 {
	copied := make(map[Position][numActions]float64, len(q.values))
	for k, v := range q.values {
		copied[k] = v
	}
	return copied
}

func (q *qTable) stateValues(rows, cols int) [][]float64 {
	values := make([][]float64, rows)
	for y := 0; y < rows; y++ {
		values[y] = make([]float64, cols)
		for x := 0; x < cols; x++ {
			values[y][x] = q.maxValue(Position{X: x, Y: y})
		}
	}
	return values
}
