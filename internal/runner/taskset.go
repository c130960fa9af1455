package runner

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
)

// ErrEmptyTaskSet is returned when a task set with no sub-tasks executes.
var ErrEmptyTaskSet = errors.New("task set has no tasks")

// WeighingTaskSet runs one randomly chosen sub-task per execution. A
// sub-task with weight w is picked with probability w/Σw.
type WeighingTaskSet struct {
	name   string
	weight int

	mu      sync.RWMutex
	tasks   []Task
	offsets []int // cumulative weights, offsets[i] is the exclusive upper bound of tasks[i]
}

// NewWeighingTaskSet creates an empty set. weight is the set's own weight
// when the runner splits users across top-level tasks.
func NewWeighingTaskSet(name string, weight int) *WeighingTaskSet {
	return &WeighingTaskSet{name: name, weight: weight}
}

// Add appends a sub-task. Tasks with weight <= 0 are ignored and Add
// reports false.
func (s *WeighingTaskSet) Add(t Task) bool {
	if t.Weight() <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	if n := len(s.offsets); n > 0 {
		total = s.offsets[n-1]
	}
	s.tasks = append(s.tasks, t)
	s.offsets = append(s.offsets, total+t.Weight())
	return true
}

func (s *WeighingTaskSet) Name() string { return s.name }
func (s *WeighingTaskSet) Weight() int  { return s.weight }

// Pick returns the sub-task owning roll, where 0 <= roll < Σw.
func (s *WeighingTaskSet) Pick(roll int) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.offsets) == 0 || roll < 0 || roll >= s.offsets[len(s.offsets)-1] {
		return nil, false
	}
	i := sort.SearchInts(s.offsets, roll+1)
	return s.tasks[i], true
}

func (s *WeighingTaskSet) Execute(ctx context.Context, u *UserContext) error {
	s.mu.RLock()
	total := 0
	if n := len(s.offsets); n > 0 {
		total = s.offsets[n-1]
	}
	s.mu.RUnlock()
	if total == 0 {
		return ErrEmptyTaskSet
	}
	t, ok := s.Pick(rand.IntN(total))
	if !ok {
		return ErrEmptyTaskSet
	}
	return t.Execute(ctx, u)
}

// OrderedTaskSet runs its sub-tasks round robin. After Distribute, a
// sub-task with weight w appears w times in a row in the rotation.
type OrderedTaskSet struct {
	name   string
	weight int

	mu    sync.Mutex
	tasks []Task
	pos   int
}

// NewOrderedTaskSet creates an empty set.
func NewOrderedTaskSet(name string, weight int) *OrderedTaskSet {
	return &OrderedTaskSet{name: name, weight: weight}
}

// Add appends a sub-task.
func (s *OrderedTaskSet) Add(t Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
}

// Distribute expands the rotation by weight. When every weight is zero each
// sub-task appears once.
func (s *OrderedTaskSet) Distribute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, t := range s.tasks {
		sum += t.Weight()
	}
	expanded := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		n := t.Weight()
		if sum == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			expanded = append(expanded, t)
		}
	}
	s.tasks = expanded
	s.pos = 0
}

func (s *OrderedTaskSet) Name() string { return s.name }
func (s *OrderedTaskSet) Weight() int  { return s.weight }

// Next returns the next sub-task in the rotation.
func (s *OrderedTaskSet) Next() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil, false
	}
	i := s.pos % len(s.tasks)
	s.pos = i + 1
	return s.tasks[i], true
}

func (s *OrderedTaskSet) Execute(ctx context.Context, u *UserContext) error {
	t, ok := s.Next()
	if !ok {
		return ErrEmptyTaskSet
	}
	return t.Execute(ctx, u)
}
