package buffer

import (
	"go-tamp/pkg/models"
)

// Tasks is a bounded, recency ordered buffer of tasks created while
// replanning. The oldest task is evicted first. Every task gets an id that
// stays valid until the task is evicted.
type Tasks struct {
	capacity int
	Items    []Memory `json:"memories"`
	nextID   int
}

type Memory struct {
	ID   int         `json:"id"`
	Task models.Task `json:"-"`
}

func New(capacity int) *Tasks {
	return &Tasks{capacity: capacity, Items: make([]Memory, 0, capacity)}
}

// Add appends a task and returns the ids evicted to make room for it.
func (m *Tasks) Add(task models.Task) (int, []int) {
	id := m.nextID
	m.nextID++
	if m.capacity <= 0 {
		return id, []int{id}
	}
	var evicted []int
	for len(m.Items) >= m.capacity {
		evicted = append(evicted, m.Items[0].ID)
		m.Items = m.Items[1:]
	}
	m.Items = append(m.Items, Memory{ID: id, Task: task})
	return id, evicted
}

func (m *Tasks) Get(id int) (models.Task, bool) {
	for _, it := range m.Items {
		if it.ID == id {
			return it.Task, true
		}
	}
	return models.Task{}, false
}

// IDs returns the ids of the buffered tasks, oldest first.
func (m *Tasks) IDs() []int {
	ids := make([]int, len(m.Items))
	for i, it := range m.Items {
		ids[i] = it.ID
	}
	return ids
}

func (m *Tasks) Len() int {
	return len(m.Items)
}
