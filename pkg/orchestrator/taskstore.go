package orchestrator

import (
	"sort"
	"sync"

	"github.com/opsforge/opsforge/pkg/models"
)

// TaskStore holds live tasks. The default implementation is an in-process
// map: tasks are interactive and do not survive a restart, which makes
// "in-flight tasks fail on crash" trivially true. A durable implementation
// can be plugged in without touching the orchestrator.
type TaskStore interface {
	Put(task *models.Task)
	Get(id string) (*models.Task, bool)
	List(userID string) []*models.Task
}

// MemoryTaskStore is the default in-process TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemoryTaskStore returns an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryTaskStore) Put(task *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

func (s *MemoryTaskStore) Get(id string) (*models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	return task, ok
}

// List returns the user's tasks, newest first.
func (s *MemoryTaskStore) List(userID string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.UserID == userID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
