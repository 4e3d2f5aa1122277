package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TaskStatus enumerates the lifecycle of one async analysis task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// TaskInfo is the pollable handle returned for asynchronous work
type TaskInfo struct {
	ID                  string      `json:"id"`
	Type                string      `json:"type"`
	Status              TaskStatus  `json:"status"`
	ResourceURL         string      `json:"resource_url"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
	Progress            float64     `json:"progress"`
	CreatedAt           time.Time   `json:"created_at"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	FinishedAt          *time.Time  `json:"finished_at,omitempty"`
	Result              interface{} `json:"result,omitempty"`
	Error               string      `json:"error,omitempty"`
}

// TaskFunc performs the async work, reporting progress in [0,1]
type TaskFunc func(ctx context.Context, progress func(float64)) (interface{}, error)

// TaskRegistry runs and tracks in-process async tasks with pollable
// handles. Finished tasks are kept for an hour and then reaped.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*TaskInfo

	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewTaskRegistry creates the registry and starts its reaper
func NewTaskRegistry() *TaskRegistry {
	r := &TaskRegistry{
		tasks:     make(map[string]*TaskInfo),
		retention: time.Hour,
		stopCh:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.reap()
	return r
}

// Submit starts taskFn in the background and returns a pending handle
// immediately. estimated is advisory and may be zero.
func (r *TaskRegistry) Submit(ctx context.Context, taskType string, estimated time.Duration, taskFn TaskFunc) *TaskInfo {
	id := uuid.NewString()
	now := time.Now()

	info := &TaskInfo{
		ID:          id,
		Type:        taskType,
		Status:      TaskPending,
		ResourceURL: "/v1/tasks/" + id,
		CreatedAt:   now,
	}
	if estimated > 0 {
		eta := now.Add(estimated)
		info.EstimatedCompletion = &eta
	}

	r.mu.Lock()
	r.tasks[id] = info
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, id, taskFn)
	}()

	snapshot := *info
	return &snapshot
}

func (r *TaskRegistry) run(ctx context.Context, id string, taskFn TaskFunc) {
	started := time.Now()
	r.update(id, func(t *TaskInfo) {
		t.Status = TaskRunning
		t.StartedAt = &started
	})

	result, err := taskFn(ctx, func(p float64) {
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		r.update(id, func(t *TaskInfo) { t.Progress = p })
	})

	finished := time.Now()
	r.update(id, func(t *TaskInfo) {
		t.FinishedAt = &finished
		if err != nil {
			t.Status = TaskFailed
			t.Error = err.Error()
			log.Warn().Err(err).Str("task", id).Str("type", t.Type).Msg("task failed")
			return
		}
		t.Status = TaskSucceeded
		t.Progress = 1
		t.Result = result
	})
}

func (r *TaskRegistry) update(id string, fn func(*TaskInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		fn(t)
	}
}

// Get returns a copy of one task
func (r *TaskRegistry) Get(id string) (*TaskInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	snapshot := *t
	return &snapshot, nil
}

// reap drops finished tasks older than the retention window
func (r *TaskRegistry) reap() {
	defer r.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.retention)
			r.mu.Lock()
			for id, t := range r.tasks {
				if t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
					delete(r.tasks, id)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close stops the reaper and waits for running tasks
func (r *TaskRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
