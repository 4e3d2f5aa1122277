package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTaskLifecycle(t *testing.T) {
	r := NewTaskRegistry()
	defer r.Close()

	release := make(chan struct{})
	info := r.Submit(context.Background(), "narrative", 15*time.Second, func(ctx context.Context, progress func(float64)) (interface{}, error) {
		progress(-0.5) // clamped to 0
		progress(0.5)
		<-release
		return "narrative text", nil
	})

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "narrative", info.Type)
	assert.Equal(t, TaskPending, info.Status, "the handle returns before the work starts")
	assert.Equal(t, "/v1/tasks/"+info.ID, info.ResourceURL)
	require.NotNil(t, info.EstimatedCompletion)

	waitFor(t, func() bool {
		got, err := r.Get(info.ID)
		return err == nil && got.Status == TaskRunning && got.Progress == 0.5
	})

	close(release)
	waitFor(t, func() bool {
		got, err := r.Get(info.ID)
		return err == nil && got.Status == TaskSucceeded
	})

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "narrative text", got.Result)
	assert.Equal(t, 1.0, got.Progress)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Error)
}

func TestTaskFailure(t *testing.T) {
	r := NewTaskRegistry()
	defer r.Close()

	info := r.Submit(context.Background(), "narrative", 0, func(ctx context.Context, progress func(float64)) (interface{}, error) {
		return nil, errors.New("backend unavailable")
	})
	assert.Nil(t, info.EstimatedCompletion, "zero estimate omits the eta")

	waitFor(t, func() bool {
		got, err := r.Get(info.ID)
		return err == nil && got.Status == TaskFailed
	})

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Error, "backend unavailable")
	assert.Nil(t, got.Result)
}

func TestTaskProgressClamped(t *testing.T) {
	r := NewTaskRegistry()
	defer r.Close()

	info := r.Submit(context.Background(), "narrative", 0, func(ctx context.Context, progress func(float64)) (interface{}, error) {
		progress(7)
		return "done", nil
	})

	waitFor(t, func() bool {
		got, err := r.Get(info.ID)
		return err == nil && got.Status == TaskSucceeded
	})
	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Progress)
}

func TestTaskGetUnknown(t *testing.T) {
	r := NewTaskRegistry()
	defer r.Close()

	_, err := r.Get("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
}

func TestTaskCloseWaitsForWork(t *testing.T) {
	r := NewTaskRegistry()

	info := r.Submit(context.Background(), "narrative", 0, func(ctx context.Context, progress func(float64)) (interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})

	r.Close()

	got, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskSucceeded, got.Status, "close drains in-flight tasks")
}
