package handshake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/ktls-go/pkg/engine"
)

func TestWorkerRunsTasksInOrder(t *testing.T) {
	w := NewWorker()
	defer w.Close()

	var order []string
	err := w.Run(context.Background(), []engine.Task{
		func() { order = append(order, "a") },
		func() { order = append(order, "b") },
		func() { order = append(order, "c") },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestWorkerRunEmpty(t *testing.T) {
	w := NewWorker()
	defer w.Close()

	assert.NoError(t, w.Run(context.Background(), nil))
}

func TestWorkerClosed(t *testing.T) {
	w := NewWorker()
	w.Close()
	w.Close()

	err := w.Run(context.Background(), []engine.Task{func() {}})
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func TestWorkerContextCanceled(t *testing.T) {
	w := NewWorker()
	defer w.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Run(ctx, []engine.Task{func() { <-release }})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
