package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func tracked(j *journal, name string, startErr error) Component {
	return Func(
		func(context.Context) error {
			if startErr != nil {
				return startErr
			}
			j.add("start " + name)
			return nil
		},
		func(context.Context) error {
			j.add("stop " + name)
			return nil
		},
	)
}

func TestRun_StartsInOrderStopsInReverse(t *testing.T) {
	j := &journal{}
	app := New(nil, nil, nil)
	app.AddComponent("queue", tracked(j, "queue", nil))
	app.AddComponent("scheduler", tracked(j, "scheduler", nil))
	app.AddCloser("cache", func() error { j.add("close cache"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return len(j.list()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{
		"start queue", "start scheduler",
		"stop scheduler", "stop queue",
		"close cache",
	}, j.list())
}

func TestRun_StartFailureUnwinds(t *testing.T) {
	j := &journal{}
	boom := errors.New("redis down")
	app := New(nil, nil, nil)
	app.AddComponent("consumer", tracked(j, "consumer", nil))
	app.AddComponent("queue", tracked(j, "queue", boom))
	app.AddCloser("cache", func() error { return errors.New("already closed") })

	err := app.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start consumer", "stop consumer"}, j.list())
}
