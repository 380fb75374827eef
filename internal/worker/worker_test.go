package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhall/internal/attendance"
	"studyhall/internal/logger"
	"studyhall/internal/queue"
)

type counter struct {
	mu     sync.Mutex
	counts map[attendance.Action]int
}

func (c *counter) IncrTally(_ context.Context, _ attendance.Day, action attendance.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[action]++
	return nil
}

func (c *counter) get(a attendance.Action) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[a]
}

func TestConsumerCountsEvents(t *testing.T) {
	q := queue.NewInMemory(8)
	pub := queue.EventPublisher{Queue: q}
	ctx := context.Background()
	for _, a := range []attendance.Action{attendance.ActionEntry, attendance.ActionLeaveTemp, attendance.ActionEntry} {
		require.NoError(t, pub.Publish(ctx, attendance.Event{Type: attendance.EventScanAccepted, Day: "20261019", Action: a}))
	}
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "junk", Body: []byte("not json")}))

	tallies := &counter{counts: map[attendance.Action]int{}}
	c := &Consumer{Queue: q, Tallies: tallies, Log: logger.Discard()}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return tallies.get(attendance.ActionEntry) == 2 && tallies.get(attendance.ActionLeaveTemp) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
