package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrapHub(t *testing.T) *hub {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return newHub(logger.Sugar())
}

func TestHubDeliverAfterRemove(t *testing.T) {
	t.Parallel()

	h := bootstrapHub(t)
	p := &peer{id: "conn-1", send: make(chan []byte, 256), logger: h.logger}
	h.add(p)

	require.True(t, h.deliver("conn-1", []byte("hi")))

	h.remove("conn-1")
	require.False(t, h.deliver("conn-1", []byte("late")))

	// second remove for the same id is a no-op
	h.remove("conn-1")
}

func TestHubDeliverConcurrentRemove(t *testing.T) {
	t.Parallel()

	h := bootstrapHub(t)
	payload := []byte("payload")

	// a delivery racing teardown must either land before the queue closes
	// or miss the peer entirely; it must never send on a closed queue
	for i := 0; i < 1000; i++ {
		p := &peer{id: "conn", send: make(chan []byte, 256), logger: h.logger}
		h.add(p)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.deliver("conn", payload)
		}()
		go func() {
			defer wg.Done()
			h.remove("conn")
		}()
		wg.Wait()
	}
}

func TestHubDeliverQueueFullDrops(t *testing.T) {
	t.Parallel()

	h := bootstrapHub(t)
	p := &peer{id: "conn-1", send: make(chan []byte, 1), logger: h.logger}
	h.add(p)

	require.True(t, h.deliver("conn-1", []byte("first")))
	require.False(t, h.deliver("conn-1", []byte("overflow")))
}
