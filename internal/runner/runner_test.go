package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TheRockettek/gateway-sharder/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// fakeBrokerClient is a minimal in-memory broker.Client: BLPop always
// blocks on ctx, RPush only counts calls. It exists so run can be exercised
// without a live broker.
type fakeBrokerClient struct {
	mu     sync.Mutex
	pushed int
}

func (f *fakeBrokerClient) BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func (f *fakeBrokerClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	f.mu.Lock()
	f.pushed++
	f.mu.Unlock()

	return nil
}

func TestRun_SpawnsSupervisorsAndExitsOnCancellation(t *testing.T) {
	cfg := config.Configuration{
		Token:      "Bot test",
		RedisAddr:  "127.0.0.1:0",
		ShardStart: 0,
		ShardUntil: 1,
		ShardTotal: 2,
	}

	client := &fakeBrokerClient{}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- run(ctx, cfg, client, zerolog.Nop()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not exit after cancellation")
	}
}
