package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/generative-ai-go/genai"
)

// ClientPool spreads extraction calls over the configured API keys. A call that fails on one key
// is retried on the next until every key has been tried once.
type ClientPool struct {
	clients []GeminiClient
	next    atomic.Uint64
}

func NewClientPool(clients []GeminiClient) *ClientPool {
	return &ClientPool{clients: clients}
}

func (p *ClientPool) Size() int {
	return len(p.clients)
}

// Do runs call against the pool. Failover stops early when the context is done or the model
// blocked the prompt, since another key would see the same content.
func (p *ClientPool) Do(ctx context.Context, call func(*GeminiClient) error) error {
	size := len(p.clients)
	if size == 0 {
		return errors.New("no gemini api keys configured")
	}

	start := int(p.next.Add(1)-1) % size
	failures := make([]string, 0, size)
	var lastErr error
	for attempt := 0; attempt < size; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction abandoned: %w", err)
		}
		key := (start + attempt) % size

		err := call(&p.clients[key])
		if err == nil {
			if attempt > 0 {
				slog.Info("Extraction succeeded after failover", "key_index", key, "attempt", attempt+1)
			}
			return nil
		}

		var blocked *genai.BlockedError
		if errors.As(err, &blocked) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		failures = append(failures, fmt.Sprintf("key[%d]: %v", key, err))
		slog.Warn("Extraction call failed, switching key", "key_index", key, "attempt", attempt+1, "error", err)
	}

	slog.Error("Every gemini key failed", "keys", size, "errors", failures)
	return fmt.Errorf("all %d gemini keys failed: %w", size, lastErr)
}
