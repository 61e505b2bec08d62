package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyIndex(pool *ClientPool, client *GeminiClient) int {
	for i := range pool.clients {
		if &pool.clients[i] == client {
			return i
		}
	}
	return -1
}

func TestClientPool_FailsOverToNextKey(t *testing.T) {
	pool := NewClientPool(make([]GeminiClient, 3))

	var tried []int
	err := pool.Do(context.Background(), func(client *GeminiClient) error {
		tried = append(tried, keyIndex(pool, client))
		if len(tried) < 2 {
			return errors.New("429 quota exceeded")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, tried)

	tried = nil
	require.NoError(t, pool.Do(context.Background(), func(client *GeminiClient) error {
		tried = append(tried, keyIndex(pool, client))
		return nil
	}))
	assert.Equal(t, []int{1}, tried, "next call starts from the following key")
}

func TestClientPool_AllKeysFail(t *testing.T) {
	pool := NewClientPool(make([]GeminiClient, 2))
	quota := errors.New("429 quota exceeded")

	calls := 0
	err := pool.Do(context.Background(), func(*GeminiClient) error {
		calls++
		return quota
	})

	require.ErrorIs(t, err, quota)
	assert.Contains(t, err.Error(), "all 2 gemini keys failed")
	assert.Equal(t, 2, calls)
}

func TestClientPool_StopsOnBlockedPrompt(t *testing.T) {
	pool := NewClientPool(make([]GeminiClient, 3))

	calls := 0
	err := pool.Do(context.Background(), func(*GeminiClient) error {
		calls++
		return &genai.BlockedError{}
	})

	var blocked *genai.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 1, calls)
}

func TestClientPool_CancelledContext(t *testing.T) {
	pool := NewClientPool(make([]GeminiClient, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Do(ctx, func(*GeminiClient) error {
		t.Fatal("call must not run on a cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClientPool_Empty(t *testing.T) {
	pool := NewClientPool(nil)

	assert.Zero(t, pool.Size())
	assert.Error(t, pool.Do(context.Background(), func(*GeminiClient) error { return nil }))
}
