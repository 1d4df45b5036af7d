package prompt

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyhui/aleeai-prompt/internal/domain"
)

func TestToolRegistry(t *testing.T) {
	registry := NewToolRegistry()

	err := registry.Register("join", func(ctx context.Context, args ...any) (any, error) {
		return fmt.Sprint(args...), nil
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register("count", func(ctx context.Context, args ...any) (any, error) {
		return len(args), nil
	}))

	result, err := registry.Call(context.Background(), "count", 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result)

	assert.Equal(t, []string{"count", "join"}, registry.Names())

	_, err = registry.Call(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
	assert.Contains(t, err.Error(), "function missing not found")

	registry.Unregister("join")
	_, err = registry.Call(context.Background(), "join")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestToolRegistry_RegisterValidation(t *testing.T) {
	registry := NewToolRegistry()

	err := registry.Register("", func(ctx context.Context, args ...any) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = registry.Register("nil", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, registry.Names())
}
