package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentrisk/agent"
)

var _ agent.LabelCache = (*LRU)(nil)
var _ agent.LabelCache = (*Redis)(nil)

func TestLRUEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c, err := NewLRU(2)
	require.NoError(t, err)

	c.Set(ctx, "a", "Safe")
	c.Set(ctx, "b", "At Risk")
	c.Set(ctx, "c", "Critical")

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	label, ok := c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "Critical", label)
	assert.Equal(t, 2, c.Len())
}

func TestLRUDefaultSize(t *testing.T) {
	c, err := NewLRU(0)
	require.NoError(t, err)
	c.Set(context.Background(), "k", "Safe")
	assert.Equal(t, 1, c.Len())
}
