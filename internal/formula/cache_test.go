package formula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_CompileReusesExpression(t *testing.T) {
	c := NewCache(time.Minute)

	first, err := c.Compile("[totalPayout] * 0.15")
	require.NoError(t, err)
	second, err := c.Compile("[totalPayout] * 0.15")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())
}

func TestCache_KeyedByExactText(t *testing.T) {
	c := NewCache(0)

	a, err := c.Compile("[a]+[b]")
	require.NoError(t, err)
	b, err := c.Compile("[a] + [b]")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, 2, c.Len())
}

func TestCache_SyntaxErrorsNotCached(t *testing.T) {
	c := NewCache(time.Minute)

	_, err := c.Compile("[a] +")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	c.Compile("[a]")
	c.Flush()
	assert.Equal(t, 0, c.Len())
}
