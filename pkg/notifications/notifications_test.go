package notifications

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCenter_ListSince(t *testing.T) {
	c := NewCenter(10, zerolog.Nop())
	c.Error("fetch failed")
	c.Info("loading")
	c.OK("installed")

	all := c.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, StatusError, all[0].Status)
	assert.Equal(t, "fetch failed", all[0].Message)

	newer := c.List(all[1].ID)
	require.Len(t, newer, 1)
	assert.Equal(t, "installed", newer[0].Message)
}

func TestCenter_Capacity(t *testing.T) {
	c := NewCenter(2, zerolog.Nop())
	c.Error("one")
	c.Error("two")
	c.Error("three")

	items := c.List(0)
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].Message)
	assert.Equal(t, "three", items[1].Message)
}

func TestCenter_Dismiss(t *testing.T) {
	c := NewCenter(0, zerolog.Nop())
	c.Error("boom")
	id := c.List(0)[0].ID

	assert.True(t, c.Dismiss(id))
	assert.False(t, c.Dismiss(id))
	assert.Empty(t, c.List(0))
}
