package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/copybot/internal/engine"
)

func TestDedup_SeenWithinTTL(t *testing.T) {
	now := t0
	d := engine.NewDedup(time.Hour, func() time.Time { return now })

	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))

	now = now.Add(59 * time.Minute)
	assert.True(t, d.Seen("a"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.Seen("a"), "expired ids are admitted again")
}

func TestDedup_Cleanup(t *testing.T) {
	now := t0
	d := engine.NewDedup(time.Minute, func() time.Time { return now })
	d.Seen("a")
	now = now.Add(30 * time.Second)
	d.Seen("b")

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, d.Cleanup())
	assert.Equal(t, 1, d.Len())
}
