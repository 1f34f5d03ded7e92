package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
}

func TestBackoff_Delay_CappedAtMax(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	assert.Equal(t, 30*time.Second, b.Delay(10))
	assert.Equal(t, 30*time.Second, b.Delay(60))
}

func TestBackoff_Delay_NegativeCount(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, time.Duration(0), b.Delay(-1))
}
