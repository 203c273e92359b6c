package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeAgo(t *testing.T) {
	now := time.Now()

	assert.Equal(t, "just now", timeAgo(now.Add(-30*time.Second)))
	assert.Equal(t, "5m ago", timeAgo(now.Add(-5*time.Minute)))
	assert.Equal(t, "3h ago", timeAgo(now.Add(-3*time.Hour)))
	assert.Equal(t, "1d ago", timeAgo(now.Add(-30*time.Hour)))
	assert.Equal(t, "4d ago", timeAgo(now.Add(-4*24*time.Hour)))
}
