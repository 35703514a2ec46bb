package comparison_test

import (
	"testing"

	"LiveBoard/internal/utils/comparison"
	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, comparison.Clamp(3, 0, 10))
	assert.Equal(t, 0, comparison.Clamp(-4, 0, 10))
	assert.Equal(t, 10, comparison.Clamp(12, 0, 10))
	assert.Equal(t, 1.5, comparison.Clamp(1.5, 1.0, 2.0))
	assert.Equal(t, "b", comparison.Max("a", "b"))
}
