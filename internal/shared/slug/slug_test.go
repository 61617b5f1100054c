package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromName(t *testing.T) {
	assert.Equal(t, "coffee-mug-350ml", FromName("Coffee Mug, 350ml"))
	assert.Equal(t, "a-b", FromName("--A__B--"))
	assert.Equal(t, "product", FromName("  !!! "))
}
