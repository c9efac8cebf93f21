package wsgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionRegistry_AddRemove(t *testing.T) {
	registry := NewConnectionRegistry()

	registry.Add(&Connection{ID: "conn-1"})
	registry.Add(&Connection{ID: "conn-2"})

	retrieved, exists := registry.Get("conn-1")
	assert.True(t, exists)
	assert.Equal(t, "conn-1", retrieved.ID)
	assert.Equal(t, 2, registry.Count())
	assert.Len(t, registry.GetAll(), 2)

	assert.True(t, registry.Remove("conn-1"))
	assert.False(t, registry.Remove("conn-1"), "second removal is a no-op")

	_, exists = registry.Get("conn-1")
	assert.False(t, exists)
	assert.Equal(t, 1, registry.Count())
}
