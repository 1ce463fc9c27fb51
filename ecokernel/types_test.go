package ecokernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPairKeyCanonicalOrder(t *testing.T) {
	// Member order never matters; the key is always sorted.
	assert.Equal(t, NewPairKey("alpha", "bravo"), NewPairKey("bravo", "alpha"))
	assert.Equal(t, "alpha:bravo", NewPairKey("bravo", "alpha").String())
}

func TestPairKeyMembership(t *testing.T) {
	key := NewPairKey("alpha", "bravo")

	assert.True(t, key.Has("alpha"))
	assert.True(t, key.Has("bravo"))
	assert.False(t, key.Has("charlie"))

	assert.Equal(t, "bravo", key.Other("alpha"))
	assert.Equal(t, "alpha", key.Other("bravo"))
}

func TestResourceTypes(t *testing.T) {
	types := ResourceTypes()
	assert.Equal(t, []ResourceType{ResourceCompute, ResourceNetwork, ResourceQuota, ResourceToken}, types)
	for _, r := range types {
		assert.True(t, r.Valid(), "resource %s", r)
	}
	assert.False(t, ResourceType("antimatter").Valid())
	assert.False(t, ResourceType("").Valid())
}
