package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedWithEmptyListAllowsEverything(t *testing.T) {
	b := &Bridge{cfg: Config{}}
	assert.True(t, b.isAllowed("!anything:example.org"))
}

func TestIsAllowedRespectsAllowlist(t *testing.T) {
	b := &Bridge{cfg: Config{AllowedRooms: []string{"!room1:example.org"}}}
	assert.True(t, b.isAllowed("!room1:example.org"))
	assert.False(t, b.isAllowed("!room2:example.org"))
}
