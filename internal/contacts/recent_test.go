package contacts

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoLocShare/internal/model"
)

func TestRecordOrdersMostRecentFirst(t *testing.T) {
	recent := NewRecent(5)
	recent.Record(model.Identity{Username: "alice01"})
	recent.Record(model.Identity{Username: "bob02"})

	list := recent.List()
	require.Len(t, list, 2)
	assert.Equal(t, "bob02", list[0].Username)
	assert.Equal(t, "alice01", list[1].Username)
}

func TestRecordDuplicateMovesToFront(t *testing.T) {
	recent := NewRecent(5)
	recent.Record(model.Identity{Username: "alice01"})
	recent.Record(model.Identity{Username: "bob02"})
	recent.Record(model.Identity{Username: "alice01", Name: "Alice Chen"})

	list := recent.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice01", list[0].Username)
	// 重复记录用最新的身份信息覆盖
	assert.Equal(t, "Alice Chen", list[0].Name)
}

func TestRecordEvictsOldestBeyondCapacity(t *testing.T) {
	recent := NewRecent(3)
	for i := 1; i <= 4; i++ {
		recent.Record(model.Identity{Username: fmt.Sprintf("user%d", i)})
	}

	list := recent.List()
	require.Len(t, list, 3)
	assert.Equal(t, "user4", list[0].Username)
	assert.Equal(t, "user2", list[2].Username)
}

func TestRecordIgnoresEmptyContact(t *testing.T) {
	recent := NewRecent(5)
	recent.Record(model.Identity{})
	assert.Equal(t, 0, recent.Len())
}

func TestEmailOnlyContactsMatchByEmail(t *testing.T) {
	recent := NewRecent(5)
	recent.Record(model.Identity{Email: "carol@example.com"})
	recent.Record(model.Identity{Email: "carol@example.com"})

	assert.Equal(t, 1, recent.Len())
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	recent := NewRecent(0)
	for i := 0; i < DefaultCapacity+5; i++ {
		recent.Record(model.Identity{Username: fmt.Sprintf("user%d", i)})
	}
	assert.Equal(t, DefaultCapacity, recent.Len())
}
