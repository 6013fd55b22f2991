package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-activesync-state/models"
)

func TestPlanRemoval_InvalidOptions(t *testing.T) {
	_, err := planRemoval(models.RemoveStateOptions{})
	assert.ErrorIs(t, err, ErrInvalidRemoveOptions)

	_, err = planRemoval(models.RemoveStateOptions{CollectionID: "inbox"})
	assert.ErrorIs(t, err, ErrInvalidRemoveOptions)
}

func TestPlanRemoval_DeviceUserKeepsWipeFlaggedDevice(t *testing.T) {
	plan, err := planRemoval(models.RemoveStateOptions{DeviceID: "dev1", User: "alice"})
	require.NoError(t, err)
	assert.True(t, plan.pruneOrphans)
	assert.True(t, plan.matchCache("dev1", "alice"))
	assert.False(t, plan.matchCache("dev1", "bob"))

	tests := []struct {
		name   string
		status models.RWStatus
		drop   bool
	}{
		{name: "ok", status: models.RWStatusOK, drop: true},
		{name: "pending", status: models.RWStatusPending, drop: false},
		{name: "wiped", status: models.RWStatusWiped, drop: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &deviceDoc{
				Device: models.Device{ID: "dev1", RWStatus: tt.status},
				Users:  map[string]int64{"alice": 1},
			}
			drop, _ := plan.applyDevice(doc)
			assert.Equal(t, tt.drop, drop)
			assert.Empty(t, doc.Users)
		})
	}
}

func TestPlanRemoval_CollectionOnlyKeepsLinks(t *testing.T) {
	plan, err := planRemoval(models.RemoveStateOptions{DeviceID: "dev1", User: "alice", CollectionID: "inbox"})
	require.NoError(t, err)
	assert.False(t, plan.touchesDevices())
	assert.False(t, plan.dropCache)
	assert.True(t, plan.matchRow("k", "dev1", "alice", "inbox"))
	assert.False(t, plan.matchRow("k", "dev1", "alice", "contacts"))

	doc := &deviceDoc{Device: models.Device{ID: "dev1"}, Users: map[string]int64{"alice": 1}}
	drop, changed := plan.applyDevice(doc)
	assert.False(t, drop)
	assert.False(t, changed)
	assert.Len(t, doc.Users, 1)
}
