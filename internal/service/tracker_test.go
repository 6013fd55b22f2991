package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

var inbox = models.CollectionContext{Class: models.ClassEmail, ID: "m1", ServerID: "INBOX"}

func TestChangeTracker_MailFlagsAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.m.tracker
	key := synckey.Format(testSeries, 3)

	rec := func(c models.Change) ClientChangeRecord {
		return ClientChangeRecord{
			DeviceID: testDevice, User: testUser, FolderID: inbox.ID,
			Class: inbox.Class, SyncKey: key, Change: c,
		}
	}
	require.NoError(t, tr.RecordClientChange(ctx, rec(models.Change{
		ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true)},
	})))
	require.NoError(t, tr.RecordClientChange(ctx, rec(models.Change{ID: "11", Type: models.ChangeTypeDelete})))

	has, err := env.store.HasClientChanges(ctx, testDevice, testUser, inbox.ID, true)
	require.NoError(t, err)
	assert.True(t, has)

	current, _ := synckey.Parse(synckey.Format(testSeries, 4))
	changes, err := tr.Reconcile(ctx, testDevice, testUser, inbox, current, []models.Change{
		{ID: "12", Type: models.ChangeTypeChange},
		{ID: "11", Type: models.ChangeTypeDelete},
		{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true)}},
		{ID: "11", Type: models.ChangeTypeChange},
	})
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.False(t, changes[0].Ignore)
	assert.True(t, changes[1].Ignore)
	assert.True(t, changes[2].Ignore)
	assert.False(t, changes[3].Ignore, "a delete does not hide a change")
}

func TestChangeTracker_MailFlagValues(t *testing.T) {
	ctx := context.Background()
	key := synckey.Format(testSeries, 3)
	current, _ := synckey.Parse(synckey.Format(testSeries, 4))

	tests := []struct {
		name   string
		client models.Change
		server models.Change
		ignore bool
	}{
		{
			name:   "same read value",
			client: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true)}},
			server: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true)}},
			ignore: true,
		},
		{
			name:   "read value changed elsewhere",
			client: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true)}},
			server: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(false)}},
			ignore: false,
		},
		{
			name:   "flag the device never set",
			client: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true)}},
			server: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(true), Flagged: models.Bool(true)}},
			ignore: false,
		},
		{
			name:   "server flags without values",
			client: models.Change{ID: "10", Type: models.ChangeTypeFlags, Flags: &models.Flags{Flagged: models.Bool(true)}},
			server: models.Change{ID: "10", Type: models.ChangeTypeFlags},
			ignore: false,
		},
		{
			name:   "change with flags is recorded as flags",
			client: models.Change{ID: "20", Type: models.ChangeTypeChange, Flags: &models.Flags{Read: models.Bool(true)}},
			server: models.Change{ID: "20", Type: models.ChangeTypeChange},
			ignore: true,
		},
		{
			name:   "change with flags matched by value",
			client: models.Change{ID: "20", Type: models.ChangeTypeChange, Flags: &models.Flags{Read: models.Bool(true)}},
			server: models.Change{ID: "20", Type: models.ChangeTypeFlags, Flags: &models.Flags{Read: models.Bool(false)}},
			ignore: false,
		},
		{
			name:   "plain change",
			client: models.Change{ID: "21", Type: models.ChangeTypeChange},
			server: models.Change{ID: "21", Type: models.ChangeTypeChange},
			ignore: true,
		},
		{
			name:   "other message",
			client: models.Change{ID: "21", Type: models.ChangeTypeChange},
			server: models.Change{ID: "22", Type: models.ChangeTypeChange},
			ignore: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tr := env.m.tracker

			require.NoError(t, tr.RecordClientChange(ctx, ClientChangeRecord{
				DeviceID: testDevice, User: testUser, FolderID: inbox.ID,
				Class: inbox.Class, SyncKey: key, Change: tt.client,
			}))

			changes, err := tr.Reconcile(ctx, testDevice, testUser, inbox, current, []models.Change{tt.server})
			require.NoError(t, err)
			require.Len(t, changes, 1)
			assert.Equal(t, tt.ignore, changes[0].Ignore)
		})
	}
}

func TestChangeTracker_MailAdditionKeepsClientID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.m.tracker.RecordClientChange(ctx, ClientChangeRecord{
		DeviceID: testDevice, User: testUser, FolderID: inbox.ID, Class: inbox.Class,
		SyncKey: synckey.Format(testSeries, 3), ClientID: "draft-1",
		Change: models.Change{ID: "30", Type: models.ChangeTypeChange, Mod: 5},
	}))

	uid, ok, err := env.m.tracker.IsDuplicateAddition(ctx, testDevice, testUser, "draft-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "30", uid)
}

func TestChangeTracker_OutsideWindowIsNotSuppressed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.m.tracker

	require.NoError(t, tr.RecordClientChange(ctx, ClientChangeRecord{
		DeviceID: testDevice, User: testUser, FolderID: contacts.ID, Class: contacts.Class,
		SyncKey: synckey.Format(testSeries, 1),
		Change:  models.Change{ID: "a", Type: models.ChangeTypeDelete, Mod: 9},
	}))

	current, _ := synckey.Parse(synckey.Format(testSeries, 5))
	changes, err := tr.Reconcile(ctx, testDevice, testUser, contacts, current, []models.Change{
		{ID: "a", Type: models.ChangeTypeDelete},
	})
	require.NoError(t, err)
	assert.False(t, changes[0].Ignore)
}

func TestChangeTracker_DeleteSuppressedWithoutStat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.m.tracker
	key := synckey.Format(testSeries, 2)

	require.NoError(t, tr.RecordClientChange(ctx, ClientChangeRecord{
		DeviceID: testDevice, User: testUser, FolderID: contacts.ID, Class: contacts.Class,
		SyncKey: key,
		Change:  models.Change{ID: "a", Type: models.ChangeTypeDelete, Mod: 9},
	}))

	// no StatMessage expectation: deletes are decided from the map alone
	current, _ := synckey.Parse(key)
	changes, err := tr.Reconcile(ctx, testDevice, testUser, contacts, current, []models.Change{
		{ID: "a", Type: models.ChangeTypeDelete},
	})
	require.NoError(t, err)
	assert.True(t, changes[0].Ignore)
}

func TestChangeTracker_NewerServerVersionIsSent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.m.tracker
	key := synckey.Format(testSeries, 2)

	require.NoError(t, tr.RecordClientChange(ctx, ClientChangeRecord{
		DeviceID: testDevice, User: testUser, FolderID: contacts.ID, Class: contacts.Class,
		SyncKey: key,
		Change:  models.Change{ID: "a", Type: models.ChangeTypeChange, Mod: 9},
	}))
	env.backend.EXPECT().StatMessage(gomock.Any(), contacts.ServerID, "a").Return(models.Stat{ID: "a", Mod: 15}, nil)

	current, _ := synckey.Parse(key)
	changes, err := tr.Reconcile(ctx, testDevice, testUser, contacts, current, []models.Change{
		{ID: "a", Type: models.ChangeTypeChange, Mod: 15},
	})
	require.NoError(t, err)
	assert.False(t, changes[0].Ignore)
}

func TestChangeTracker_StatError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.m.tracker
	key := synckey.Format(testSeries, 2)

	require.NoError(t, tr.RecordClientChange(ctx, ClientChangeRecord{
		DeviceID: testDevice, User: testUser, FolderID: contacts.ID, Class: contacts.Class,
		SyncKey: key,
		Change:  models.Change{ID: "a", Type: models.ChangeTypeChange, Mod: 9},
	}))
	boom := errors.New("backend down")
	env.backend.EXPECT().StatMessage(gomock.Any(), contacts.ServerID, "a").Return(models.Stat{}, boom)

	current, _ := synckey.Parse(key)
	_, err := tr.Reconcile(ctx, testDevice, testUser, contacts, current, []models.Change{
		{ID: "a", Type: models.ChangeTypeChange},
	})
	assert.ErrorIs(t, err, boom)
}

func TestChangeTracker_IsDuplicateAddition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.m.Open(testDevice, testUser)
	key := env.seed(t, 2, contacts.ID, 0)

	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	require.NoError(t, s.UpdateState(ctx, models.Change{ID: "server-1", Type: models.ChangeTypeChange, Mod: 3}, models.OriginClient, "client-1"))

	uid, ok, err := s.IsDuplicateAddition(ctx, "client-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "server-1", uid)

	_, ok, err = s.IsDuplicateAddition(ctx, "client-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.IsDuplicateAddition(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
	s.Close()
}
