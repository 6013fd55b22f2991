package service

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MKhiriev/go-activesync-state/internal/codec"
	"github.com/MKhiriev/go-activesync-state/internal/config"
	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/mock"
	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

const (
	testDevice = "dev1"
	testUser   = "alice"
	testSeries = "0190f5c8-7d4e-7b1a-9c3e-5a8b2d6f1e40"
)

var contacts = models.CollectionContext{
	Class:    models.ClassContacts,
	ID:       "c1",
	ServerID: "srv-contacts",
}

type testEnv struct {
	m       *SessionManager
	backend *mock.MockBackend
	store   store.StateStore
	clock   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)

	st, err := store.NewFileStore(t.TempDir(), codec.New(codec.CompressionNone), logger.Nop())
	require.NoError(t, err)

	backend := mock.NewMockBackend(ctrl)
	env := &testEnv{
		backend: backend,
		store:   st,
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.m = NewSessionManager(st, backend, config.Session{
		MaxCollisionRetries: 3,
		PingLifetime:        time.Minute,
	}, logger.Nop())
	env.m.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) seed(t *testing.T, counter int64, folderID string, modStamp int64, items ...models.Stat) string {
	t.Helper()
	key := synckey.Format(testSeries, counter)
	require.NoError(t, e.store.SaveState(context.Background(), models.StateRecord{
		SyncKey:  key,
		DeviceID: testDevice,
		User:     testUser,
		FolderID: folderID,
		Snapshot: models.Snapshot{
			Class:        models.ClassContacts,
			CollectionID: folderID,
			Items:        items,
		},
		ModStamp:  modStamp,
		Timestamp: e.clock,
	}))
	return key
}

// ── load ──

func TestSession_LoadState_EmptyKeyStartsFresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.seed(t, 4, contacts.ID, 10, models.Stat{ID: "a", Mod: 1})

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, "", models.RequestSync))
	require.NoError(t, s.Save(ctx))

	key := s.CurrentSyncKey()
	k, err := synckey.Parse(key)
	require.NoError(t, err)
	assert.True(t, k.IsFirstInSeries())

	_, err = env.store.LoadState(ctx, testDevice, old)
	assert.ErrorIs(t, err, ErrStateGone)

	rec, err := env.store.LoadState(ctx, testDevice, key)
	require.NoError(t, err)
	assert.Empty(t, rec.Snapshot.Items)
	assert.Equal(t, int64(0), rec.ModStamp)
}

func TestSession_LoadState_InvalidKey(t *testing.T) {
	env := newTestEnv(t)
	s := env.m.Open(testDevice, testUser)

	err := s.LoadState(context.Background(), contacts, "not-a-key", models.RequestSync)
	assert.ErrorIs(t, err, ErrInvalidSyncKey)
	assert.Equal(t, 0, env.m.locks.Len(), "lock must be released on failure")
}

func TestSession_LoadState_UnknownKey(t *testing.T) {
	env := newTestEnv(t)
	s := env.m.Open(testDevice, testUser)

	err := s.LoadState(context.Background(), contacts, synckey.Format(testSeries, 3), models.RequestSync)
	assert.ErrorIs(t, err, ErrStateGone)
}

func TestSession_LoadState_KeyOfOtherCollection(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, 2, "other", 5)

	s := env.m.Open(testDevice, testUser)
	err := s.LoadState(context.Background(), contacts, key, models.RequestSync)
	assert.ErrorIs(t, err, ErrStateGone)
}

func TestSession_LoadState_CollectsOlderGenerations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k1 := env.seed(t, 1, contacts.ID, 0)
	k2 := env.seed(t, 2, contacts.ID, 0)
	k3 := env.seed(t, 3, contacts.ID, 0)

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, k3, models.RequestSync))
	defer s.Close()

	_, err := env.store.LoadState(ctx, testDevice, k1)
	assert.ErrorIs(t, err, ErrStateGone)
	_, err = env.store.LoadState(ctx, testDevice, k2)
	assert.NoError(t, err)
}

func TestSession_LoadState_WaitsForCollectionLock(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, 2, contacts.ID, 0)

	s1 := env.m.Open(testDevice, testUser)
	require.NoError(t, s1.LoadState(context.Background(), contacts, key, models.RequestSync))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s2 := env.m.Open(testDevice, testUser)
	err := s2.LoadState(ctx, contacts, key, models.RequestSync)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s1.Close()
	require.NoError(t, s2.LoadState(context.Background(), contacts, key, models.RequestSync))
	s2.Close()
}

// ── sync cycle ──

func TestSession_SyncCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, "", models.RequestSync))
	require.NoError(t, s.Save(ctx))
	key1 := s.CurrentSyncKey()

	server := []models.Change{
		{ID: "b", Type: models.ChangeTypeChange, Mod: 7, NewMessage: true},
		{ID: "a", Type: models.ChangeTypeChange, Mod: 9, NewMessage: true},
	}
	env.backend.EXPECT().GetSyncStamp(gomock.Any(), contacts.ServerID, int64(0)).Return(int64(10), true, nil)
	env.backend.EXPECT().GetServerChanges(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req models.ServerChangesRequest) ([]models.Change, error) {
			assert.True(t, req.InitialSync)
			assert.Equal(t, int64(0), req.FromStamp)
			assert.Equal(t, int64(10), req.ToStamp)
			assert.Equal(t, contacts, req.Collection)
			return server, nil
		})

	s = env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key1, models.RequestSync))
	changes, err := s.GetChanges(ctx, GetChangesOptions{})
	require.NoError(t, err)
	require.Len(t, changes, 2)

	// second call does not poll the backend again
	again, err := s.GetChanges(ctx, GetChangesOptions{})
	require.NoError(t, err)
	assert.Equal(t, changes, again)

	for _, c := range slices.Clone(changes) {
		require.NoError(t, s.UpdateState(ctx, c, models.OriginServer, ""))
	}
	require.NoError(t, s.Save(ctx))
	key2 := s.CurrentSyncKey()

	k1, _ := synckey.Parse(key1)
	k2, err := synckey.Parse(key2)
	require.NoError(t, err)
	assert.Equal(t, k1.Next(), k2)

	rec, err := env.store.LoadState(ctx, testDevice, key2)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.ModStamp)
	assert.Equal(t, []string{"a", "b"}, rec.Snapshot.SortedIDs())
	assert.Empty(t, rec.Pending)
}

func TestSession_PendingChangesCarryOver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.seed(t, 2, contacts.ID, 3)

	server := []models.Change{
		{ID: "c", Type: models.ChangeTypeChange, Mod: 4},
		{ID: "b", Type: models.ChangeTypeChange, Mod: 4},
		{ID: "a", Type: models.ChangeTypeChange, Mod: 4},
	}
	env.backend.EXPECT().GetSyncStamp(gomock.Any(), contacts.ServerID, int64(3)).Return(int64(4), true, nil)
	env.backend.EXPECT().GetServerChanges(gomock.Any(), gomock.Any()).Return(server, nil)

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	_, err := s.GetChanges(ctx, GetChangesOptions{MaxItems: 1})
	require.NoError(t, err)
	require.NoError(t, s.UpdateState(ctx, server[0], models.OriginServer, ""))
	require.NoError(t, s.Save(ctx))
	next := s.CurrentSyncKey()

	// no backend expectations: pending changes are served from the state
	s = env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, next, models.RequestSync))
	defer s.Close()
	changes, err := s.GetChanges(ctx, GetChangesOptions{})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "b", changes[0].ID)
	assert.Equal(t, "a", changes[1].ID)
}

func TestSession_GetChanges_StaleBackend(t *testing.T) {
	tests := []struct {
		name  string
		stamp int64
		ok    bool
	}{
		{name: "stamp moved backwards", stamp: 5, ok: true},
		{name: "folder changed", stamp: 20, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			key := env.seed(t, 2, contacts.ID, 10, models.Stat{ID: "a", Mod: 3}, models.Stat{ID: "b", Mod: 4})
			before, err := env.store.LoadState(ctx, testDevice, key)
			require.NoError(t, err)

			env.backend.EXPECT().GetSyncStamp(gomock.Any(), contacts.ServerID, int64(10)).Return(tt.stamp, tt.ok, nil)

			s := env.m.Open(testDevice, testUser)
			require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
			_, err = s.GetChanges(ctx, GetChangesOptions{})
			assert.ErrorIs(t, err, ErrStaleState)
			s.Close()

			after, err := env.store.LoadState(ctx, testDevice, key)
			require.NoError(t, err)
			assert.Equal(t, before.Snapshot, after.Snapshot)
			assert.Equal(t, before.ModStamp, after.ModStamp)
			assert.Equal(t, before.Pending, after.Pending)

			next, err := synckey.Next(key)
			require.NoError(t, err)
			_, err = env.store.LoadState(ctx, testDevice, next)
			assert.ErrorIs(t, err, store.ErrStateGone)

			// the client retries with the same key
			retry := env.m.Open(testDevice, testUser)
			require.NoError(t, retry.LoadState(ctx, contacts, key, models.RequestSync))
			assert.Equal(t, key, retry.CurrentSyncKey())
			retry.Close()
		})
	}
}

func TestSession_GetChanges_FullDiff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.seed(t, 2, contacts.ID, 3,
		models.Stat{ID: "1", Mod: 1},
		models.Stat{ID: "2", Mod: 1},
	)

	env.backend.EXPECT().GetSyncStamp(gomock.Any(), contacts.ServerID, int64(3)).Return(int64(8), true, nil)
	env.backend.EXPECT().GetMessageList(gomock.Any(), contacts.ServerID, time.Time{}).Return([]models.Stat{
		{ID: "2", Mod: 5},
		{ID: "3", Mod: 1},
	}, nil)

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	defer s.Close()
	changes, err := s.GetChanges(ctx, GetChangesOptions{FullDiff: true})
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, "3", changes[0].ID)
	assert.True(t, changes[0].NewMessage)
	assert.Equal(t, "2", changes[1].ID)
	assert.Equal(t, models.ChangeTypeChange, changes[1].Type)
	assert.Equal(t, "1", changes[2].ID)
	assert.Equal(t, models.ChangeTypeDelete, changes[2].Type)
}

func TestSession_ClientChangeIsNotEchoed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.seed(t, 2, contacts.ID, 5, models.Stat{ID: "a", Mod: 5})

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	require.NoError(t, s.UpdateState(ctx, models.Change{ID: "a", Type: models.ChangeTypeChange, Mod: 20}, models.OriginClient, ""))
	require.NoError(t, s.Save(ctx))
	next := s.CurrentSyncKey()

	env.backend.EXPECT().GetSyncStamp(gomock.Any(), contacts.ServerID, int64(5)).Return(int64(20), true, nil)
	env.backend.EXPECT().GetServerChanges(gomock.Any(), gomock.Any()).Return([]models.Change{
		{ID: "b", Type: models.ChangeTypeChange, Mod: 18},
		{ID: "a", Type: models.ChangeTypeChange, Mod: 20},
	}, nil)
	env.backend.EXPECT().StatMessage(gomock.Any(), contacts.ServerID, "a").Return(models.Stat{ID: "a", Mod: 20}, nil)

	s = env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, next, models.RequestSync))
	defer s.Close()
	changes, err := s.GetChanges(ctx, GetChangesOptions{})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.False(t, changes[0].Ignore)
	assert.True(t, changes[1].Ignore)
}

func TestSession_PingSkipsReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.seed(t, 2, contacts.ID, 5)
	require.NoError(t, env.store.InsertClientChange(ctx, models.ClientChange{
		MessageUID: "a", ModTime: 20, SyncKey: key,
		DeviceID: testDevice, FolderID: contacts.ID, User: testUser,
	}))

	env.backend.EXPECT().GetSyncStamp(gomock.Any(), contacts.ServerID, int64(5)).Return(int64(20), true, nil)
	env.backend.EXPECT().GetServerChanges(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req models.ServerChangesRequest) ([]models.Change, error) {
			assert.True(t, req.PingOnly)
			return []models.Change{{ID: "a", Type: models.ChangeTypeChange, Mod: 20}}, nil
		})

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	defer s.Close()
	changes, err := s.GetChanges(ctx, GetChangesOptions{Ping: true})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Ignore)
}

// ── folder sync ──

func TestSession_FolderSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.backend.EXPECT().GetFolderList(gomock.Any()).Return([]models.Stat{
		{ID: "f1", Mod: 1},
		{ID: "f2", Mod: 1, Parent: "f1"},
	}, nil)
	env.backend.EXPECT().StatFolder(gomock.Any(), "f1").Return(models.Stat{ID: "f1", Mod: 1, ServerID: "INBOX"}, nil)
	env.backend.EXPECT().StatFolder(gomock.Any(), "f2").Return(models.Stat{ID: "f2", Mod: 1, Parent: "f1", ServerID: "INBOX/sub"}, nil)

	s := env.m.Open(testDevice, testUser)
	_, err := s.GetKnownFolders()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, s.LoadState(ctx, models.CollectionContext{}, "", models.RequestFolderSync))
	changes, err := s.GetChanges(ctx, GetChangesOptions{})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	for _, c := range slices.Clone(changes) {
		require.NoError(t, s.UpdateState(ctx, c, models.OriginServer, ""))
	}
	require.NoError(t, s.Save(ctx))
	key := s.CurrentSyncKey()

	rec, err := env.store.LoadState(ctx, testDevice, key)
	require.NoError(t, err)
	assert.Equal(t, models.FolderSyncCollection, rec.FolderID)
	assert.Empty(t, rec.Pending)

	s = env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, models.CollectionContext{}, key, models.RequestFolderSync))
	defer s.Close()
	folders, err := s.GetKnownFolders()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "f2"}, folders)

	// a folder created by the device goes straight into the snapshot
	require.NoError(t, s.UpdateState(ctx, models.Change{ID: "f3", Type: models.ChangeTypeChange}, models.OriginClient, ""))
	folders, _ = s.GetKnownFolders()
	assert.Contains(t, folders, "f3")
}

// ── state machine ──

func TestSession_StateMachine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.m.Open(testDevice, testUser)

	assert.ErrorIs(t, s.Save(ctx), ErrInvalidState)
	_, err := s.GetChanges(ctx, GetChangesOptions{})
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.ErrorIs(t, s.UpdateState(ctx, models.Change{ID: "a"}, models.OriginServer, ""), ErrNotLoaded)

	key := env.seed(t, 2, contacts.ID, 0)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	err = s.UpdateState(ctx, models.Change{ID: "a"}, models.OriginServer, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Save(ctx))
	assert.ErrorIs(t, s.Save(ctx), ErrInvalidState)
	assert.Equal(t, 0, env.m.locks.Len())
}

func TestSession_SyncKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.seed(t, 1, contacts.ID, 0)

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	defer s.Close()
	assert.Equal(t, key, s.CurrentSyncKey())

	next, err := s.NewSyncKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, synckey.Format(testSeries, 2), next)
	again, _ := s.NewSyncKey(ctx)
	assert.Equal(t, next, again)

	assert.ErrorIs(t, s.SetNewSyncKey("bogus"), ErrInvalidSyncKey)
	require.NoError(t, s.SetNewSyncKey(synckey.Format(testSeries, 7)))
	got, _ := s.NewSyncKey(ctx)
	assert.Equal(t, synckey.Format(testSeries, 7), got)

	collides, err := s.CheckCollision(ctx, key)
	require.NoError(t, err)
	assert.True(t, collides)
	collides, err = s.CheckCollision(ctx, synckey.Format(testSeries, 2))
	require.NoError(t, err)
	assert.False(t, collides)
	collides, err = s.CheckCollision(ctx, "{0190f5c8-7d4e-7b1a-9c3e-5a8b2d6f1e41}1")
	require.NoError(t, err)
	assert.False(t, collides)

	latest, err := s.LatestSyncKeyForCollection(ctx, contacts.ID)
	require.NoError(t, err)
	assert.Equal(t, key, latest)
}

func TestSession_IsConflict(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, 2, contacts.ID, 10)
	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(context.Background(), contacts, key, models.RequestSync))
	defer s.Close()

	tests := []struct {
		name string
		mod  int64
		t    models.ChangeType
		want bool
	}{
		{"newer change", 11, models.ChangeTypeChange, true},
		{"newer delete", 11, models.ChangeTypeDelete, true},
		{"newer flags", 11, models.ChangeTypeFlags, false},
		{"same stamp", 10, models.ChangeTypeChange, false},
		{"older", 3, models.ChangeTypeDelete, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsConflict(models.Stat{ID: "x", Mod: tt.mod}, tt.t))
		})
	}
}

func TestSession_UpdateServerIDInState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.seed(t, 2, contacts.ID, 0)

	s := env.m.Open(testDevice, testUser)
	require.NoError(t, s.LoadState(ctx, contacts, key, models.RequestSync))
	require.NoError(t, s.UpdateServerIDInState(ctx, contacts.ID, "renamed"))
	require.NoError(t, s.Save(ctx))

	rec, err := env.store.LoadState(ctx, testDevice, s.CurrentSyncKey())
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.Snapshot.ServerID)
}

// ── device ──

func TestSession_Device(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.m.Open(testDevice, testUser)

	assert.ErrorIs(t, s.SetPolicyKey(ctx, 1), ErrDeviceNotLoaded)
	assert.ErrorIs(t, s.SetDeviceRWStatus(ctx, models.RWStatusOK), ErrDeviceNotLoaded)
	_, err := s.GetLastSyncTimestamp(ctx)
	assert.ErrorIs(t, err, ErrDeviceNotLoaded)

	exists, err := s.DeviceExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.SetDeviceInfo(ctx, models.Device{DeviceType: "iPhone", UserAgent: "Apple-iPhone/1"}))
	require.NoError(t, s.SetPolicyKey(ctx, 42))

	d, err := s.LoadDeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), d.PolicyKey)
	assert.Equal(t, "iPhone", d.DeviceType)

	require.NoError(t, s.SetDeviceRWStatus(ctx, models.RWStatusPending))
	d, err = s.LoadDeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RWStatusPending, d.RWStatus)
	assert.Equal(t, int64(0), d.PolicyKey)

	env.seed(t, 2, contacts.ID, 0)
	ts, err := s.GetLastSyncTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, env.clock.Equal(ts))
}

// ── sync cache and ping ──

func TestSession_ValidateCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s1 := env.m.Open(testDevice, testUser)
	cache, err := s1.GetSyncCache(ctx)
	require.NoError(t, err)
	cache.Wait = 5
	require.NoError(t, s1.SaveSyncCache(ctx, &cache))

	ok, err := s1.ValidateCache(ctx, cache)
	require.NoError(t, err)
	assert.True(t, ok)

	env.clock = env.clock.Add(time.Minute)
	s2 := env.m.Open(testDevice, testUser)
	other, err := s2.GetSyncCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, other.Wait)
	require.NoError(t, s2.SaveSyncCache(ctx, &other))

	ok, err = s1.ValidateCache(ctx, cache)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s1.DeleteSyncCache(ctx))
	gone, err := s1.GetSyncCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, gone.Wait)
}

func TestSession_Ping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.m.Open(testDevice, testUser)

	_, err := s.InitPingState(ctx)
	assert.ErrorIs(t, err, ErrDeviceNotLoaded)
	_, err = s.HeartbeatInterval()
	assert.ErrorIs(t, err, ErrPingStateNotInitialized)
	assert.ErrorIs(t, s.LoadPingCollectionState(ctx, contacts), ErrPingStateNotInitialized)

	require.NoError(t, s.SetDeviceInfo(ctx, models.Device{DeviceType: "Android"}))
	_, err = s.InitPingState(ctx)
	require.NoError(t, err)

	hb, err := s.HeartbeatInterval()
	require.NoError(t, err)
	assert.Equal(t, 60, hb)

	require.NoError(t, s.AddPingCollections([]models.CollectionContext{contacts}))
	require.NoError(t, s.SetHeartbeatInterval(480))
	require.NoError(t, s.SavePingState(ctx))

	// a collection that never synced
	err = s.LoadPingCollectionState(ctx, models.CollectionContext{Class: models.ClassCalendar, ID: "cal"})
	assert.ErrorIs(t, err, ErrStateGone)

	key := env.seed(t, 3, contacts.ID, 0)
	require.NoError(t, s.LoadPingCollectionState(ctx, contacts))
	assert.Equal(t, key, s.CurrentSyncKey())
	s.Close()

	other := env.m.Open(testDevice, testUser)
	require.NoError(t, other.SetDeviceInfo(ctx, models.Device{DeviceType: "Android"}, models.DeviceFieldType))
	cols, err := other.InitPingState(ctx)
	require.NoError(t, err)
	hb, err = other.HeartbeatInterval()
	require.NoError(t, err)
	assert.Equal(t, 480, hb)
	assert.True(t, cols[contacts.ID].Pingable)
	assert.True(t, cols["cal"].Pingable)
}
