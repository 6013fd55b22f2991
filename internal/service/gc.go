package service

import (
	"context"
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
)

// GarbageCollector prunes superseded state generations.
type GarbageCollector struct {
	repo store.StateRepository
}

func NewGarbageCollector(repo store.StateRepository) *GarbageCollector {
	return &GarbageCollector{repo: repo}
}

// Collect runs for an incoming key: rows of the collection older than the
// prior generation and rows of other series are removed, and so are the
// client change rows of the device and user in older generations.
func (g *GarbageCollector) Collect(ctx context.Context, deviceID, user, folderID string, current synckey.Key) error {
	logger.FromContext(ctx).Debug().
		Str("func", "GarbageCollector.Collect").
		Str("folder_id", folderID).
		Str("sync_key", current.String()).
		Msg("collecting superseded state")

	return g.repo.GarbageCollect(ctx, store.GCRequest{
		DeviceID: deviceID,
		User:     user,
		FolderID: folderID,
		Current:  current,
	})
}

// Sweep drops state not written for staleAfter, together with the client
// change rows of series left without state.
func (g *GarbageCollector) Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (int64, error) {
	return g.repo.PurgeStale(ctx, now.Add(-staleAfter))
}
