package service

//go:generate mockgen -source=interfaces.go -destination=../mock/backend_mock.go -package=mock

import (
	"context"
	"time"

	"github.com/MKhiriev/go-activesync-state/models"
)

// Backend is the part of a mail/PIM driver the state core talks to.
type Backend interface {
	// GetSyncStamp returns the current modification stamp of a folder. ok is
	// false when the stamp is not obtainable or moved backwards from
	// lastStamp, which means another process changed the folder under us.
	GetSyncStamp(ctx context.Context, folderID string, lastStamp int64) (stamp int64, ok bool, err error)
	// GetServerChanges lists the changes between two stamps.
	GetServerChanges(ctx context.Context, req models.ServerChangesRequest) ([]models.Change, error)
	// GetFolderList returns every folder of the account. Mod carries the
	// display name hash, Parent the parent folder id.
	GetFolderList(ctx context.Context) ([]models.Stat, error)
	StatMessage(ctx context.Context, folderID, id string) (models.Stat, error)
	StatFolder(ctx context.Context, id string) (models.Stat, error)
	// GetMessageList returns the full item list of a folder, newer than cutoff.
	GetMessageList(ctx context.Context, folderID string, cutoff time.Time) ([]models.Stat, error)
}
