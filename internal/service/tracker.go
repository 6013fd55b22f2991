// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package service

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/internal/synckey"
	"github.com/MKhiriev/go-activesync-state/models"
)

// ChangeTracker remembers which changes came from the device so the next
// server diff does not send them back.
type ChangeTracker struct {
	repo    store.ClientChangeRepository
	backend Backend
}

func NewChangeTracker(repo store.ClientChangeRepository, backend Backend) *ChangeTracker {
	return &ChangeTracker{
		repo:    repo,
		backend: backend,
	}
}

// ClientChangeRecord is one client originated change to remember.
type ClientChangeRecord struct {
	DeviceID string
	User     string
	FolderID string
	Class    models.Class
	SyncKey  string
	Change   models.Change
	ClientID string
}

// RecordClientChange stores a map row for rec. Mail changes go to the mail
// map, except additions that carry a client id. Everything else goes to
// the timestamped map.
func (t *ChangeTracker) RecordClientChange(ctx context.Context, rec ClientChangeRecord) error {
	log := logger.FromContext(ctx)

	c := rec.Change
	if rec.Class == models.ClassEmail && c.Type == models.ChangeTypeChange && c.Flags.IsSet() {
		c.Type = models.ChangeTypeFlags
	}

	if rec.Class == models.ClassEmail && (c.Type != models.ChangeTypeChange || rec.ClientID == "") {
		row := models.MailChange{
			MessageUID: c.ID,
			SyncKey:    rec.SyncKey,
			DeviceID:   rec.DeviceID,
			FolderID:   rec.FolderID,
			User:       rec.User,
			Deleted:    c.Type == models.ChangeTypeDelete,
		}
		if c.Type == models.ChangeTypeFlags && c.Flags != nil {
			row.Read, row.Flagged = c.Flags.Read, c.Flags.Flagged
		}
		if err := t.repo.InsertMailChange(ctx, row); err != nil {
			return fmt.Errorf("recording mail change: %w", err)
		}
	} else {
		err := t.repo.InsertClientChange(ctx, models.ClientChange{
			MessageUID: c.ID,
			ModTime:    c.Mod,
			SyncKey:    rec.SyncKey,
			DeviceID:   rec.DeviceID,
			FolderID:   rec.FolderID,
			User:       rec.User,
			ClientID:   rec.ClientID,
			Deleted:    c.Type == models.ChangeTypeDelete,
		})
		if err != nil {
			return fmt.Errorf("recording client change: %w", err)
		}
	}

	log.Debug().
		Str("func", "ChangeTracker.RecordClientChange").
		Str("message_uid", c.ID).
		Str("type", string(c.Type)).
		Str("sync_key", rec.SyncKey).
		Msg("client change recorded")
	return nil
}

// IsDuplicateAddition returns the server uid of an earlier addition with
// the same client id, so a retried add is not imported twice.
func (t *ChangeTracker) IsDuplicateAddition(ctx context.Context, deviceID, user, clientID string) (string, bool, error) {
	if clientID == "" {
		return "", false, nil
	}
	return t.repo.FindClientIDUID(ctx, deviceID, user, clientID)
}

// HasAnyClientChanges reports whether reconciliation has anything to look
// at. Email collections always answer true.
func (t *ChangeTracker) HasAnyClientChanges(ctx context.Context, deviceID, user string, col models.CollectionContext) (bool, error) {
	if col.Class == models.ClassEmail {
		return true, nil
	}
	return t.repo.HasClientChanges(ctx, deviceID, user, col.ID, false)
}

// LastClientChangeTimestamps returns the client change stamps of ids
// recorded in the current or the prior generation of current.
func (t *ChangeTracker) LastClientChangeTimestamps(ctx context.Context, deviceID, user string, ids []string, current synckey.Key) (map[string]models.ClientStamp, error) {
	return t.repo.ClientChangeTimestamps(ctx, deviceID, user, ids, synckey.Window(current))
}

// Reconcile marks the server changes the device already knows about with
// Ignore. Changes stay in the list so the session still folds them into
// the snapshot.
func (t *ChangeTracker) Reconcile(ctx context.Context, deviceID, user string, col models.CollectionContext, current synckey.Key, changes []models.Change) ([]models.Change, error) {
	log := logger.FromContext(ctx)

	if len(changes) == 0 {
		return changes, nil
	}
	have, err := t.HasAnyClientChanges(ctx, deviceID, user, col)
	if err != nil {
		return nil, err
	}
	if !have {
		log.Debug().
			Str("func", "ChangeTracker.Reconcile").
			Str("folder_id", col.ID).
			Msg("no client changes present, returning all changes")
		return changes, nil
	}

	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
	}

	if col.Class == models.ClassEmail {
		return t.reconcileMail(ctx, deviceID, user, current, ids, changes)
	}

	stamps, err := t.LastClientChangeTimestamps(ctx, deviceID, user, ids, current)
	if err != nil {
		return nil, err
	}

	folderID := col.ServerID
	if folderID == "" {
		folderID = col.ID
	}

	ignored := 0
	for i, c := range changes {
		ts, ok := stamps[c.ID]
		if !ok {
			continue
		}
		switch c.Type {
		case models.ChangeTypeDelete:
			if ts.Deleted > 0 {
				changes[i].Ignore = true
			}
		default:
			if ts.Changed == 0 {
				continue
			}
			stat, err := t.backend.StatMessage(ctx, folderID, c.ID)
			if err != nil {
				return nil, fmt.Errorf("stat message %s: %w", c.ID, err)
			}
			if ts.Changed >= stat.Mod {
				changes[i].Ignore = true
			}
		}
		if changes[i].Ignore {
			ignored++
			log.Debug().
				Str("func", "ChangeTracker.Reconcile").
				Str("message_uid", c.ID).
				Int64("client_ts", ts.Changed).
				Msg("ignoring client initiated change")
		}
	}

	log.Debug().
		Str("func", "ChangeTracker.Reconcile").
		Int("changes", len(changes)).
		Int("ignored", ignored).
		Msg("reconciled server changes")
	return changes, nil
}

func (t *ChangeTracker) reconcileMail(ctx context.Context, deviceID, user string, current synckey.Key, ids []string, changes []models.Change) ([]models.Change, error) {
	rows, err := t.repo.MailChanges(ctx, deviceID, user, ids, synckey.Window(current))
	if err != nil {
		return nil, err
	}
	seen := models.NewMailChangeSet(rows)

	for i, c := range changes {
		if seen.Mirrors(c) {
			changes[i].Ignore = true
			logger.FromContext(ctx).Debug().
				Str("func", "ChangeTracker.reconcileMail").
				Str("message_uid", c.ID).
				Str("type", string(c.Type)).
				Msg("ignoring client initiated mail change")
		}
	}
	return changes, nil
}
