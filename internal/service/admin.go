package service

import (
	"context"
	"fmt"
	"time"

	"github.com/MKhiriev/go-activesync-state/internal/logger"
	"github.com/MKhiriev/go-activesync-state/internal/store"
	"github.com/MKhiriev/go-activesync-state/models"
)

// AdminService runs the maintenance operations behind asctl.
type AdminService struct {
	store  store.StateStore
	gc     *GarbageCollector
	logger *logger.Logger
	now    func() time.Time
}

func NewAdminService(st store.StateStore, gc *GarbageCollector, logger *logger.Logger) *AdminService {
	return &AdminService{
		store:  st,
		gc:     gc,
		logger: logger,
		now:    time.Now,
	}
}

func (a *AdminService) ListDevices(ctx context.Context, user string, filter models.DeviceFilter) ([]models.Device, error) {
	ctx = a.logger.WithContext(ctx)
	devices, err := a.store.ListDevices(ctx, user, filter)
	if err != nil {
		a.logger.Err(err).
			Str("func", "AdminService.ListDevices").
			Str("user", user).
			Msg("error listing devices")
		return nil, err
	}
	return devices, nil
}

// RemoveState drops the state selected by opts. See store.StateStore for
// which selectors combine.
func (a *AdminService) RemoveState(ctx context.Context, opts models.RemoveStateOptions) error {
	ctx = a.logger.WithContext(ctx)
	if err := a.store.RemoveState(ctx, opts); err != nil {
		a.logger.Err(err).
			Str("func", "AdminService.RemoveState").
			Str("device_id", opts.DeviceID).
			Str("user", opts.User).
			Str("collection_id", opts.CollectionID).
			Str("sync_key", opts.SyncKey).
			Msg("error removing state")
		return err
	}
	a.logger.Info().
		Str("func", "AdminService.RemoveState").
		Str("device_id", opts.DeviceID).
		Str("user", opts.User).
		Str("collection_id", opts.CollectionID).
		Str("sync_key", opts.SyncKey).
		Msg("state removed")
	return nil
}

// Wipe requests a remote wipe of the device. The device learns about it on
// its next provisioning round, since the pending status drops its policy keys.
func (a *AdminService) Wipe(ctx context.Context, deviceID string) error {
	return a.setRWStatus(ctx, deviceID, models.RWStatusPending)
}

// CancelWipe returns a device to normal operation.
func (a *AdminService) CancelWipe(ctx context.Context, deviceID string) error {
	return a.setRWStatus(ctx, deviceID, models.RWStatusOK)
}

func (a *AdminService) setRWStatus(ctx context.Context, deviceID string, status models.RWStatus) error {
	ctx = a.logger.WithContext(ctx)
	if err := a.store.SetDeviceRWStatus(ctx, deviceID, status); err != nil {
		a.logger.Err(err).
			Str("func", "AdminService.setRWStatus").
			Str("device_id", deviceID).
			Str("status", status.String()).
			Msg("error setting remote wipe status")
		return err
	}
	a.logger.Info().
		Str("func", "AdminService.setRWStatus").
		Str("device_id", deviceID).
		Str("status", status.String()).
		Msg("remote wipe status set")
	return nil
}

// ResetPolicyKeys forces every device to provision again.
func (a *AdminService) ResetPolicyKeys(ctx context.Context) error {
	ctx = a.logger.WithContext(ctx)
	if err := a.store.ResetAllPolicyKeys(ctx); err != nil {
		a.logger.Err(err).
			Str("func", "AdminService.ResetPolicyKeys").
			Msg("error resetting policy keys")
		return err
	}
	a.logger.Info().
		Str("func", "AdminService.ResetPolicyKeys").
		Msg("policy keys reset")
	return nil
}

// Sweep drops state untouched for staleAfter.
func (a *AdminService) Sweep(ctx context.Context, staleAfter time.Duration) (int64, error) {
	if staleAfter <= 0 {
		return 0, fmt.Errorf("stale age must be positive, got %s", staleAfter)
	}
	ctx = a.logger.WithContext(ctx)
	n, err := a.gc.Sweep(ctx, a.now(), staleAfter)
	if err != nil {
		a.logger.Err(err).
			Str("func", "AdminService.Sweep").
			Dur("stale_after", staleAfter).
			Msg("error sweeping stale state")
		return 0, err
	}
	a.logger.Info().
		Str("func", "AdminService.Sweep").
		Dur("stale_after", staleAfter).
		Int64("removed", n).
		Msg("stale state swept")
	return n, nil
}
