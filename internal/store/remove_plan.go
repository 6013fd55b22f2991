// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import "github.com/MKhiriev/go-activesync-state/models"

// removalPlan is the backend independent description of a RemoveState call.
// Every backend executes the same plan.
type removalPlan struct {
	// rows of the state and client change tables matching all non-empty fields
	syncKey  string
	deviceID string
	user     string
	folderID string

	// cache rows, empty field matches any
	dropCache   bool
	cacheDevice string
	cacheUser   string

	// device user links
	dropUserLink bool // deviceID+user
	dropAllLinks bool // all links of user

	// device row of deviceID with all its links
	dropDevice bool

	// delete devices left without users, except wipe-flagged ones
	pruneOrphans bool
}

// planRemoval turns opts into a removalPlan. Wipe-flagged devices are kept
// when pruning, see keepOrphan.
func planRemoval(opts models.RemoveStateOptions) (removalPlan, error) {
	switch {
	case opts.DeviceID != "" && opts.User != "":
		p := removalPlan{
			deviceID: opts.DeviceID,
			user:     opts.User,
			folderID: opts.CollectionID,
		}
		if opts.CollectionID != "" {
			return p, nil
		}

		p.dropCache = true
		p.cacheDevice, p.cacheUser = opts.DeviceID, opts.User
		p.dropUserLink = true
		p.pruneOrphans = true
		return p, nil

	case opts.DeviceID != "":
		return removalPlan{
			deviceID:    opts.DeviceID,
			folderID:    opts.CollectionID,
			dropCache:   opts.CollectionID == "",
			cacheDevice: opts.DeviceID,
			dropDevice:  opts.CollectionID == "",
		}, nil

	case opts.User != "":
		return removalPlan{
			user:         opts.User,
			dropCache:    true,
			cacheUser:    opts.User,
			dropAllLinks: true,
			pruneOrphans: true,
		}, nil

	case opts.SyncKey != "":
		return removalPlan{syncKey: opts.SyncKey}, nil
	}

	return removalPlan{}, ErrInvalidRemoveOptions
}

// matchRow reports whether a state or client change row falls under the plan.
func (p removalPlan) matchRow(syncKey, deviceID, user, folderID string) bool {
	if p.syncKey != "" && p.syncKey != syncKey {
		return false
	}
	if p.deviceID != "" && p.deviceID != deviceID {
		return false
	}
	if p.user != "" && p.user != user {
		return false
	}
	if p.folderID != "" && p.folderID != folderID {
		return false
	}
	return true
}

// matchCache reports whether the cache row of deviceID and user is dropped.
func (p removalPlan) matchCache(deviceID, user string) bool {
	if !p.dropCache {
		return false
	}
	if p.cacheDevice != "" && p.cacheDevice != deviceID {
		return false
	}
	if p.cacheUser != "" && p.cacheUser != user {
		return false
	}
	return true
}

// matchLink reports whether the device user link is dropped.
func (p removalPlan) matchLink(deviceID, user string) bool {
	switch {
	case p.dropDevice:
		return deviceID == p.deviceID
	case p.dropUserLink:
		return deviceID == p.deviceID && user == p.user
	case p.dropAllLinks:
		return user == p.user
	}
	return false
}

// keepOrphan reports whether a device without users survives pruning.
func keepOrphan(d models.Device) bool {
	return d.RWStatus.WipeFlagged()
}

// touchesDevices reports whether the plan changes device records at all.
func (p removalPlan) touchesDevices() bool {
	return p.dropDevice || p.dropUserLink || p.dropAllLinks || p.pruneOrphans
}

// applyDevice drops the links of doc selected by the plan. It reports
// whether the whole document goes and whether it changed otherwise.
func (p removalPlan) applyDevice(doc *deviceDoc) (drop, changed bool) {
	id := doc.Device.ID
	if p.dropDevice && id == p.deviceID {
		return true, false
	}
	for u := range doc.Users {
		if p.matchLink(id, u) {
			delete(doc.Users, u)
			changed = true
		}
	}
	if p.pruneOrphans && len(doc.Users) == 0 && !keepOrphan(doc.Device) {
		return true, false
	}
	return false, changed
}
