// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "fmt"

// RWStatus is the remote wipe status of a device.
type RWStatus int

const (
	RWStatusNA      RWStatus = 0
	RWStatusOK      RWStatus = 1
	RWStatusPending RWStatus = 2
	RWStatusWiped   RWStatus = 3
)

// WipeFlagged reports whether the device is pending a wipe or already wiped.
func (s RWStatus) WipeFlagged() bool {
	return s == RWStatusPending || s == RWStatusWiped
}

func (s RWStatus) String() string {
	switch s {
	case RWStatusNA:
		return "na"
	case RWStatusOK:
		return "ok"
	case RWStatusPending:
		return "pending"
	case RWStatusWiped:
		return "wiped"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Device is a device record together with the per-user policy key.
type Device struct {
	ID         string              `json:"id"`
	User       string              `json:"user"`
	DeviceType string              `json:"device_type"`
	UserAgent  string              `json:"user_agent"`
	PolicyKey  int64               `json:"policy_key"`
	RWStatus   RWStatus            `json:"rw_status"`
	Supported  map[string][]string `json:"supported,omitempty"`
	Properties map[string]string   `json:"properties,omitempty"`
}

// DeviceField names a mutable part of a device record for partial saves.
type DeviceField string

const (
	DeviceFieldType       DeviceField = "device_type"
	DeviceFieldUserAgent  DeviceField = "user_agent"
	DeviceFieldRWStatus   DeviceField = "rw_status"
	DeviceFieldSupported  DeviceField = "supported"
	DeviceFieldProperties DeviceField = "properties"
	DeviceFieldPolicyKey  DeviceField = "policy_key"
	DeviceFieldUser       DeviceField = "user"
)

// ApplyFields copies the dirty fields of src into d. With no fields every
// field is copied.
func (d *Device) ApplyFields(src Device, fields ...DeviceField) {
	if len(fields) == 0 {
		id, user := d.ID, d.User
		*d = src
		if id != "" {
			d.ID = id
		}
		if user != "" {
			d.User = user
		}
		return
	}
	for _, f := range fields {
		switch f {
		case DeviceFieldType:
			d.DeviceType = src.DeviceType
		case DeviceFieldUserAgent:
			d.UserAgent = src.UserAgent
		case DeviceFieldRWStatus:
			d.RWStatus = src.RWStatus
		case DeviceFieldSupported:
			d.Supported = src.Supported
		case DeviceFieldProperties:
			d.Properties = src.Properties
		case DeviceFieldPolicyKey:
			d.PolicyKey = src.PolicyKey
		case DeviceFieldUser:
			d.User = src.User
		}
	}
}

// DeviceFilter narrows ListDevices results. Empty fields match everything.
type DeviceFilter struct {
	DeviceType string
	UserAgent  string
	RWStatus   *RWStatus
}

// Match reports whether d satisfies the filter.
func (f DeviceFilter) Match(d Device) bool {
	if f.DeviceType != "" && f.DeviceType != d.DeviceType {
		return false
	}
	if f.UserAgent != "" && f.UserAgent != d.UserAgent {
		return false
	}
	if f.RWStatus != nil && *f.RWStatus != d.RWStatus {
		return false
	}
	return true
}
