package cli

import (
	"encoding/json"
	"io"

	"github.com/MKhiriev/go-activesync-state/models"
)

type jsonDevice struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	DeviceType string `json:"device_type"`
	UserAgent  string `json:"user_agent"`
	PolicyKey  int64  `json:"policy_key"`
	WipeStatus string `json:"wipe_status"`
}

func toJSONDevices(devices []models.Device) []jsonDevice {
	out := make([]jsonDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, jsonDevice{
			ID:         d.ID,
			User:       d.User,
			DeviceType: d.DeviceType,
			UserAgent:  d.UserAgent,
			PolicyKey:  d.PolicyKey,
			WipeStatus: d.RWStatus.String(),
		})
	}
	return out
}

type jsonSweep struct {
	Removed    int64  `json:"removed"`
	StaleAfter string `json:"stale_after"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
