// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"strings"

	"github.com/MKhiriev/go-activesync-state/internal/synckey"
)

// keyStamp is a stored sync key with the time its row was written.
type keyStamp struct {
	key string
	ts  int64
}

// latestKey picks the newest key: the latest write wins, a tie is broken by
// the higher counter.
func latestKey(keys []keyStamp) string {
	var (
		best    keyStamp
		bestCnt int64
	)
	for _, k := range keys {
		cnt, err := synckey.Counter(k.key)
		if err != nil {
			continue
		}
		if best.key == "" || k.ts > best.ts || (k.ts == best.ts && cnt > bestCnt) {
			best, bestCnt = k, cnt
		}
	}
	return best.key
}

// inSeries reports whether key belongs to the series uid ({uuid}).
func inSeries(key, uid string) bool {
	return strings.HasPrefix(key, uid)
}

// orphanKeys returns the keys whose series has no entry in live.
func orphanKeys(keys []string, live map[string]bool) []string {
	var out []string
	for _, k := range keys {
		uid, err := synckey.UID(k)
		if err != nil || !live[uid] {
			out = append(out, k)
		}
	}
	return out
}

// liveSeries collects the series ids of keys.
func liveSeries(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if uid, err := synckey.UID(k); err == nil {
			out[uid] = true
		}
	}
	return out
}
