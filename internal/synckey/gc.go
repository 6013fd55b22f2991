// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package synckey

// Retained reports whether stored must survive garbage collection run for
// current. Only the current and the immediately prior generation of the
// same series are kept. Keys that do not parse or belong to another series
// share the collection slot with an abandoned sync and are swept.
func Retained(stored string, current Key) bool {
	k, err := Parse(stored)
	if err != nil {
		return false
	}
	if k.UUID != current.UUID {
		return false
	}
	return k.Counter >= current.Counter-1
}

// SelectGarbage returns the keys from stored that garbage collection for
// current should delete.
func SelectGarbage(stored []string, current Key) []string {
	var out []string
	for _, s := range stored {
		if !Retained(s, current) {
			out = append(out, s)
		}
	}
	return out
}

// Window returns the sync keys whose client change rows are still relevant
// for current: the current and the prior generation.
func Window(current Key) []string {
	if current.Counter <= 1 {
		return []string{current.String()}
	}
	return []string{current.String(), current.Previous().String()}
}

// SelectMapGarbage returns the keys of client change rows to delete: only
// older generations of the current series are pruned.
func SelectMapGarbage(stored []string, current Key) []string {
	var out []string
	for _, s := range stored {
		k, err := Parse(s)
		if err != nil || k.UUID != current.UUID {
			continue
		}
		if k.Counter < current.Counter-1 {
			out = append(out, s)
		}
	}
	return out
}
