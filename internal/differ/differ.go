// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package differ computes the delta between two item snapshots.
//
// Both inputs are sorted by id in descending order and merged with two
// cursors. The order of the resulting changes is part of the contract:
// when a response is truncated, the tail is stored as pending changes, so
// the same inputs must always produce the same list.
package differ

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/MKhiriev/go-activesync-state/models"
)

// Diff returns the changes that turn old into cur.
//
//   - equal ids: a FLAGS change when both carry flags and they differ,
//     followed by a CHANGE when mod differs;
//   - id only in old: DELETE;
//   - id only in cur: CHANGE marked as a new message.
func Diff(old, cur []models.Stat) []models.Change {
	o := sortedDesc(old)
	n := sortedDesc(cur)

	var changes []models.Change
	i, j := 0, 0
	for i < len(o) && j < len(n) {
		switch c := compareIDs(o[i].ID, n[j].ID); {
		case c == 0:
			if o[i].Flags.IsSet() && n[j].Flags.IsSet() && !o[i].Flags.Equal(n[j].Flags) {
				changes = append(changes, fromStat(n[j], models.ChangeTypeFlags))
			}
			if o[i].Mod != n[j].Mod {
				changes = append(changes, fromStat(n[j], models.ChangeTypeChange))
			}
			i++
			j++
		case c > 0:
			changes = append(changes, fromStat(o[i], models.ChangeTypeDelete))
			i++
		default:
			changes = append(changes, added(n[j]))
			j++
		}
	}
	for ; i < len(o); i++ {
		changes = append(changes, fromStat(o[i], models.ChangeTypeDelete))
	}
	for ; j < len(n); j++ {
		changes = append(changes, added(n[j]))
	}

	return changes
}

func fromStat(s models.Stat, t models.ChangeType) models.Change {
	return models.Change{
		ID:       s.ID,
		Type:     t,
		Mod:      s.Mod,
		Parent:   s.Parent,
		ServerID: s.ServerID,
		Flags:    s.Flags,
	}
}

func added(s models.Stat) models.Change {
	ch := fromStat(s, models.ChangeTypeChange)
	ch.NewMessage = true
	return ch
}

func sortedDesc(in []models.Stat) []models.Stat {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b models.Stat) int {
		return compareIDs(b.ID, a.ID)
	})
	return out
}

// compareIDs is a total order on ids: numeric ids sort by value below
// every non-numeric id, non-numeric ids sort lexically. Numeric ids of
// equal value ("7", "07") fall back to the lexical order.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	anum, bnum := aerr == nil, berr == nil
	switch {
	case anum && !bnum:
		return -1
	case !anum && bnum:
		return 1
	case anum && bnum && ai != bi:
		return cmp.Compare(ai, bi)
	}
	return strings.Compare(a, b)
}
