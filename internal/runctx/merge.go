// SPDX-License-Identifier: Apache-2.0

package runctx

import (
	"fmt"
	"sort"
)

// Conflict is a result key the merge refused to write.
type Conflict struct {
	Key    string
	Owner  string
	Reason string
}

func (c Conflict) String() string {
	if c.Owner != "" {
		return fmt.Sprintf("%s: %s (owned by %s)", c.Key, c.Reason, c.Owner)
	}
	return fmt.Sprintf("%s: %s", c.Key, c.Reason)
}

// MergeResult reports what a merge wrote and what it refused.
type MergeResult struct {
	Written   []string
	Conflicts []Conflict
}

// Merge applies a step result to ctx in place (shallow, top level).
//
// A present key last written by another action is overwritten only when
// actionID declares it in owned. Bookkeeping keys are never written. The metadata
// map is merged entry by entry.
func Merge(ctx map[string]any, actionID string, owned []string, data map[string]any) MergeResult {
	var res MergeResult
	if len(data) == 0 {
		return res
	}

	ownedSet := make(map[string]struct{}, len(owned))
	for _, k := range owned {
		ownedSet[k] = struct{}{}
	}
	owners := Owners(ctx)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := data[key]

		if IsInternal(key) {
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Reason: "reserved bookkeeping key"})
			continue
		}

		if key == KeyMetadata {
			incoming, ok := asMap(val)
			if !ok {
				res.Conflicts = append(res.Conflicts, Conflict{Key: key, Reason: "metadata must be an object"})
				continue
			}
			existing, _ := asMap(ctx[KeyMetadata])
			merged := Clone(existing)
			for mk, mv := range incoming {
				merged[mk] = mv
			}
			ctx[KeyMetadata] = merged
			res.Written = append(res.Written, key)
			continue
		}

		owner := owners[key]
		_, exists := ctx[key]
		if _, declared := ownedSet[key]; exists && owner != "" && owner != actionID && !declared {
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Owner: owner, Reason: "written by another action"})
			continue
		}

		ctx[key] = val
		owners[key] = actionID
		res.Written = append(res.Written, key)
	}

	if len(res.Written) > 0 {
		ownersOut := make(map[string]any, len(owners))
		for k, v := range owners {
			ownersOut[k] = v
		}
		ctx[KeyOwners] = ownersOut
	}
	return res
}

// RemoveKeys deletes non-bookkeeping keys from ctx and returns the ones removed.
func RemoveKeys(ctx map[string]any, keys []string) []string {
	removed := make([]string, 0, len(keys))
	for _, k := range keys {
		if IsInternal(k) {
			continue
		}
		if _, ok := ctx[k]; ok {
			delete(ctx, k)
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return removed
}
