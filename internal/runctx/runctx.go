// SPDX-License-Identifier: Apache-2.0

// Package runctx holds the helpers that operate on a run's context map:
// deep copies for checkpoints, the engine-owned bookkeeping keys, dotted
// path lookup for parameter mapping and the ownership-aware merge of step
// results.
package runctx

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Engine bookkeeping keys. Callers and actions cannot write them and
// rollback never restores or overwrites them. Step completion is tracked on
// the run record, outside the context.
const (
	KeyWorkflowID  = "__workflowId"
	KeyCurrentStep = "__currentStepId"
	KeyOwners      = "__keyOwners"
)

// KeyMetadata is open to every action and merged entry by entry.
const KeyMetadata = "metadata"

var internalKeys = map[string]struct{}{
	KeyWorkflowID:  {},
	KeyCurrentStep: {},
	KeyOwners:      {},
}

func IsInternal(key string) bool {
	_, ok := internalKeys[key]
	return ok
}

// InternalKeys returns the bookkeeping key set in a stable order.
func InternalKeys() []string {
	out := make([]string, 0, len(internalKeys))
	for k := range internalKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WithoutInternal deep-copies src without its bookkeeping keys.
func WithoutInternal(src map[string]any) map[string]any {
	out := Clone(src)
	for key := range internalKeys {
		delete(out, key)
	}
	return out
}

// Clone deep-copies a context map. Maps and slices are copied recursively;
// values of other composite types go through a JSON round trip so that no
// reference is shared with the source.
func Clone(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single context value.
func CloneValue(v any) any { return cloneValue(v) }

func cloneValue(v any) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(tv))
		for i, item := range tv {
			out[i] = Clone(item)
		}
		return out
	case []string:
		return append([]string(nil), tv...)
	case map[string]string:
		out := make(map[string]string, len(tv))
		for k, s := range tv {
			out[k] = s
		}
		return out
	case string, bool, time.Time, json.Number:
		return tv
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String, reflect.Bool:
		return v
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Lookup resolves a key or a dotted path ("rawDocumentsBySource.dso").
// An exact top-level key wins over path traversal.
func Lookup(ctx map[string]any, path string) (any, bool) {
	if v, ok := ctx[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var cur any = ctx
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		next, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Owners returns the key → action id map of the last writers.
func Owners(ctx map[string]any) map[string]string {
	out := map[string]string{}
	switch tv := ctx[KeyOwners].(type) {
	case map[string]string:
		for k, v := range tv {
			out[k] = v
		}
	case map[string]any:
		for k, v := range tv {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// Restore builds the context to persist when rolling back: the snapshot's
// user keys plus the bookkeeping keys of the current context.
func Restore(current, snapshot map[string]any) map[string]any {
	out := Clone(snapshot)
	for key := range internalKeys {
		delete(out, key)
		if v, ok := current[key]; ok {
			out[key] = cloneValue(v)
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch tv := v.(type) {
	case map[string]any:
		return tv, true
	case map[string]string:
		out := make(map[string]any, len(tv))
		for k, s := range tv {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}
