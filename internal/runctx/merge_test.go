// SPDX-License-Identifier: Apache-2.0

package runctx

import (
	"reflect"
	"testing"
)

func TestMergeWritesAndRecordsOwner(t *testing.T) {
	ctx := map[string]any{}
	res := Merge(ctx, "scan_known_sources", nil, map[string]any{"queryId": "q1", "canonicalDocuments": []any{}})

	if len(res.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", res.Conflicts)
	}
	if !reflect.DeepEqual(res.Written, []string{"canonicalDocuments", "queryId"}) {
		t.Fatalf("unexpected written keys: %v", res.Written)
	}
	if Owners(ctx)["queryId"] != "scan_known_sources" {
		t.Fatalf("expected owner recorded, got %v", Owners(ctx))
	}
}

func TestMergeRefusesForeignKeyWithoutOwnership(t *testing.T) {
	ctx := map[string]any{}
	Merge(ctx, "scan_known_sources", nil, map[string]any{"queryId": "q1"})

	res := Merge(ctx, "search_iplo", nil, map[string]any{"queryId": "q2"})
	if len(res.Conflicts) != 1 || res.Conflicts[0].Owner != "scan_known_sources" {
		t.Fatalf("expected ownership conflict, got %+v", res.Conflicts)
	}
	if ctx["queryId"] != "q1" {
		t.Fatalf("expected queryId untouched, got %v", ctx["queryId"])
	}

	res = Merge(ctx, "search_iplo", []string{"queryId"}, map[string]any{"queryId": "q3"})
	if len(res.Conflicts) != 0 || ctx["queryId"] != "q3" {
		t.Fatalf("expected declared owner to overwrite, got %v %+v", ctx["queryId"], res.Conflicts)
	}
	if Owners(ctx)["queryId"] != "search_iplo" {
		t.Fatalf("expected owner updated, got %v", Owners(ctx))
	}
}

func TestMergeAllowsSeedKeysAndAbsentKeys(t *testing.T) {
	ctx := map[string]any{"onderwerp": "klimaat"}

	res := Merge(ctx, "any_action", nil, map[string]any{"onderwerp": "water"})
	if len(res.Conflicts) != 0 || ctx["onderwerp"] != "water" {
		t.Fatalf("expected unowned seed key to be writable, got %v %+v", ctx["onderwerp"], res.Conflicts)
	}

	Merge(ctx, "a", nil, map[string]any{"tmp": 1})
	delete(ctx, "tmp")
	res = Merge(ctx, "b", nil, map[string]any{"tmp": 2})
	if len(res.Conflicts) != 0 || ctx["tmp"] != 2 {
		t.Fatalf("expected absent key to be writable by any action, got %+v", res.Conflicts)
	}
}

func TestMergeRejectsBookkeepingKeys(t *testing.T) {
	ctx := map[string]any{KeyCurrentStep: "a"}
	res := Merge(ctx, "evil", nil, map[string]any{KeyCurrentStep: "b"})

	if len(res.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", res.Conflicts)
	}
	if ctx[KeyCurrentStep] != "a" {
		t.Fatalf("expected bookkeeping untouched, got %v", ctx[KeyCurrentStep])
	}
}

func TestMergeMetadataEntryByEntry(t *testing.T) {
	ctx := map[string]any{}
	Merge(ctx, "a", nil, map[string]any{KeyMetadata: map[string]any{"x": 1}})
	Merge(ctx, "b", nil, map[string]any{KeyMetadata: map[string]any{"y": 2}})

	meta := ctx[KeyMetadata].(map[string]any)
	if meta["x"] != 1 || meta["y"] != 2 {
		t.Fatalf("expected merged metadata, got %v", meta)
	}

	res := Merge(ctx, "c", nil, map[string]any{KeyMetadata: "nope"})
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected conflict for non-object metadata, got %+v", res.Conflicts)
	}
}

func TestRemoveKeys(t *testing.T) {
	ctx := map[string]any{"a": 1, "b": 2, KeyWorkflowID: "wf"}
	removed := RemoveKeys(ctx, []string{"b", "a", "missing", KeyWorkflowID})

	if !reflect.DeepEqual(removed, []string{"a", "b"}) {
		t.Fatalf("unexpected removed keys: %v", removed)
	}
	if _, ok := ctx[KeyWorkflowID]; !ok {
		t.Fatal("expected bookkeeping key kept")
	}
}
