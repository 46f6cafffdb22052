// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func okHandler(data map[string]any) Handler {
	return func(context.Context, map[string]any, uuid.UUID) Result {
		return Ok(data)
	}
}

func TestRegisterDuplicateKeepsFirst(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("a", okHandler(map[string]any{"first": true})); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register("a", okHandler(map[string]any{"second": true}))
	if !errors.Is(err, ErrDuplicateAction) {
		t.Fatalf("expected ErrDuplicateAction, got %v", err)
	}

	h, ok := r.Lookup("a")
	if !ok {
		t.Fatal("expected action a to be registered")
	}
	res := h(context.Background(), nil, uuid.New())
	if res.Data["first"] != true {
		t.Fatalf("expected first handler to remain, got %v", res.Data)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", okHandler(nil)); err == nil {
		t.Fatal("expected error for empty id")
	}
	if err := r.Register("x", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestRegistryOptionsAndIDs(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("b", okHandler(nil), WithOwnedKeys("geometry", "rawDocumentsBySource"), WithDescription("dso lookup"))
	_ = r.Register("a", okHandler(nil))

	if got := r.IDs(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected ids: %v", got)
	}
	if got := r.OwnedKeys("b"); !reflect.DeepEqual(got, []string{"geometry", "rawDocumentsBySource"}) {
		t.Fatalf("unexpected owned keys: %v", got)
	}
	if r.OwnedKeys("missing") != nil {
		t.Fatal("expected nil owned keys for unknown action")
	}
	if r.Description("b") != "dso lookup" {
		t.Fatalf("unexpected description %q", r.Description("b"))
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", BadRequest("identificatie", "is required"), true},
		{"wrapped bad request", fmt.Errorf("step: %w", BadRequest("x", "y")), true},
		{"unknown action", &UnknownActionError{ActionID: "nope"}, true},
		{"configuration", &ConfigurationError{Setting: "DSO_API_KEY"}, true},
		{"transient", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Fatalf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestResultConstructors(t *testing.T) {
	if Ok(nil).Kind != KindOk || Ok(nil).Failed() {
		t.Fatal("unexpected ok result")
	}
	e := Empty("geometry not found", map[string]any{"geometry": nil})
	if e.Kind != KindEmpty || e.Reason != "geometry not found" {
		t.Fatalf("unexpected empty result %+v", e)
	}
	f := Fatal(errors.New("boom"))
	if !f.Failed() || f.Err == nil {
		t.Fatalf("unexpected fatal result %+v", f)
	}
	if KindEmpty.String() != "empty" {
		t.Fatalf("unexpected kind string %q", KindEmpty.String())
	}
}

func TestErrorMessages(t *testing.T) {
	if got := BadRequest("identificatie", "is required").Error(); got != "bad request: identificatie: is required" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (&ConfigurationError{Setting: "DSO_API_KEY"}).Error(); got != "missing configuration: DSO_API_KEY" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestParams(t *testing.T) {
	params := map[string]any{
		"onderwerp":        "  klimaat ",
		"limit":            float64(10),
		"selectedWebsites": []any{"https://a.nl", " ", 3, "https://b.nl"},
		"single":           "https://c.nl",
		"websiteData":      map[string]any{"x": 1},
		"docs":             []any{map[string]any{"id": "1"}, "skip"},
	}

	if got := StringParam(params, "onderwerp"); got != "klimaat" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := StringParam(params, "limit"); got != "10" {
		t.Fatalf("unexpected number formatting %q", got)
	}
	if got := StringSliceParam(params, "selectedWebsites"); !reflect.DeepEqual(got, []string{"https://a.nl", "https://b.nl"}) {
		t.Fatalf("unexpected slice %v", got)
	}
	if got := StringSliceParam(params, "single"); len(got) != 1 {
		t.Fatalf("expected single string to become a slice, got %v", got)
	}
	if got := StringSliceParam(params, "missing"); len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
	if m, ok := MapParam(params, "websiteData"); !ok || m["x"] != 1 {
		t.Fatalf("unexpected map %v", m)
	}
	if got := MapSliceParam(params, "docs"); len(got) != 1 {
		t.Fatalf("expected one object, got %v", got)
	}

	_, err := RequireString(params, "identificatie")
	var bad *BadRequestError
	if !errors.As(err, &bad) || bad.Field != "identificatie" {
		t.Fatalf("expected BadRequestError for identificatie, got %v", err)
	}
}
