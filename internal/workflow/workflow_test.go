// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
)

func TestBuiltinsAreValid(t *testing.T) {
	r := NewDefaultRegistry()
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 built-ins, got %d", len(list))
	}
	if list[0].ID != BeleidsscanWizardID || list[1].ID != StandardScanID {
		t.Fatalf("unexpected order: %s, %s", list[0].ID, list[1].ID)
	}

	wizard, ok := r.Get(BeleidsscanWizardID)
	if !ok {
		t.Fatal("expected wizard workflow")
	}
	if wizard.Steps[0].Action != ActionSearchDSOGeometry || !wizard.Steps[0].RollbackOnFailure {
		t.Fatalf("unexpected first wizard step %+v", wizard.Steps[0])
	}
	if wizard.Steps[1].MaxAttempts != 1 {
		t.Fatalf("expected attempts normalized to 1, got %d", wizard.Steps[1].MaxAttempts)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.Register(Definition{ID: StandardScanID, Steps: []StepSpec{{ID: "a", Action: "x"}}})
	if !errors.Is(err, ErrDuplicateWorkflow) {
		t.Fatalf("expected ErrDuplicateWorkflow, got %v", err)
	}
	def, _ := r.Get(StandardScanID)
	if len(def.Steps) != 3 {
		t.Fatalf("expected original definition intact, got %d steps", len(def.Steps))
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()
	def, _ := r.Get(StandardScanID)
	def.Steps[0].Action = "mutated"

	again, _ := r.Get(StandardScanID)
	if again.Steps[0].Action == "mutated" {
		t.Fatal("registry definition was mutated through Get")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing workflow")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	def := Definition{
		ID: "broken",
		Steps: []StepSpec{
			{ID: "a", Action: "x"},
			{ID: "a", Action: ""},
			{ID: "", Action: "y", MaxAttempts: -1, Params: []ParamMapping{{From: ""}}},
		},
	}
	err := def.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"duplicate step id", "action is required", "id is required", "maxAttempts", "params[0].from"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
	if err := (Definition{ID: "empty"}).Validate(); err == nil {
		t.Fatal("expected error for workflow without steps")
	}
}

func TestBuildParamsMappings(t *testing.T) {
	step := StepSpec{
		ID:     "s",
		Action: "x",
		Params: []ParamMapping{
			{From: "rawDocumentsBySource.dso", To: "dso"},
			{From: "onderwerp"},
			{From: "format", Default: "json"},
			{From: "optional"},
		},
	}
	ctx := map[string]any{
		"rawDocumentsBySource": map[string]any{"dso": []any{"doc"}},
		"onderwerp":            "bodem",
	}
	params, err := BuildParams(step, ctx)
	if err != nil {
		t.Fatalf("build params: %v", err)
	}
	if params["onderwerp"] != "bodem" || params["format"] != "json" {
		t.Fatalf("unexpected params %#v", params)
	}
	if _, ok := params["optional"]; ok {
		t.Fatal("absent optional value should be omitted")
	}
	dso := params["dso"].([]any)
	dso[0] = "changed"
	if ctx["rawDocumentsBySource"].(map[string]any)["dso"].([]any)[0] != "doc" {
		t.Fatal("params share memory with the run context")
	}
}

func TestBuildParamsRequired(t *testing.T) {
	step := StepSpec{ID: "s", Action: "x", Params: []ParamMapping{{From: "identificatie", Required: true}}}
	_, err := BuildParams(step, map[string]any{"identificatie": nil})
	var bad *action.BadRequestError
	if !errors.As(err, &bad) {
		t.Fatalf("expected BadRequestError, got %v", err)
	}
	if bad.Field != "identificatie" {
		t.Fatalf("unexpected field %q", bad.Field)
	}
}

func TestBuildParamsWithoutMappingsCopiesContext(t *testing.T) {
	ctx := map[string]any{
		"onderwerp":           "water",
		runctx.KeyCurrentStep: "a",
		runctx.KeyWorkflowID:  "wf",
	}
	params, err := BuildParams(StepSpec{ID: "s", Action: "x"}, ctx)
	if err != nil {
		t.Fatalf("build params: %v", err)
	}
	if params["onderwerp"] != "water" {
		t.Fatalf("expected user key copied, got %#v", params)
	}
	for _, k := range runctx.InternalKeys() {
		if _, ok := params[k]; ok {
			t.Fatalf("bookkeeping key %s leaked into params", k)
		}
	}
}

const sampleYAML = `
id: quick-scan
name: Quick scan
steps:
  - id: scan
    action: scan_known_sources
    timeout: 45s
    params:
      - from: selectedWebsites
      - from: scope.onderwerp
        to: onderwerp
        default: algemeen
  - id: kg
    action: populate_knowledge_graph
    bestEffort: true
    maxAttempts: 2
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "quick-scan" || len(def.Steps) != 2 {
		t.Fatalf("unexpected definition %+v", def)
	}
	if def.Steps[0].Timeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %s", def.Steps[0].Timeout)
	}
	if def.Steps[0].Params[1].Target() != "onderwerp" || def.Steps[0].Params[1].Default != "algemeen" {
		t.Fatalf("unexpected mapping %+v", def.Steps[0].Params[1])
	}
	if !def.Steps[1].BestEffort || def.Steps[1].MaxAttempts != 2 || def.Steps[1].Name != "kg" {
		t.Fatalf("unexpected step %+v", def.Steps[1])
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("  ")); err == nil {
		t.Fatal("expected empty payload error")
	}
	if _, err := ParseDefinitionYAML([]byte("id: x\nstepz: []\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := ParseDefinitionYAML([]byte("id: x\nsteps: []\n")); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "quick.yaml"), []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewDefaultRegistry()
	n, err := r.LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 definition loaded, got %d", n)
	}
	if _, ok := r.Get("quick-scan"); !ok {
		t.Fatal("expected quick-scan registered")
	}

	n, err = NewRegistry().LoadDir(filepath.Join(dir, "missing"))
	if err != nil || n != 0 {
		t.Fatalf("expected missing dir to load nothing, got %d, %v", n, err)
	}
}
