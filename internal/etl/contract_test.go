// SPDX-License-Identifier: Apache-2.0

package etl

import (
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func validRequest() JobRequest {
	return JobRequest{
		SchemaVersion: JobSchemaVersion,
		RunID:         "run-1",
		CreatedAt:     "2026-05-01T10:00:00Z",
		Input: JobInput{
			DocumentIDs: []string{"doc-1"},
			GeoSource:   GeoSourceMongo,
		},
		Models: JobModels{NLPModelID: "spacy-nl", RDFMappingVersion: "v3"},
		Output: JobOutput{
			Format:              FormatTurtle,
			ArtifactStorePrefix: strPtr("etl/run-1/"),
			ManifestName:        "manifest.json",
		},
	}
}

func TestJobRequestValid(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestJobRequestViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *JobRequest)
		want   string
	}{
		{"schema", func(r *JobRequest) { r.SchemaVersion = "etl-job@v2" }, "schemaVersion"},
		{"run id", func(r *JobRequest) { r.RunID = " " }, "runId"},
		{"created at", func(r *JobRequest) { r.CreatedAt = "yesterday" }, "createdAt"},
		{"both inputs", func(r *JobRequest) { r.Input.Query = map[string]any{"q": "x"} }, "not both"},
		{"no input", func(r *JobRequest) { r.Input.DocumentIDs = nil }, "not both"},
		{"geo source", func(r *JobRequest) { r.Input.GeoSource = "oracle" }, "geoSource"},
		{"artifact ref", func(r *JobRequest) { r.Artifacts = &JobArtifacts{ArtifactRefs: []string{"abc"}} }, "artifact ref"},
		{"nlp model", func(r *JobRequest) { r.Models.NLPModelID = "" }, "nlpModelId"},
		{"format", func(r *JobRequest) { r.Output.Format = "jsonld" }, "output.format"},
		{"both outputs", func(r *JobRequest) { r.Output.OutputDir = strPtr("/tmp") }, "outputDir or artifactStorePrefix"},
		{"empty prefix", func(r *JobRequest) { r.Output.ArtifactStorePrefix = strPtr("") }, "artifactStorePrefix must not be empty"},
		{"manifest", func(r *JobRequest) { r.Output.ManifestName = "" }, "manifestName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected violation mentioning %q, got %v", tt.want, verr.Violations)
			}
		})
	}
}

func TestValidationCollectsAllViolations(t *testing.T) {
	err := JobRequest{}.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) < 6 {
		t.Fatalf("expected every violation listed, got %v", verr.Violations)
	}
}

func TestArtifactRefAcceptsSHA256(t *testing.T) {
	r := validRequest()
	r.Artifacts = &JobArtifacts{ArtifactRefs: []string{strings.Repeat("aB", 32)}}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected sha256 hex to pass, got %v", err)
	}
}

func TestParseJobResult(t *testing.T) {
	payload := []byte(`{
		"schemaVersion": "etl-result@v1",
		"runId": "run-1",
		"status": "partial",
		"stats": {"documentsProcessed": 3, "triplesEmitted": 120, "filesWritten": 1},
		"outputs": {"turtleFiles": ["out/1.ttl"], "manifest": "out/manifest.json"},
		"errors": [{"code": "PARSE", "message": "bad pdf", "documentId": "doc-2"}]
	}`)
	res, err := ParseJobResult(payload)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if res.Status != StatusPartial || res.Stats.TriplesEmitted != 120 {
		t.Fatalf("unexpected result %+v", res)
	}

	bad := []byte(`{"schemaVersion":"etl-result@v1","runId":"r","status":"done","stats":{"documentsProcessed":-1},"outputs":{"turtleFiles":[],"manifest":""}}`)
	_, err = ParseJobResult(bad)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) != 4 {
		t.Fatalf("expected 4 violations, got %v", verr.Violations)
	}

	if _, err := ParseJobResult([]byte("{")); err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected invalid JSON error, got %v", err)
	}
}

func TestParseJobRequestRoundTrip(t *testing.T) {
	payload := []byte(`{
		"schemaVersion": "etl-job@v1",
		"runId": "run-9",
		"createdAt": "2026-05-01T10:00:00.123+02:00",
		"input": {"query": {"onderwerp": "geluid"}, "includeChunks": true, "includeExtensions": {"geo": true, "legal": false, "web": true}, "geoSource": "both"},
		"models": {"nlpModelId": "m", "rdfMappingVersion": "1"},
		"output": {"format": "turtle", "outputDir": "/data/out", "manifestName": "manifest.json"}
	}`)
	r, err := ParseJobRequest(payload)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if r.Input.Query["onderwerp"] != "geluid" || !r.Input.IncludeExtensions.Web || *r.Output.OutputDir != "/data/out" {
		t.Fatalf("unexpected request %+v", r)
	}
}

func TestManifestValidate(t *testing.T) {
	m := Manifest{
		SchemaVersion: "etl-manifest@v1",
		RunID:         "run-1",
		CreatedAt:     "2026-05-01T10:00:00Z",
		CompletedAt:   "2026-05-01T10:05:00Z",
		Provenance: Provenance{
			InputFingerprints: []DocumentFingerprint{{DocumentID: "doc-1", ContentFingerprint: strings.Repeat("0", 64)}},
			RDFMappingVersion: "v3",
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid manifest, got %v", err)
	}

	m.Provenance.InputFingerprints[0].ContentFingerprint = "nope"
	if err := m.Validate(); err == nil {
		t.Fatal("expected fingerprint violation")
	}
}
