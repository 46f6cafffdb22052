// SPDX-License-Identifier: Apache-2.0

// Package etl holds the request/result/manifest contract shared with the
// external ETL runtime that turns canonical documents into RDF.
package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	JobSchemaVersion    = "etl-job@v1"
	ResultSchemaVersion = "etl-result@v1"
)

// Geo sources the ETL runtime can read geometries from.
const (
	GeoSourceMongo   = "mongo"
	GeoSourcePostGIS = "postgis"
	GeoSourceBoth    = "both"
)

const FormatTurtle = "turtle"

// Job result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusPartial   = "partial"
)

var sha256Hex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

type ExtensionFlags struct {
	Geo   bool `json:"geo"`
	Legal bool `json:"legal"`
	Web   bool `json:"web"`
}

type JobInput struct {
	DocumentIDs       []string       `json:"documentIds,omitempty"`
	Query             map[string]any `json:"query,omitempty"`
	IncludeChunks     bool           `json:"includeChunks"`
	IncludeExtensions ExtensionFlags `json:"includeExtensions"`
	GeoSource         string         `json:"geoSource"`
}

type JobArtifacts struct {
	ArtifactRefs []string `json:"artifactRefs,omitempty"`
}

type JobModels struct {
	NLPModelID        string `json:"nlpModelId"`
	RDFMappingVersion string `json:"rdfMappingVersion"`
}

// JobOutput sets exactly one of OutputDir and ArtifactStorePrefix.
type JobOutput struct {
	Format              string  `json:"format"`
	OutputDir           *string `json:"outputDir,omitempty"`
	ArtifactStorePrefix *string `json:"artifactStorePrefix,omitempty"`
	ManifestName        string  `json:"manifestName"`
}

type JobRequest struct {
	SchemaVersion string        `json:"schemaVersion"`
	RunID         string        `json:"runId"`
	CreatedAt     string        `json:"createdAt"`
	Input         JobInput      `json:"input"`
	Artifacts     *JobArtifacts `json:"artifacts,omitempty"`
	Models        JobModels     `json:"models"`
	Output        JobOutput     `json:"output"`
}

type JobStats struct {
	DocumentsProcessed int `json:"documentsProcessed"`
	TriplesEmitted     int `json:"triplesEmitted"`
	FilesWritten       int `json:"filesWritten"`
}

type JobOutputs struct {
	TurtleFiles []string `json:"turtleFiles"`
	Manifest    string   `json:"manifest"`
}

type JobError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	DocumentID string         `json:"documentId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type JobResult struct {
	SchemaVersion string     `json:"schemaVersion"`
	RunID         string     `json:"runId"`
	Status        string     `json:"status"`
	Stats         JobStats   `json:"stats"`
	Outputs       JobOutputs `json:"outputs"`
	Errors        []JobError `json:"errors,omitempty"`
}

type DocumentFingerprint struct {
	DocumentID         string `json:"documentId"`
	ContentFingerprint string `json:"contentFingerprint"`
}

type Provenance struct {
	InputFingerprints []DocumentFingerprint `json:"inputFingerprints"`
	ParserVersions    map[string]string     `json:"parserVersions"`
	MapperVersions    map[string]string     `json:"mapperVersions"`
	ModelVersions     map[string]string     `json:"modelVersions"`
	RDFMappingVersion string                `json:"rdfMappingVersion"`
}

type Manifest struct {
	SchemaVersion string         `json:"schemaVersion"`
	RunID         string         `json:"runId"`
	CreatedAt     string         `json:"createdAt"`
	CompletedAt   string         `json:"completedAt"`
	Provenance    Provenance     `json:"provenance"`
	Outputs       map[string]any `json:"outputs"`
	Stats         JobStats       `json:"stats"`
}

// ValidationError lists every contract violation found in a payload.
type ValidationError struct {
	Contract      string
	SchemaVersion string
	Violations    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Contract, strings.Join(e.Violations, "; "))
}

type violations []string

func (v *violations) add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

func (v violations) err(contract, schemaVersion string) error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Contract: contract, SchemaVersion: schemaVersion, Violations: v}
}

func validTimestamp(raw string) bool {
	if _, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return true
	}
	// Offset-less ISO 8601 is accepted by the ETL runtime too.
	_, err := time.Parse("2006-01-02T15:04:05.999999999", raw)
	return err == nil
}

func (r JobRequest) Validate() error {
	var v violations

	if r.SchemaVersion != JobSchemaVersion {
		v.add("schemaVersion must be %q", JobSchemaVersion)
	}
	if strings.TrimSpace(r.RunID) == "" {
		v.add("runId is required")
	}
	if !validTimestamp(r.CreatedAt) {
		v.add("createdAt %q is not an ISO 8601 datetime", r.CreatedAt)
	}

	hasIDs := len(r.Input.DocumentIDs) > 0
	hasQuery := len(r.Input.Query) > 0
	if hasIDs == hasQuery {
		v.add("input: either documentIds or query must be provided, but not both")
	}
	switch r.Input.GeoSource {
	case GeoSourceMongo, GeoSourcePostGIS, GeoSourceBoth:
	default:
		v.add("input.geoSource must be one of mongo, postgis, both")
	}

	if r.Artifacts != nil {
		for _, ref := range r.Artifacts.ArtifactRefs {
			if !sha256Hex.MatchString(ref) {
				v.add("artifacts: invalid artifact ref format: %s", ref)
			}
		}
	}

	if r.Models.NLPModelID == "" {
		v.add("models.nlpModelId is required")
	}
	if r.Models.RDFMappingVersion == "" {
		v.add("models.rdfMappingVersion is required")
	}

	if r.Output.Format != FormatTurtle {
		v.add("output.format must be %q", FormatTurtle)
	}
	if (r.Output.OutputDir != nil) == (r.Output.ArtifactStorePrefix != nil) {
		v.add("output: either outputDir or artifactStorePrefix must be provided, but not both")
	}
	if r.Output.OutputDir != nil && *r.Output.OutputDir == "" {
		v.add("output.outputDir must not be empty")
	}
	if r.Output.ArtifactStorePrefix != nil && *r.Output.ArtifactStorePrefix == "" {
		v.add("output.artifactStorePrefix must not be empty")
	}
	if r.Output.ManifestName == "" {
		v.add("output.manifestName is required")
	}

	return v.err("ETL job request", r.SchemaVersion)
}

func (r JobResult) Validate() error {
	var v violations

	if r.SchemaVersion != ResultSchemaVersion {
		v.add("schemaVersion must be %q", ResultSchemaVersion)
	}
	if strings.TrimSpace(r.RunID) == "" {
		v.add("runId is required")
	}
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusPartial:
	default:
		v.add("status must be one of succeeded, failed, partial")
	}
	validateStats(&v, r.Stats)
	if len(r.Outputs.TurtleFiles) == 0 {
		v.add("outputs.turtleFiles must contain at least one file")
	}
	if r.Outputs.Manifest == "" {
		v.add("outputs.manifest is required")
	}
	for i, e := range r.Errors {
		if e.Code == "" || e.Message == "" {
			v.add("errors[%d]: code and message are required", i)
		}
	}

	return v.err("ETL job result", r.SchemaVersion)
}

func (m Manifest) Validate() error {
	var v violations

	if m.SchemaVersion == "" {
		v.add("schemaVersion is required")
	}
	if strings.TrimSpace(m.RunID) == "" {
		v.add("runId is required")
	}
	if !validTimestamp(m.CreatedAt) {
		v.add("createdAt %q is not an ISO 8601 datetime", m.CreatedAt)
	}
	if !validTimestamp(m.CompletedAt) {
		v.add("completedAt %q is not an ISO 8601 datetime", m.CompletedAt)
	}
	for i, fp := range m.Provenance.InputFingerprints {
		if fp.DocumentID == "" {
			v.add("provenance.inputFingerprints[%d].documentId is required", i)
		}
		if !sha256Hex.MatchString(fp.ContentFingerprint) {
			v.add("provenance.inputFingerprints[%d]: invalid content fingerprint format: %s", i, fp.ContentFingerprint)
		}
	}
	if m.Provenance.RDFMappingVersion == "" {
		v.add("provenance.rdfMappingVersion is required")
	}
	validateStats(&v, m.Stats)

	return v.err("ETL manifest", m.SchemaVersion)
}

func validateStats(v *violations, s JobStats) {
	if s.DocumentsProcessed < 0 {
		v.add("stats.documentsProcessed must be >= 0")
	}
	if s.TriplesEmitted < 0 {
		v.add("stats.triplesEmitted must be >= 0")
	}
	if s.FilesWritten < 0 {
		v.add("stats.filesWritten must be >= 0")
	}
}

func decodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJobRequest decodes and validates a job request payload.
func ParseJobRequest(data []byte) (JobRequest, error) {
	var r JobRequest
	if err := decodeStrict(data, &r); err != nil {
		return JobRequest{}, err
	}
	return r, r.Validate()
}

func ParseJobResult(data []byte) (JobResult, error) {
	var r JobResult
	if err := decodeStrict(data, &r); err != nil {
		return JobResult{}, err
	}
	return r, r.Validate()
}

func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := decodeStrict(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, m.Validate()
}
