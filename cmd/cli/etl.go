// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/beleidsscan/workflow-engine/internal/etl"
)

// runETL checks ETL runtime payloads against the shared contract:
//
//	cli etl validate request|result|manifest FILE
//
// FILE "-" reads stdin.
func runETL(in io.Reader, out io.Writer, args []string) error {
	if len(args) != 3 || args[0] != "validate" {
		return errors.New("usage: etl validate request|result|manifest FILE")
	}

	data, err := readInput(in, args[2])
	if err != nil {
		return err
	}

	var summary string
	switch kind := args[1]; kind {
	case "request":
		var r etl.JobRequest
		if r, err = etl.ParseJobRequest(data); err == nil {
			summary = fmt.Sprintf("%s run %s: %d documents", r.SchemaVersion, r.RunID, len(r.Input.DocumentIDs))
		}
	case "result":
		var r etl.JobResult
		if r, err = etl.ParseJobResult(data); err == nil {
			summary = fmt.Sprintf("%s run %s: %s, %d triples in %d files", r.SchemaVersion, r.RunID, r.Status, r.Stats.TriplesEmitted, len(r.Outputs.TurtleFiles))
		}
	case "manifest":
		var m etl.Manifest
		if m, err = etl.ParseManifest(data); err == nil {
			summary = fmt.Sprintf("%s run %s: %d inputs, mapping %s", m.SchemaVersion, m.RunID, len(m.Provenance.InputFingerprints), m.Provenance.RDFMappingVersion)
		}
	default:
		return fmt.Errorf("unknown ETL contract %q", kind)
	}

	var verr *etl.ValidationError
	if errors.As(err, &verr) {
		for _, v := range verr.Violations {
			_, _ = fmt.Fprintf(out, "  - %s\n", v)
		}
		return fmt.Errorf("%s: %d violations", verr.Contract, len(verr.Violations))
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "valid", summary)
	return err
}

func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}
