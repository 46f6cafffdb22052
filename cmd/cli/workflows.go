// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/actions"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

// runWorkflows lists the workflows a deployment would load and fails when a
// YAML file is invalid or references an unknown action.
func runWorkflows(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("workflows", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dir := fs.String("dir", os.Getenv("WORKFLOWS_DIR"), "directory with workflow YAML files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := workflow.NewDefaultRegistry()
	if _, err := reg.LoadDir(*dir); err != nil {
		return err
	}

	known := action.NewRegistry()
	if err := actions.RegisterAll(known, actions.Deps{}); err != nil {
		return err
	}

	defs := reg.List()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTEPS\tNAME")
	for _, def := range defs {
		for _, step := range def.Steps {
			if _, ok := known.Lookup(step.Action); !ok {
				return fmt.Errorf("workflow %s: step %s: unknown action %q", def.ID, step.ID, step.Action)
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", def.ID, len(def.Steps), def.Name)
	}
	return tw.Flush()
}
