// SPDX-License-Identifier: Apache-2.0

// Package workflow describes workflow definitions: an ordered list of steps,
// each bound to a registered action and a parameter mapping from the run
// context.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beleidsscan/workflow-engine/internal/action"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
)

type Definition struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepSpec `yaml:"steps" json:"steps"`
}

type StepSpec struct {
	ID     string         `yaml:"id" json:"id"`
	Name   string         `yaml:"name" json:"name"`
	Action string         `yaml:"action" json:"action"`
	Params []ParamMapping `yaml:"params,omitempty" json:"params,omitempty"`
	// BestEffort steps never fail the run.
	BestEffort        bool          `yaml:"bestEffort,omitempty" json:"best_effort,omitempty"`
	RollbackOnFailure bool          `yaml:"rollbackOnFailure,omitempty" json:"rollback_on_failure,omitempty"`
	MaxAttempts       int           `yaml:"maxAttempts,omitempty" json:"max_attempts,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ParamMapping copies one context value into the step's parameters. From
// may be a dotted path into nested objects.
type ParamMapping struct {
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to,omitempty" json:"to,omitempty"`
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Target is the parameter name the mapping writes, defaulting to the last
// segment of From.
func (m ParamMapping) Target() string {
	if to := strings.TrimSpace(m.To); to != "" {
		return to
	}
	from := strings.TrimSpace(m.From)
	if i := strings.LastIndex(from, "."); i >= 0 {
		return from[i+1:]
	}
	return from
}

func (s StepSpec) Attempts() int {
	if s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

// Validate reports every structural problem of the definition at once.
func (d Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.ID) == "" {
		errs = append(errs, errors.New("workflow id is required"))
	}
	if len(d.Steps) == 0 {
		errs = append(errs, errors.New("workflow needs at least one step"))
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		label := fmt.Sprintf("step %d", i)
		if step.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", label))
		} else {
			label = fmt.Sprintf("step %q", step.ID)
			if _, dup := seen[step.ID]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate step id", label))
			}
			seen[step.ID] = struct{}{}
		}
		if strings.TrimSpace(step.Action) == "" {
			errs = append(errs, fmt.Errorf("%s: action is required", label))
		}
		if step.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("%s: maxAttempts must be >= 0", label))
		}
		if step.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s: timeout must be >= 0", label))
		}
		for j, m := range step.Params {
			if strings.TrimSpace(m.From) == "" {
				errs = append(errs, fmt.Errorf("%s: params[%d].from is required", label, j))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("workflow %q: %w", d.ID, errors.Join(errs...))
	}
	return nil
}

// Normalized fills defaults: names fall back to ids, attempts to 1.
func (d Definition) Normalized() Definition {
	out := d
	out.ID = strings.TrimSpace(d.ID)
	if out.Name == "" {
		out.Name = out.ID
	}
	out.Steps = make([]StepSpec, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			step.Name = step.ID
		}
		step.Action = strings.TrimSpace(step.Action)
		step.MaxAttempts = step.Attempts()
		step.Params = append([]ParamMapping(nil), step.Params...)
		out.Steps[i] = step
	}
	return out
}

func (d Definition) StepIDs() []string {
	out := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		out[i] = s.ID
	}
	return out
}

// BuildParams resolves a step's parameters from the run context. A step
// without mappings receives a copy of every non-bookkeeping key. A missing
// required value yields an action.BadRequestError.
func BuildParams(step StepSpec, ctx map[string]any) (map[string]any, error) {
	if len(step.Params) == 0 {
		out := runctx.Clone(ctx)
		for _, k := range runctx.InternalKeys() {
			delete(out, k)
		}
		return out, nil
	}

	out := make(map[string]any, len(step.Params))
	for _, m := range step.Params {
		target := m.Target()
		v, ok := runctx.Lookup(ctx, m.From)
		if ok && v != nil {
			out[target] = runctx.CloneValue(v)
			continue
		}
		if m.Default != nil {
			out[target] = runctx.CloneValue(m.Default)
			continue
		}
		if m.Required {
			return nil, action.BadRequest(target, "required parameter missing (from %s)", m.From)
		}
	}
	return out, nil
}
