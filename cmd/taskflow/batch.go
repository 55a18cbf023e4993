// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/taskflow/pkg/validation"
	"github.com/AleutianAI/taskflow/scheduler"
)

// Batch is the YAML surface of one task batch.
//
// Example:
//
//	context:
//	  region: us-east1
//	tasks:
//	  - id: fetch
//	    handler: shell
//	    metadata:
//	      command: "curl -s https://example.com"
//	  - id: process
//	    handler: shell
//	    depends_on: [fetch]
//	    max_retries: 2
//	    metadata:
//	      command: "jq .items"
type Batch struct {
	// Context seeds the shared context store.
	Context map[string]any `yaml:"context"`

	// Tasks are the batch's task descriptors.
	Tasks []scheduler.TaskSpec `yaml:"tasks"`
}

// LoadBatch reads and validates a batch definition file.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file %s: %w", path, err)
	}

	var batch Batch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parsing batch file %s: %w", path, err)
	}
	if len(batch.Tasks) == 0 {
		return nil, fmt.Errorf("batch file %s: %w", path, scheduler.ErrNoTasks)
	}

	for i, t := range batch.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("batch file %s: task %d has no id", path, i)
		}
		if err := validation.ValidateIdentifier(t.ID); err != nil {
			return nil, fmt.Errorf("batch file %s: task %d: %w", path, i, err)
		}
		if t.Handler == "" {
			return nil, fmt.Errorf("batch file %s: task %q has no handler", path, t.ID)
		}
		if err := validation.ValidateIdentifier(t.Handler); err != nil {
			return nil, fmt.Errorf("batch file %s: task %q: %w", path, t.ID, err)
		}
		if t.Scope != "" {
			if err := validation.ValidateIdentifier(t.Scope); err != nil {
				return nil, fmt.Errorf("batch file %s: task %q: %w", path, t.ID, err)
			}
		}
	}
	for key := range batch.Context {
		if err := validation.ValidateContextKey(key); err != nil {
			return nil, fmt.Errorf("batch file %s: %w", path, err)
		}
	}

	return &batch, nil
}
