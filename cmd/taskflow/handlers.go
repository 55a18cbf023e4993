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
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/taskflow/scheduler"
)

// RegisterBuiltins registers the handlers available to batch files.
//
// Built-in handlers:
//
//	shell - Runs metadata["command"] through /bin/sh -c. Publishes its
//	        trimmed stdout under "<task-id>.output".
//	sleep - Sleeps metadata["duration"] (Go duration string). Useful for
//	        smoke-testing plans and timeouts.
//	echo  - Returns metadata["message"] unchanged.
func RegisterBuiltins(registry *scheduler.Registry) error {
	if err := registry.RegisterFunc("shell", shellHandler); err != nil {
		return err
	}
	if err := registry.RegisterFunc("sleep", sleepHandler); err != nil {
		return err
	}
	return registry.RegisterFunc("echo", echoHandler)
}

func shellHandler(ctx context.Context, task scheduler.TaskSpec, _ *scheduler.TaskContext) (*scheduler.Output, error) {
	command, _ := task.Metadata["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("task %q: metadata.command is required", task.ID)
	}

	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).Output()
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", task.ID, err)
	}

	stdout := strings.TrimSpace(string(out))
	return &scheduler.Output{
		Value:   stdout,
		Publish: map[string]any{task.ID + ".output": stdout},
	}, nil
}

func sleepHandler(ctx context.Context, task scheduler.TaskSpec, _ *scheduler.TaskContext) (*scheduler.Output, error) {
	spec, _ := task.Metadata["duration"].(string)
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("task %q: invalid duration %q: %w", task.ID, spec, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return &scheduler.Output{Value: d.String()}, nil
	}
}

func echoHandler(_ context.Context, task scheduler.TaskSpec, _ *scheduler.TaskContext) (*scheduler.Output, error) {
	message, _ := task.Metadata["message"].(string)
	return &scheduler.Output{Value: message}, nil
}
