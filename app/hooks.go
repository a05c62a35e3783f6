// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"context"
	"errors"
)

// Hook is a cleanup function run after the supervisor returns. Hooks
// receive the lifecycle context and return an error if they fail.
type Hook func(context.Context) error

// Hooks collects shutdown work during assembly: closing the store, tearing
// down the Kafka pool, flushing OTel providers. Every registered hook runs
// even if earlier ones fail; errors are collected and joined.
type Hooks struct {
	hooks []Hook
}

// OnShutdown registers a hook to run after the supervisor returns. Hooks
// run in registration order.
func (h *Hooks) OnShutdown(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

// run executes every registered hook and joins their errors.
func (h *Hooks) run(ctx context.Context) error {
	var errs error
	for _, hook := range h.hooks {
		if err := hook(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
