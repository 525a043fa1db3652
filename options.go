// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cogo

import "runtime"

// schedulerOptions holds configuration resolved before the worker pool
// starts. Every field has a zero-value-safe default applied in
// resolveOptions.
type schedulerOptions struct {
	workers       int
	stackSizeHint int
}

// Option configures the default [Scheduler]. Options only take effect if
// passed to [Configure] before the first [Spawn]/[Go].
type Option interface {
	applyScheduler(*schedulerOptions)
}

type optionFunc func(*schedulerOptions)

func (f optionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithWorkers sets the number of worker goroutines the scheduler drives
// coroutines with. n <= 0 is ignored, leaving the default (logical CPU
// count) in place.
func WithWorkers(n int) Option {
	return optionFunc(func(o *schedulerOptions) {
		if n > 0 {
			o.workers = n
		}
	})
}

// WithStackSizeHint sets a best-effort initial stack size hint for spawned
// coroutine goroutines. Go grows goroutine stacks on demand, so this only
// pre-touches a throwaway allocation of the given size to encourage the
// runtime to size the first segment accordingly; it is not a hard cap.
func WithStackSizeHint(bytes int) Option {
	return optionFunc(func(o *schedulerOptions) {
		if bytes > 0 {
			o.stackSizeHint = bytes
		}
	})
}

// resolveOptions applies opts over the documented defaults.
func resolveOptions(opts []Option) *schedulerOptions {
	cfg := &schedulerOptions{
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	return cfg
}
