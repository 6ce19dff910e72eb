// Package toolexec runs a tool binary under resource limits. Commands are
// always an argument vector; no shell is ever involved.
package toolexec

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMemoryBytes = 512 << 20
	DefaultStdoutCap   = 64 << 10
	DefaultStderrCap   = 5 << 10
)

var ErrBinaryNotFound = errors.New("tool binary not found")

// Limits bound a single execution.
type Limits struct {
	Timeout     time.Duration
	CPU         float64
	MemoryBytes int64
	StdoutCap   int
	StderrCap   int
}

func (l Limits) withDefaults() Limits {
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	if l.CPU <= 0 {
		l.CPU = 1
	}
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = DefaultMemoryBytes
	}
	if l.StdoutCap <= 0 {
		l.StdoutCap = DefaultStdoutCap
	}
	if l.StderrCap <= 0 {
		l.StderrCap = DefaultStderrCap
	}
	return l
}

type Spec struct {
	// Name labels the execution, e.g. the action id.
	Name   string
	Binary string
	// Image is the container image used by the docker executor.
	Image  string
	Argv   []string
	Stdin  string
	Limits Limits
}

type Result struct {
	ReturnCode      int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Duration        time.Duration
	TimedOut        bool
	// MemoryExceeded is set when the process was killed for exceeding its memory ceiling.
	MemoryExceeded bool
}

// LimitExceeded reports whether the run was stopped by a resource limit.
func (r Result) LimitExceeded() bool {
	return r.TimedOut || r.MemoryExceeded
}

// Executor runs one tool invocation to completion. A non-nil error means
// the tool could not be started at all; tool failures are reported on Result.
type Executor interface {
	Kind() string
	Run(ctx context.Context, spec Spec) (Result, error)
}
