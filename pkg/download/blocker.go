// Package download adapts push style repository downloads to values that a
// synchronous caller can wait for.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidState is returned when a blocker is resolved twice
var ErrInvalidState = errors.New("download already resolved")

// Listener receives the outcome of an asynchronous download. Exactly one of
// the methods is called, exactly once.
type Listener interface {
	Success(file string) error
	Failure(file, reason string, err error) error
}

// Stage of a blocker
type Stage int

const (
	// StageInit means the download is still running
	StageInit Stage = iota
	// StageSuccess means the file is available
	StageSuccess
	// StageFailure means the download failed
	StageFailure
)

func (s Stage) String() string {
	return [...]string{"INIT", "SUCCESS", "FAILURE"}[s]
}

// Error is a download failure propagated through a Blocker
type Error struct {
	File   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download of %s failed: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("download of %s failed: %s", e.File, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Blocker is a one-shot Listener. Readers block until the first Success or
// Failure call and then see the same result forever.
type Blocker struct {
	mu     sync.Mutex
	done   chan struct{}
	stage  Stage
	file   string
	reason string
	err    error
}

// NewBlocker creates a blocker in StageInit
func NewBlocker() *Blocker {
	return &Blocker{done: make(chan struct{})}
}

// Success implements Listener
func (b *Blocker) Success(file string) error {
	return b.resolve(StageSuccess, file, "", nil)
}

// Failure implements Listener
func (b *Blocker) Failure(file, reason string, err error) error {
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return b.resolve(StageFailure, file, reason, err)
}

func (b *Blocker) resolve(stage Stage, file, reason string, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stage != StageInit {
		return fmt.Errorf("%w: stage is %s", ErrInvalidState, b.stage)
	}
	b.stage = stage
	b.file = file
	b.reason = reason
	b.err = err
	close(b.done)
	return nil
}

// Done is closed once the download resolved
func (b *Blocker) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the blocker resolves or ctx is done
func (b *Blocker) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// File blocks and returns the downloaded file. It is empty on failure.
func (b *Blocker) File() string {
	<-b.done
	return b.file
}

// Reason blocks and returns the failure reason, empty on success
func (b *Blocker) Reason() string {
	<-b.done
	return b.reason
}

// Stage blocks and returns the final stage
func (b *Blocker) Stage() Stage {
	<-b.done
	return b.stage
}

// FileContext is File with cancellation
func (b *Blocker) FileContext(ctx context.Context) (string, error) {
	if err := b.Wait(ctx); err != nil {
		return "", err
	}
	if b.stage == StageFailure {
		return "", b.failure()
	}
	return b.file, nil
}

// Err blocks and returns a *Error for failed downloads
func (b *Blocker) Err() error {
	<-b.done
	if b.stage == StageFailure {
		return b.failure()
	}
	return nil
}

func (b *Blocker) failure() error {
	return &Error{File: b.file, Reason: b.reason, Err: b.err}
}

// Current returns the stage without blocking
func (b *Blocker) Current() Stage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stage
}

func (b *Blocker) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Blocker[%s,%s,%s]", b.stage, b.file, b.reason)
}
