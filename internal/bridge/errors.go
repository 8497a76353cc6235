package bridge

import "errors"

var (
	// ErrUnmatchedLoop is returned when a script is started with repeat scopes
	// still open, or when a repeat scope is closed without one being open.
	ErrUnmatchedLoop = errors.New("bridge: unmatched loop")

	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("bridge: already running")

	// ErrFinished is returned by Start once a run has completed or aborted.
	ErrFinished = errors.New("bridge: run already finished")

	// ErrAborted is reported by Err when an execute callback failed with
	// commands still queued behind it.
	ErrAborted = errors.New("bridge: aborted by failed command")

	// ErrStalled is reported by Err when the timer stopped without a failed
	// command or a pending session exit.
	ErrStalled = errors.New("bridge: stalled")
)
