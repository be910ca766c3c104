package picking

import "errors"

var (
	// ErrBusy rejects a mutating call while a prior one is still in
	// flight. Mutations are never queued or raced per session.
	ErrBusy = errors.New("session busy with a prior operation")

	// ErrNoRun marks an operation that needs a selected run.
	ErrNoRun = errors.New("no run selected")

	// ErrNoSelection marks a capture attempted without a full
	// run/item/lot selection.
	ErrNoSelection = errors.New("run, item and lot must all be selected")

	// ErrItemNotFound marks an item key that resolves to no line of the
	// selected run.
	ErrItemNotFound = errors.New("item not found in selected run")

	// ErrSuperseded marks a run fetch whose result was discarded because
	// a newer selection completed first (last-writer-wins).
	ErrSuperseded = errors.New("selection superseded by a newer one")

	// ErrOffline marks an operation that needs the backend while the
	// session is serving from the offline cache.
	ErrOffline = errors.New("backend unreachable, session is offline")
)
