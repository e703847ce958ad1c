package models

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrChunkExists         = errors.New("chunk already written")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrStorage             = errors.New("storage error")
	ErrIngestAborted       = errors.New("ingest aborted")
	// ErrCorruption is always reported together with ErrStorage.
	ErrCorruption = errors.New("chunk sequence corrupted")
)
