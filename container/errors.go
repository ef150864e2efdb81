package container

import (
	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrReadOnly is returned for writes through a read-only container or
	// to a property that cannot be written.
	ErrReadOnly = goerrors.New("read only", goerrors.CategoryOperation).
			WithTextCode("READ_ONLY")

	ErrIndexOutOfRange = goerrors.New("index out of range", goerrors.CategoryBadInput).
				WithTextCode("INDEX_OUT_OF_RANGE")

	ErrNoProvider = goerrors.New("container needs an entity provider", goerrors.CategoryBadInput).
			WithTextCode("NO_PROVIDER")
)
