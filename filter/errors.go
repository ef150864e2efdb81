package filter

import (
	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrNotFilterable is returned when a filter references a property that
	// cannot be used in a query or that the caller did not mark as filterable.
	ErrNotFilterable = goerrors.New("property is not filterable", goerrors.CategoryBadInput).
				WithTextCode("PROPERTY_NOT_FILTERABLE")

	// ErrUnsupportedFilter is returned for filter values Compile cannot translate.
	ErrUnsupportedFilter = goerrors.New("unsupported filter", goerrors.CategoryBadInput).
				WithTextCode("UNSUPPORTED_FILTER")
)
