package provider

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-entity-provider/filter"
	"github.com/goliatone/go-entity-provider/metadata"
)

var (
	// ErrUnknownProperty is returned for property ids that do not resolve.
	ErrUnknownProperty = metadata.ErrUnknownProperty

	// ErrNotFilterable is returned for filters on properties that cannot be queried.
	ErrNotFilterable = filter.ErrNotFilterable

	ErrNotSortable = goerrors.New("property is not sortable", goerrors.CategoryBadInput).
			WithTextCode("PROPERTY_NOT_SORTABLE")

	ErrInvalidSort = goerrors.New("invalid sort order", goerrors.CategoryBadInput).
			WithTextCode("INVALID_SORT")

	ErrNotCloneable = goerrors.New("entities of this type cannot be cloned", goerrors.CategoryValidation).
			WithTextCode("ENTITY_NOT_CLONEABLE")

	ErrUnsupported = goerrors.New("operation not supported", goerrors.CategoryOperation).
			WithTextCode("UNSUPPORTED_OPERATION")

	// ErrNoTransaction is returned by BatchUpdate when the provider was built
	// without a database handle, or inside a running batch.
	ErrNoTransaction = goerrors.New("no database available for a transaction", goerrors.CategoryOperation).
				WithTextCode("NO_TRANSACTION")

	ErrEntityNotFound = goerrors.New("entity not found", goerrors.CategoryNotFound).
				WithTextCode("ENTITY_NOT_FOUND")

	// ErrIdentifierType is returned when the primary key type does not match
	// the provider's identifier type.
	ErrIdentifierType = goerrors.New("identifier type mismatch", goerrors.CategoryValidation).
				WithTextCode("IDENTIFIER_TYPE_MISMATCH")
)
