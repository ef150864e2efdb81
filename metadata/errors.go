package metadata

import (
	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrNotStruct is returned when metadata is requested for a non-struct type.
	ErrNotStruct = goerrors.New("entity type must be a struct or a pointer to a struct", goerrors.CategoryBadInput).
			WithTextCode("ENTITY_NOT_STRUCT")

	// ErrNoIdentifier is returned for entities without exactly one pk column.
	ErrNoIdentifier = goerrors.New("entity must declare exactly one primary key", goerrors.CategoryValidation).
			WithTextCode("ENTITY_NO_IDENTIFIER")

	// ErrUnknownProperty is returned when a property path does not resolve.
	ErrUnknownProperty = goerrors.New("unknown property", goerrors.CategoryBadInput).
				WithTextCode("UNKNOWN_PROPERTY")

	// ErrTypeMismatch is returned when a value cannot be assigned to a property.
	ErrTypeMismatch = goerrors.New("value is not assignable to property", goerrors.CategoryBadInput).
			WithTextCode("PROPERTY_TYPE_MISMATCH")
)
