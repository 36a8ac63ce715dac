package venue

import "errors"

var (
	// ErrInvalidRequest marks caller input that failed validation. Nothing is written.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProviderUnavailable covers transport failures, timeouts and non-2xx provider responses.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderResponseInvalid is returned when the provider body is malformed
	// or a record misses a required field.
	ErrProviderResponseInvalid = errors.New("provider response invalid")
	// ErrStorageFailure wraps persistence errors raised while replacing or reading venues.
	ErrStorageFailure = errors.New("storage failure")
	// ErrLocationNotSet is returned when an owner has never synchronized a location.
	ErrLocationNotSet = errors.New("location not set")
)
