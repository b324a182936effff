package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrEmptyPrompt        = errors.New("prompt is required")
	ErrMissingCredential  = errors.New("api key is required")
	ErrUnknownModel       = errors.New("unknown model")
	ErrInvalidCount       = errors.New("variant count out of range")
	ErrTooManyReferences  = errors.New("too many reference images")
	ErrProviderFailure    = errors.New("provider failure")
	ErrAssetNotRetryable  = errors.New("asset has no config snapshot")
)
