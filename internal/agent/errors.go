package agent

import "errors"

var (
	ErrProviderUnavailable = errors.New("agent provider unavailable")
	ErrInferenceTimeout    = errors.New("agent inference timeout")
	ErrRateLimited         = errors.New("agent provider rate limited")
	ErrInvalidResponse     = errors.New("agent provider returned invalid response")
)
