package apperr

import "math"

// Body is the wire shape of every error response.
type Body struct {
	Code       Kind   `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
	Details    string `json:"details,omitempty"`
}

// Body renders e for the client. RetryAfter is whole seconds, rounded up.
func (e *Error) Body() Body {
	b := Body{
		Code:    e.Kind,
		Message: e.Message,
		Field:   e.Field,
		Details: e.Details,
	}
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		b.RetryAfter = &secs
	}
	return b
}
