package insight

import "errors"

var (
	ErrInsightUnavailable = errors.New("insightface service unavailable")
	ErrInvalidResponse    = errors.New("invalid response from insightface")
	ErrInvalidDimension   = errors.New("embedding dimension mismatch in insightface response")
)
