package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when content generation fails for any general reason
	ErrGenerationFailed = errors.New("failed to generate content")

	// ErrInvalidResponse is returned when the vendor response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from generation service")

	// ErrContentBlocked is returned when the vendor blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by generation service safety filters")

	// ErrInvalidConfig is returned when a generation client configuration is invalid
	ErrInvalidConfig = errors.New("invalid generation client configuration")
)
