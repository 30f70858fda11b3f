package main

import (
	"context"
	"errors"

	"github.com/elee1766/chathistory/src/config"
	"github.com/elee1766/chathistory/src/oaiclient"
	"github.com/elee1766/chathistory/src/storage"
	"github.com/elee1766/chathistory/src/transcript"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error
	ExitUsage       = 2 // Usage error
	ExitConfig      = 3 // Configuration error
	ExitAuth        = 4 // Authentication error
	ExitNetwork     = 6 // Network error
	ExitTimeout     = 7 // Timeout error
	ExitInterrupted = 8 // Interrupted by user
)

// exitCode determines the appropriate exit code for an error
func exitCode(err error) int {
	var (
		validationErr config.ValidationError
		apiErr        *oaiclient.APIError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &validationErr),
		errors.Is(err, storage.ErrUnsupportedDriver),
		errors.Is(err, oaiclient.ErrNoAPIKey),
		errors.Is(err, oaiclient.ErrNoModel):
		return ExitConfig
	case errors.As(err, &apiErr):
		if apiErr.IsAuthError() {
			return ExitAuth
		}
		return ExitNetwork
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, transcript.ErrChatNotFound):
		return ExitUsage
	default:
		return ExitError
	}
}
