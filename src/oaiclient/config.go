package oaiclient

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds configuration for the OpenAI-compatible client
type Config struct {
	APIKey     string        // API key sent as a bearer token
	BaseURL    string        // Base URL of the API, including the /v1 suffix
	Model      string        // Model id sent with every request
	Logger     *slog.Logger  // Logger for debugging
	HTTPClient *http.Client  // Optional HTTP client; Timeout is ignored when set
	Timeout    time.Duration // HTTP timeout
	RetryCount int           // Number of attempts for failed requests
	RetryDelay time.Duration // Base delay between attempts
}
