package utils

import (
	"net/http"
	"time"
)

// NewSyncHTTPClient is the client used by the sync-service pollers.
func NewSyncHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}
