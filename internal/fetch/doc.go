// Package fetch provides the shared outbound HTTP clients.
//
// Built on go-resty/resty with a hashicorp/go-retryablehttp transport:
//   - Automatic retries with exponential backoff for remote fetches
//   - Rate limiting per client instance (golang.org/x/time/rate)
//   - Context-based cancellation
//   - Optional shared cookie jar for browser-profile-bound fetches
package fetch
