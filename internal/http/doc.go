// Package http provides the HTTP client used to discover and fetch icons.
//
// This package handles:
//   - Connection pooling for many small parallel requests
//   - Browser-like default headers (the icon host rejects bare clients)
//   - Single-shot streaming GETs for asset transfers
//   - Retry with exponential backoff for catalog pages
//   - Typed status errors
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Fetch a page, retrying 5xx and transport errors
//	html, err := client.Get(ctx, pageURL, "")
//
//	// Stream an asset; no retry, the caller decides
//	body, err := client.Open(ctx, assetURL)
//	if errors.Is(err, http.ErrNotFound) { ... }
//	defer body.Close()
package http
