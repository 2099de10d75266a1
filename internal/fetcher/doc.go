// Package fetcher downloads a catalog of icons with bounded concurrency.
//
// A Scheduler takes an ordered list of items and streams each one from a
// Source into a store.Writer. At most Capacity transfers are in flight at
// once; a Gate admits the next item as soon as a slot frees up.
//
// # Failure handling
//
// Every attempt is classified:
//   - HTTP 404: permanent, logged as not found and never retried
//   - anything else: transient, remembered in the FailureSet
//
// After the first pass has fully drained, the scheduler runs exactly one more
// pass over the FailureSet with the same capacity. Items that fail again are
// reported as unresolved; there is no further retry.
//
// # Usage
//
//	s, err := fetcher.New(client, writer, fetcher.Options{Capacity: 10})
//	report := s.Run(ctx, items)
//	if len(report.Unresolved) > 0 { ... }
package fetcher
