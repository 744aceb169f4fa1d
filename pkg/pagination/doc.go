// Package pagination drives list-style endpoints page by page until the
// result set is complete or a bound is reached.
//
// Pages are fetched strictly sequentially: each request depends on the
// previous response (page number or page token). Between requests the engine
// waits an exponentially growing, capped delay.
//
// Example usage:
//
//	engine, err := pagination.NewEngine(pagination.DefaultConfig(),
//		pagination.WithRetrier(client.NewRetrier(client.DefaultRetryConfig())))
//	result, err := pagination.Collect(ctx, engine, fetchLeadsPage, pagination.Options{MaxRecords: 500})
//
// A run stops when any of the following holds:
//   - the provider reports no more records
//   - a page comes back empty, whatever its flags say
//   - MaxRecords items have been collected
//   - more than MaxPageFetches requests have been made
//
// A failed page aborts the run and the items collected so far are discarded;
// the returned *PageError names the request index and page parameters. The
// optional retrier wraps each single page fetch, never the whole run.
package pagination
