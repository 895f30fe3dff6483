// Package shipper delivers scraped samples to pitwatch-server over HTTP.
// Samples are buffered in memory so short server outages lose nothing;
// delivery retries with exponential backoff, and readings the server
// rejects outright are discarded rather than retried forever.
package shipper
