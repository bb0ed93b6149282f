// Package crawler holds the shared vocabulary of the tiered fetch pipeline:
// the uniform FetchResult contract, the capabilities the dispatcher consumes
// (throttle, circuit breaker, block detector, renderer), the failure taxonomy,
// and URL/page-identifier parsing.
package crawler
