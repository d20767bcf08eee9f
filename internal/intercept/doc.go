// Package intercept is the per-request decision engine of the offline shell.
// Decide maps a classified request to one of three strategies (Bypass,
// CacheFirst, NetworkOnlyWithFallback); Engine executes the strategy against
// the network Fetcher and the cache Manager. The engine never lets an
// interception failure break a page load: backend network errors become a
// synthesized 503, cache-first network errors fall back to one more cache
// lookup, and storage failures only lose the caching side effect.
package intercept
