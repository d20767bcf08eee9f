// Package server hosts the Fiber HTTP service, the request middleware chain and
// the shared upstream HTTP client. Every non-diagnostics request is handed to a
// single ProxyHandler (the lifecycle-backed interceptor); `/-/` paths fall
// through to the diagnostics routes registered by the routes package.
package server
