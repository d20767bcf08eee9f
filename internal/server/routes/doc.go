// Package routes registers the `/-/` diagnostics and page-operation endpoints:
// lifecycle state and messages, cache generations, the progress meter, and the
// tracked backend operations that publish progress signals.
package routes
