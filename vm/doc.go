// Package vm implements the arbor runtime.
//
// A VM owns one arena and everything that lives in it:
//   - the Type Table
//   - the AST node store
//   - the compiled-function pool
//   - the backend machine that runs generated code
//   - the collector and its root set
//
// It registers the host functions generated code calls back into, serializes
// mutators, persists snapshots and optionally collects on a timer.
package vm
