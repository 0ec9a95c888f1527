// Package backend is the code-generation backend the compiler emits into.
//
// The Backend and Builder interfaces are what the code generator needs:
//
//   - a fresh module holding one zero-argument function
//   - integer arithmetic and comparison on word values
//   - blocks with conditional branches and two-way phi merges
//   - entry-scoped stack slots with constant-offset load, store and address
//   - calls to host functions with fixed argument and result arity
//   - finalize into a callable Entry, and unload by ModuleHandle
//
// Machine implements both with an in-process register machine. Values are
// runs of virtual registers; a multi-word value occupies consecutive
// registers. Stack slots are laid out into one frame per invocation when the
// module is finalized, so a slot may grow while code is still being emitted.
//
// # Addresses
//
// A pointer is a single word. Frame addresses have FrameBit set and index
// the invoking frame. Every other address is handed to the Memory installed
// with SetMemory, which the runtime backs with its arena.
package backend
