// Package engine implements the message-driven workflow graph used by the
// triage service.
//
// Architecture:
//
// builder.go  - Workflow construction (executors, plain, fan-out, fan-in and multi-selection edge groups)
// executor.go - Run driver (delivery queue, concurrent batches, fan-in joins, yield handling)
// typed.go    - Typed executor and selection adapters
// handle.go   - Run options and asynchronous run handles
//
// A run owns its shared state and progress sink; nothing survives the run
// once it yields its output or fails.
package engine
