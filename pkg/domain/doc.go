// Package domain defines the core types shared by the triage workflow: plans,
// execution results, review decisions, retry bookkeeping, conversation
// messages, and the error taxonomy.
//
// This package has ZERO dependencies outside the Go standard library. The
// dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// Everything here is a value type. Plans and results are never mutated in
// place; operations that renumber or merge return fresh copies.
package domain
