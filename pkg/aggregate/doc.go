// Package aggregate turns execution results into text: the final answer a
// run yields, and the result blocks threaded into worker and model prompts.
//
// Every formatter is pure and orders its output by ascending step, then by
// the stored order within a step, so formatting the same StepResults twice
// produces identical bytes.
package aggregate
