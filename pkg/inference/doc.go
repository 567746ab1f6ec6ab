// Package inference is the model-inference collaborator: a Model produces
// text for a prompt, and Infer turns that text into a typed value after
// checking it against a declared JSON Schema shape.
//
// A response that is not JSON, violates its shape, or does not decode into
// the target type yields a *domain.ValidationError. Transport failures are
// classified by the governance call policy wrapped around the model.
package inference
