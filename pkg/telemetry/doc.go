// Package telemetry wires OpenTelemetry exporters and meters for the triage
// workflow service.
//
// It centralises trace provider setup, defines the node and task metric
// instruments recorded by the engine and the plan executor, and offers
// helpers that annotate spans with review outcomes while keeping user text
// out of exported attributes.
package telemetry
