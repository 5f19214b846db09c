// Package types defines the shared domain types of nexd: child and nexus
// states, external descriptors, persisted records and the request/reply
// payloads of the control surface.
//
// The package has no dependencies on other nexd packages so that any layer
// (engine, storage, api, cli) can exchange these values freely.
package types
