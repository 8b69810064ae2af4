// File: pkg/scope/doc.go
// Brief: Scoped resource stack: LIFO acquisition tracking and unwind.

// Package scope tracks acquired resources in push order and releases them in
// strict reverse order on unwind, without ever skipping an entry when an
// earlier release fails. One Stack can host nested sub-scopes through
// checkpoints, so a single arena serves arbitrarily deep acquisition blocks.
package scope
