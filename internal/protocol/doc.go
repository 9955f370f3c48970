// Package protocol groups the length-delimited frame stream primitives.
//
// Ownership boundary:
// - frame: header encoding and parsing
// - ring: incremental tokenizer over an append-only byte stream
// - stream: io.Reader adapter on top of ring
package protocol
