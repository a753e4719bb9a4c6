// Package facts extracts structured user facts from a conversation by asking
// the language model one question per fact, and merges them into previously
// stored facts with last-write-wins semantics that never let a miss erase a
// known value.
package facts
