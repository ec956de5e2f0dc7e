// Package storage is the persistence layer for scheduled posts and post
// history.
//
// Scheduled jobs live in a flat, pipe-delimited, line-oriented file. The
// format is a compatibility contract (other tooling reads it), so the
// encoder/decoder pair in codec.go is kept strict and bijective.
//
// Post history (posted items, processed articles) is append-only and sits
// behind a driver switch: a dependency-free file backend, or SQLite when
// built with the sqlite tag.
package storage
