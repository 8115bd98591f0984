// Package store persists conversation transcripts in SQLite.
//
// Live conversation state is in-memory only; transcripts are the one thing
// that survives a restart, so saved sessions can be replayed in transcript
// mode.
package store
