// Package board owns the in-memory task board of a workspace and the movement
// log writer.
//
// A move is a two-phase local transaction: the new status is applied
// immediately, then a movement record is appended and the status persisted.
// The record is written first, so a failed status write leaves a record for a
// transition the task never durably completed. The movement log is therefore
// a log of attempted transitions: consumers must tolerate a record whose
// target status the task does not hold, and the task store remains the source
// of truth for the current status.
package board
