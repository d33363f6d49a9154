// Package model holds the types shared by every triad package: records,
// operation state, consistency reports, health snapshots and typed errors.
//
// model imports nothing internal.
package model
