// Package device implements the in-memory device registry and the
// per-device command queue for the sorting line.
//
// Field devices are intermittently connected: they announce themselves
// over telemetry posts, pick up queued commands when they poll, and are
// marked offline by a staleness sweep when they go quiet. All state is
// held in memory; the registry is rebuilt from discovery and telemetry
// after a restart.
package device
