// Package errdefs defines the engine's error taxonomy as sentinel
// errors classified with errors.Is.
package errdefs
