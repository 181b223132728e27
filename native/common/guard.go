package common

import "errors"

// ErrModulePaused is returned when an operation reaches a module an
// administrator has paused.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches engines consult before mutating
// state. A nil view means pausing is not wired and everything runs.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. Engines call it
// at the top of every state-changing operation.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
