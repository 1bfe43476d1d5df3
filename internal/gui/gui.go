// Package gui names the GUI-module boundary: an actual window/canvas
// implementation is out of scope per spec.md §1. This package is only
// the registration contract: a GUI implementation registers itself as
// a router.Handler for wire.ModuleGUI and satisfies Delegate. The
// scheduler registers no create_gui/warp_gui/heartbeat_gui commands
// and nothing in this module calls Delegate.
package gui

import "github.com/processwarp/core/internal/wire"

// Delegate is the interface a GUI implementation exposes: the ability
// to create/destroy a window for a process and report whether one is
// currently displayed for it.
type Delegate interface {
	CreateWindow(pid wire.PID) error
	DestroyWindow(pid wire.PID) error
	HasWindow(pid wire.PID) bool
}
