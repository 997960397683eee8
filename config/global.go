package config

import (
	"github.com/make-os/git-remote-blossom/pkgs/logger"
	"github.com/make-os/git-remote-blossom/util"
)

// Globals holds references to objects shared across every component that
// receives an *AppConfig, the way the teacher's Globals carries the node's
// DB/logger/event-bus handles.
type Globals struct {
	// Log is the root logger; components call Log.Module("name") for a
	// namespaced child logger.
	Log logger.Logger

	// Interrupt is a one-shot, process-wide signal. Nothing in this module
	// fires or waits on it: the push and fetch pipelines cancel on their
	// first task failure through their own contexts.
	Interrupt *util.Signal
}

// NewGlobals builds a Globals with a default logrus logger.
func NewGlobals() *Globals {
	return &Globals{
		Log:       logger.NewLogger(),
		Interrupt: util.NewSignal(),
	}
}
