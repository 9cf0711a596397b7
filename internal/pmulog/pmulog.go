// Package pmulog provides the engine's structured logging convention: one
// leveled, component-tagged logger per subsystem, built on
// github.com/charmbracelet/log.
//
// This replaces the teacher's text_color_set(DW_COLOR_*) + dw_printf
// convention (one global color-setting call followed by a printf) with a
// single call per log line that carries its own severity and component
// tag, while keeping the same one-call-site-per-message shape.
package pmulog

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	root     *log.Logger
	rootOnce sync.Once
)

func rootLogger() *log.Logger {
	rootOnce.Do(func() {
		root = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			ReportCaller:    false,
		})
	})
	return root
}

// SetLevel sets the minimum level logged by every component logger.
func SetLevel(level log.Level) {
	rootLogger().SetLevel(level)
}

// For returns a logger scoped to the named component, e.g. "main",
// "processor", "pmuserver", "source.tcp". The component name is attached to
// every line it emits.
func For(component string) *log.Logger {
	return rootLogger().With("component", component)
}
