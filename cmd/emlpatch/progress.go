package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

var componentLabels = map[models.Component]string{
	models.ComponentTool:                "Preparing patch tool",
	models.ComponentPatchDownload:       "Downloading patch",
	models.ComponentPatchApply:          "Applying patch",
	models.ComponentOnlinePatchDownload: "Downloading online patch",
	models.ComponentOnlinePatchApply:    "Applying online patch",
	models.ComponentOnlinePatchRevert:   "Restoring official files",
	models.ComponentRuntimeCheck:        "Checking runtime",
	models.ComponentRuntimeDownload:     "Downloading runtime",
	models.ComponentRuntimeInstall:      "Installing runtime",
	models.ComponentAuxDownload:         "Downloading instance files",
}

func label(c models.Component) string {
	if l, ok := componentLabels[c]; ok {
		return l
	}
	return string(c)
}

// consoleSink renders events on a terminal with a spinner, or as plain
// lines when output is redirected.
type consoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	spinner *spinner.Spinner
}

func newConsoleSink(out *os.File) *consoleSink {
	c := &consoleSink{out: out}
	if term.IsTerminal(int(out.Fd())) {
		c.spinner = spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(out))
		c.spinner.Suffix = " Starting..."
	}
	return c
}

func (c *consoleSink) Start() {
	if c.spinner != nil {
		c.spinner.Start()
	}
}

func (c *consoleSink) Stop() {
	if c.spinner != nil {
		c.spinner.Stop()
	}
}

// Emit implements models.Sink.
func (c *consoleSink) Emit(e models.Event) {
	if e.Phase == models.PhaseDebug || e.Phase == models.PhaseLog {
		return
	}
	line := describe(e)
	if line == "" {
		return
	}
	if c.spinner != nil {
		c.spinner.Lock()
		c.spinner.Suffix = " " + line
		c.spinner.Unlock()
		return
	}
	if e.Phase == models.PhaseProgress {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func describe(e models.Event) string {
	name := label(e.Component)
	switch e.Phase {
	case models.PhaseStart:
		return name + "..."
	case models.PhaseProgress:
		if e.Percent > 0 {
			return fmt.Sprintf("%s %3.0f%%", name, e.Percent)
		}
		return name + "..."
	case models.PhaseEnd:
		if e.Err != "" {
			return fmt.Sprintf("%s failed: %s", name, e.Err)
		}
		if e.Stage != "" {
			return fmt.Sprintf("%s: %s", name, e.Stage)
		}
		return name + ": done"
	}
	return ""
}
