package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"aotc/internal/backend"
	"aotc/internal/compile"
	"aotc/internal/ui"
)

type compileOutcome struct {
	err error
}

// runCompileWithUI drives the coordinator in a goroutine while a Bubble
// Tea program renders per-class progress on stdout.
func runCompileWithUI(ctx context.Context, title string, coord *compile.Coordinator, classes []*compile.CompiledClass, comp backend.Compiler) error {
	events := make(chan compile.Event, 256)
	outcomeCh := make(chan compileOutcome, 1)

	names := make([]string, 0, len(classes))
	for _, cc := range classes {
		names = append(names, cc.Class.Name)
	}

	go func() {
		coord.Progress = compile.ChannelSink{Ch: events}
		err := coord.Compile(ctx, classes, comp)
		outcomeCh <- compileOutcome{err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, names, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return uiErr
	}
	return outcome.err
}
