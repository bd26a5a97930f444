// Package tui implements the interactive chat terminal for tidegraph.
//
// The model wraps a client.Controller: the controller owns the chat state
// and the streaming lifecycle, the model owns presentation. Controller hub
// notifications are forwarded into the Bubble Tea loop through a buffered
// union channel, and answer deltas, which accumulate inside the message
// controllers without per-token notifications, are sampled on the spinner
// cadence.
package tui

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"

	"github.com/tidegraph/tidegraph/internal/client"
)

// Run starts the chat program and blocks until the user exits.
// newSession must return a fresh session controller; it is called once at
// startup and again for every /new command.
func Run(ctx context.Context, newSession func() *client.Controller) error {
	m, err := New(ctx, newSession)
	if err != nil {
		return err
	}

	p := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running chat program: %w", err)
	}
	return nil
}
