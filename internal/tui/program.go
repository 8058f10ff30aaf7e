package tui

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codefionn/sessionbridge/internal/state"
)

// Forward delivers store changes to send as StateMsg values. Bursts of
// updates are coalesced into the latest snapshot, and send is never called
// from inside a store notification, so it may block. The returned function
// stops forwarding.
func Forward(store *state.Store, send func(tea.Msg)) (stop func()) {
	notify := make(chan struct{}, 1)
	quit := make(chan struct{})

	unsubscribe := store.Subscribe(func(state.State) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})

	go func() {
		send(StateMsg{State: store.Snapshot()})
		for {
			select {
			case <-quit:
				return
			case <-notify:
				send(StateMsg{State: store.Snapshot()})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(quit)
		})
	}
}

// Run shows the attach screen until the user quits or ctx is done
func Run(ctx context.Context, ctrl Controller, store *state.Store, workspace string) error {
	p := tea.NewProgram(NewModel(ctrl, workspace), tea.WithAltScreen(), tea.WithContext(ctx))

	stop := Forward(store, p.Send)
	defer stop()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
