package main

import (
	"fmt"

	"github.com/codefionn/sessionbridge/internal/bridge"
	"github.com/codefionn/sessionbridge/internal/config"
	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/state"
	"github.com/codefionn/sessionbridge/internal/transport"
)

func newClient(c *config.Config) (*hostapi.Client, error) {
	return hostapi.NewClient(hostapi.Config{
		BaseURL:   c.HostURL,
		AuthToken: c.AuthToken,
		Timeout:   c.RequestTimeout(),
	})
}

func newCoordinator(c *config.Config, opts ...bridge.Option) (*bridge.Coordinator, error) {
	client, err := newClient(c)
	if err != nil {
		return nil, err
	}

	streamURL, err := c.ResolvedStreamURL()
	if err != nil {
		return nil, err
	}
	dialer, err := transport.NewWebSocketDialer(streamURL, c.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream dialer: %w", err)
	}

	store := state.NewStore(state.WithHistoryLimit(c.Output.HistoryLimit))
	return bridge.New(client, client, dialer, store, opts...), nil
}
