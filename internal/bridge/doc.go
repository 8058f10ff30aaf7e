// Package bridge coordinates one interactive remote session at a time.
//
// A Coordinator ties together the workspace directory, the session host, the
// stream transport and the shared state store:
//
//	coord := bridge.New(client, client, dialer, state.NewStore(),
//	    bridge.WithSink(sink.NewTerminalSink(os.Stdout)))
//	defer coord.Close()
//
//	if _, err := coord.StartSession(ctx, "demo", "run the tests"); err != nil {
//	    return err
//	}
//	coord.SendInput("y\n")
//
// Control-plane failures (workspace and session CRUD) are recorded in the
// store's single error slot; the mutating ones are also returned. Interactive
// calls (SendInput, RespondToPermission, ResizeTerminal) never fail: when the
// stream is not open the frame is dropped, since the state already shows the
// connection health.
//
// Starting a session always ends the previous one first, and opening a
// stream always closes the previous stream first, so at most one session and
// one connection are live per Coordinator. Stream events are applied in
// arrival order; events from a connection that has already been replaced are
// discarded.
package bridge
