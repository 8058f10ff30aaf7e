// Package protocol defines the frames exchanged over a session stream.
//
// Server frames share the envelope {type, data, timestamp}. DecodeEvent turns
// an envelope into one of the concrete Event types, each carrying a typed
// payload, so consumers switch on the Go type instead of inspecting raw data:
//
//	ev, err := protocol.DecodeEvent(raw)
//	if err != nil {
//	    // malformed frame: log and drop
//	}
//	switch e := ev.(type) {
//	case protocol.OutputEvent:
//	    fmt.Print(e.Text)
//	case protocol.PermissionRequestEvent:
//	    ask(e.Request)
//	}
//
// Client frames (input, permission, resize) are fire-and-forget; the server
// defines no acknowledgement.
package protocol
