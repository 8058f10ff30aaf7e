package hostsim

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/codefionn/sessionbridge/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Serve listens on addr until ctx is done. ready, when non-nil, receives the
// bound address once the listener is up.
func (h *Host) Serve(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.NewSlogHandler(h.log), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	h.log.Info("development host listening on %s", ln.Addr())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked stream connections are not tracked by Shutdown
	h.closeAllStreams()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (h *Host) closeAllStreams() {
	h.mu.Lock()
	var streams []*stream
	for _, sess := range h.sessions {
		for st := range sess.streams {
			streams = append(streams, st)
		}
	}
	h.mu.Unlock()

	closeStreams(streams)
}
