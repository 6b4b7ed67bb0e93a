// Package www serves a read-only diagnostics view of a running session.
package www

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  h.logger.StandardLog(),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleIndex)
	r.Get("/status", h.handleStatus)
	r.Get("/conversation", h.handleConversation)
	r.Get("/messages", h.handleMessages)
	r.Get("/messages/stream", h.handleStream)
	r.Get("/routes", func(w http.ResponseWriter, req *http.Request) {
		var routes []string
		_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, method+" "+route)
			return nil
		})
		h.writeJSON(w, routes)
	})
	return r
}

func listenAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// Serve listens on the loopback interface until ctx is done.
func Serve(ctx context.Context, port int, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:    listenAddr(port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
