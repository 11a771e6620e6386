package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/dep"
	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/he"
	"github.com/ts4z/floorman/middleware"
	"github.com/ts4z/floorman/permission"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/tournament"
	"github.com/ts4z/floorman/varz"
	"github.com/ts4z/floorman/webapp/kbd"
)

var (
	requestsRejected = varz.NewInt("requestsRejected")
	requestsFailed   = varz.NewInt("requestsFailed")
)

type nower interface {
	Now() time.Time
}

// Config holds the configuration for creating a new App.
type Config struct {
	Facade         *permission.Facade
	Registry       *gossip.Registry
	Tokens         middleware.TokenParser
	Clock          nower
	AllowedOrigins []string
}

// App is the HTTP surface: a JSON API over the permission facade and a
// websocket feed over the gossip registry.
type App struct {
	facade   *permission.Facade
	registry *gossip.Registry
	clock    nower
	keys     *kbd.KeyboardShortcutDispatcher
	upgrader websocket.Upgrader

	router  chi.Router
	handler http.Handler
}

func New(config *Config) *App {
	app := &App{
		facade:   dep.Required(config.Facade),
		registry: dep.Required(config.Registry),
		clock:    dep.Required(config.Clock),
	}
	app.keys = kbd.NewKeyboardShortcutDispatcher(app.facade)
	app.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(config.AllowedOrigins),
	}

	app.router = chi.NewRouter()
	app.router.Use(chimw.Recoverer)
	app.installHandlers()

	// Stack the handlers together.
	bearer := middleware.NewBearerToContext(dep.Required(config.Tokens), app.router)
	logger := middleware.NewRequestLogger(bearer, app.clock)
	for _, origin := range config.AllowedOrigins {
		log.Info().Str("origin", origin).Msg("CORS allowing origin")
	}
	corsMW := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	app.handler = corsMW.Handler(logger)
	return app
}

// Handler returns the configured HTTP handler.
func (app *App) Handler() http.Handler {
	return app.handler
}

// checkOrigin admits websocket handshakes from the CORS origins.  With no
// origins configured, gorilla's same-host check applies.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := map[string]bool{}
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

func (app *App) installHandlers() {
	r := app.router
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/debug/vars", varz.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/listen", app.handleListen)
		r.Get("/keyboard-shortcuts", app.handleKeyboardShortcuts)

		r.Route("/tournaments", func(r chi.Router) {
			r.Post("/", app.handleCreateTournament)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.handleGetTournament)
				r.Put("/status", app.handleSetStatus)
				r.Put("/structure", app.handleReplaceStructure)
				r.Get("/clock", app.handleGetClock)
				r.Post("/clock/{op}", app.handleClockOp)
				r.Post("/keypress", app.handleKeypress)
				r.Get("/payout", app.handleGetPayout)
				r.Post("/payout/recalculate", app.handleRecalculate)
				r.Post("/entries", app.handleRecordEntry)
				r.Get("/entries/stats", app.handleEntryStats)
				r.Delete("/entries/{entryID}", app.handleDeleteEntry)
				r.Post("/registrations", app.handleRegister)
				r.Put("/registrations/{userID}", app.handleSetRegistration)
				r.Get("/activity", app.handleActivity)
			})
		})

		r.Route("/payout-templates", func(r chi.Router) {
			r.Get("/", app.handleListTemplates)
			r.Post("/", app.handleCreateTemplate)
			r.Delete("/{id}", app.handleDeleteTemplate)
		})
	})
}

// classify attaches an HTTP status to errors from below.
func classify(err error) error {
	var herr *he.HTTPError
	switch {
	case errors.As(err, &herr):
		return err
	case errors.Is(err, permission.ErrUnauthenticated):
		return he.New(http.StatusUnauthorized, err)
	case errors.Is(err, permission.ErrPermissionDenied):
		return he.New(http.StatusForbidden, err)
	case errors.Is(err, state.ErrNotFound):
		return he.New(http.StatusNotFound, err)
	case errors.Is(err, tournament.ErrInvalidArgument):
		return he.New(http.StatusBadRequest, err)
	case errors.Is(err, tournament.ErrInvalidState), errors.Is(err, state.ErrConcurrentModification):
		return he.New(http.StatusConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		return he.New(http.StatusServiceUnavailable, err)
	}
	return err
}

func sendError(w http.ResponseWriter, while string, err error) {
	err = classify(err)
	var herr *he.HTTPError
	if errors.As(err, &herr) && herr.Code() < 500 {
		requestsRejected.Add(1)
	} else {
		requestsFailed.Add(1)
	}
	he.SendErrorToHTTPClient(w, while, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		he.SendErrorToHTTPClient(w, "marshal response", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(bytes); err != nil {
		log.Debug().Err(err).Msg("error writing response to client")
	}
}

const maxBody = 1 << 20

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return he.HTTPCodedErrorf(http.StatusBadRequest, "decoding json: %w", err)
	}
	return nil
}

// Wrapper to just return the input context.
func contextualizer(ctx context.Context) func(net.Listener) context.Context {
	return func(_ net.Listener) context.Context {
		return ctx
	}
}

// Serve runs the HTTP server until ctx is done.
func (app *App) Serve(ctx context.Context, listenAddress string) error {
	server := &http.Server{
		Addr:        listenAddress,
		Handler:     app.handler,
		BaseContext: contextualizer(ctx),
		ReadTimeout: 10 * time.Second,
		// Websocket feeds stay open; they set their own write deadlines.
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", listenAddress).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server exited: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
