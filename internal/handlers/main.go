package handlers

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/metrics"
	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tmaxmax/go-sse"
)

// Store defines the document database operations the handlers rely on. Paths address documents
// and collections the way models.ChatPath and models.ChatsPath build them. Update must apply all
// fields in a single atomic write.
type Store interface {
	Get(ctx context.Context, path string) (models.Document, error)
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collection string, q models.Query) ([]models.Document, error)
	Watch(ctx context.Context, group string, q models.Query) iter.Seq2[models.CollectionSnapshot, error]
}

// Verifier verifies a bearer credential and returns the identity it was issued to.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Pipeline produces the answer to the last message of a conversation.
type Pipeline interface {
	Run(ctx context.Context, messages []models.Message, userID string) (models.Outcome, error)
}

// Main handles the chat API: the message endpoint that runs the answer pipeline, chat management,
// and the server-sent events stream that pushes chat list changes to clients.
type Main struct {
	sseSrv *sse.Server

	store    Store
	verifier Verifier
	pipeline Pipeline
	metrics  *metrics.Metrics

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	defaultChatsLimit = 100
	maxChatsLimit     = 500
	maxBodySize       = 1 << 20
)

// NewMain creates a new Main instance. metrics may be nil.
func NewMain(store Store, verifier Verifier, pipeline Pipeline, mtr *metrics.Metrics, logger *slog.Logger) Main {
	m := Main{
		store:    store,
		verifier: verifier,
		pipeline: pipeline,
		metrics:  mtr,
		logger:   logger.With(slog.String("module", "main")),
	}
	m.sseSrv = &sse.Server{OnSession: m.onSession}
	return m
}

// Routes builds the HTTP router. Every /api route requires a bearer credential, which is verified
// before any store access.
func (m Main) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(m.observe)

	r.Route("/api/chats", func(r chi.Router) {
		r.With(m.authenticate(bearerFromQuery)).Get("/events", m.HandleEvents)

		r.Group(func(r chi.Router) {
			r.Use(m.authenticate(bearerFromHeader))

			r.Post("/", m.HandleCreateChat)
			r.Get("/", m.HandleListChats)
			r.Get("/{chatID}", m.HandleGetChat)
			r.Delete("/{chatID}", m.HandleDeleteChat)
			r.Post("/{chatID}/messages", m.HandleMessage)
			r.Delete("/{chatID}/messages/{index}", m.HandleDeleteMessage)
		})
	})

	return r
}

// observe counts served requests by route pattern, so paths with IDs don't explode the label set.
func (m Main) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.metrics.ObserveRequest(route, status)
	})
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("close")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
