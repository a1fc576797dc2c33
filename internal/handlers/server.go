// internal/handlers/server.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/realtime"
	"github.com/jason-s-yu/tabletop/internal/session"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// Games is the slice of the session service the HTTP and WebSocket surfaces
// drive.
type Games interface {
	Create(ctx context.Context, p session.CreateParams) (*models.Game, error)
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	Join(ctx context.Context, gameID, userID uuid.UUID, passcode string) (*models.GamePlayer, error)
	Leave(ctx context.Context, gameID, userID uuid.UUID) error
	Cancel(ctx context.Context, gameID, userID uuid.UUID, reason string) error
	SetReady(ctx context.Context, gameID, userID uuid.UUID, ready bool) (*models.Game, error)
	SetConnected(ctx context.Context, gameID, userID uuid.UUID, connected bool) error
	SubmitMove(ctx context.Context, gameID, userID uuid.UUID, move models.MoveData) (*models.GameState, error)
	GetState(ctx context.Context, gameID, userID uuid.UUID) (*models.GameState, error)
	History(ctx context.Context, gameID, userID uuid.UUID, limit int) ([]models.Move, error)
	Resync(ctx context.Context, gameID, userID uuid.UUID) (*session.Resync, error)
	Chat(ctx context.Context, gameID, userID uuid.UUID) ([]models.ChatMessage, error)
	PostChat(ctx context.Context, gameID, userID uuid.UUID, body string) (*models.ChatMessage, error)
}

// Presence tracks which sockets are attached to which game.
type Presence interface {
	Attach(ctx context.Context, gameID uuid.UUID, sub *realtime.Subscriber) (*realtime.Membership, bool)
	Detach(ctx context.Context, m *realtime.Membership) bool
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (uuid.UUID, error)
}

// RetryPolicy bounds how long a request waits out lock contention before the
// concurrency error is handed back to the client.
type RetryPolicy struct {
	MaxTries uint
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetry gives up after roughly half a second of contention.
var DefaultRetry = RetryPolicy{MaxTries: 6, Initial: 20 * time.Millisecond, Max: 200 * time.Millisecond}

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	Retry          RetryPolicy
}

// Server serves the REST and WebSocket API for game sessions.
type Server struct {
	games    Games
	presence Presence
	auth     Authenticator
	logger   *logrus.Logger
	opts     Options
}

// NewServer wires a Server. A zero Retry policy falls back to DefaultRetry.
func NewServer(games Games, presence Presence, auth Authenticator, logger *logrus.Logger, opts Options) *Server {
	if opts.Retry.MaxTries == 0 {
		opts.Retry = DefaultRetry
	}
	return &Server{games: games, presence: presence, auth: auth, logger: logger, opts: opts}
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.logger))
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/games", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/", s.createGame)
		r.Route("/{gameID}", func(r chi.Router) {
			r.Get("/", s.getGame)
			r.Get("/state", s.getState)
			r.Post("/join", s.joinGame)
			r.Post("/leave", s.leaveGame)
			r.Post("/cancel", s.cancelGame)
			r.Post("/ready", s.setReady)
			r.Get("/moves", s.listMoves)
			r.Post("/moves", s.submitMove)
			r.Get("/chat", s.listChat)
			r.Post("/chat", s.postChat)
			r.Get("/ws", s.gameSocket)
		})
	})
	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.opts.AllowedOrigins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return s.opts.AllowedOrigins
}

// originPatterns turns the configured origins into the host patterns the
// WebSocket handshake checks against.
func (s *Server) originPatterns() []string {
	var out []string
	for _, o := range s.opts.AllowedOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}

type userKey struct{}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userKey{}).(uuid.UUID)
	return id
}

// gameID parses the {gameID} path segment, answering 400 when it is not a UUID.
func gameID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "gameID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid game id"})
		return uuid.Nil, false
	}
	return id, true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps a session error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, session.ErrNotSeated) || errors.Is(err, session.ErrNotCreator) {
		return http.StatusForbidden
	}
	switch session.KindOf(err) {
	case session.KindValidation:
		return http.StatusUnprocessableEntity
	case session.KindConcurrency, session.KindLifecycle:
		return http.StatusConflict
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindInfrastructure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// describe renders err for a client. Backing store failures are logged and
// reported without their detail.
func (s *Server) describe(err error) errorBody {
	kind := session.KindOf(err)
	switch kind {
	case session.KindInfrastructure, session.KindUnknown:
		s.logger.WithError(err).Error("request failed")
		return errorBody{Error: "service temporarily unavailable", Kind: kind.String()}
	}
	return errorBody{Error: err.Error(), Kind: kind.String()}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), s.describe(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
	return false
}

// retry runs op until it succeeds, fails with something other than lock
// contention, or the policy runs out.
func retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !session.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
}

// retryErr is retry for operations with no result.
func retryErr(ctx context.Context, p RetryPolicy, op func() error) error {
	_, err := retry(ctx, p, func() (struct{}, error) { return struct{}{}, op() })
	return err
}
