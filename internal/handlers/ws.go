// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/realtime"
	"github.com/jason-s-yu/tabletop/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	subprotocol  = "game"
	maxFrameSize = 1 << 20
)

// Client message types.
const (
	msgMove  = "move"
	msgFetch = "fetch"
	msgChat  = "chat"
	msgPing  = "ping"
)

// Server reply types. Realtime events are forwarded as they are and carry
// their own type.
const (
	msgState  = "state"
	msgResync = "resync"
	msgError  = "error"
	msgPong   = "pong"
)

var errSlowConsumer = errors.New("subscriber fell behind")

// clientMessage is one frame from a client. ID is echoed on the reply.
type clientMessage struct {
	Type string           `json:"type"`
	ID   string           `json:"id,omitempty"`
	Move *models.MoveData `json:"move,omitempty"`
	Body string           `json:"body,omitempty"`
}

type serverMessage struct {
	Type   string              `json:"type"`
	ID     string              `json:"id,omitempty"`
	State  *models.GameState   `json:"state,omitempty"`
	Resync *session.Resync     `json:"resync,omitempty"`
	Chat   *models.ChatMessage `json:"chat,omitempty"`
	Error  string              `json:"error,omitempty"`
	Kind   string              `json:"kind,omitempty"`
}

// gameSocket upgrades a seated player to the game channel. The client gets a
// resync first, then every event for the game, and may submit moves, chat and
// fetch requests on the same socket.
func (s *Server) gameSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	userID := userFrom(r.Context())
	g, err := s.games.GetGame(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if g.Player(userID) == nil {
		s.writeError(w, session.ErrNotSeated)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{subprotocol},
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket accept failed")
		return
	}
	if c.Subprotocol() != subprotocol {
		c.Close(BadSubprotocolError, "client must speak the game subprotocol")
		return
	}
	c.SetReadLimit(maxFrameSize)
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)

	err = s.runSocket(r.Context(), c, id, userID)
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
}

func (s *Server) runSocket(parent context.Context, c *websocket.Conn, gameID, userID uuid.UUID) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	log := s.logger.WithFields(logrus.Fields{"game_id": gameID, "user_id": userID})

	sub := realtime.NewSubscriber(userID, realtime.DefaultBuffer)
	m, first := s.presence.Attach(ctx, gameID, sub)
	if first {
		s.setConnected(ctx, log, gameID, userID, true)
	}
	defer func() {
		dctx := context.WithoutCancel(ctx)
		if s.presence.Detach(dctx, m) {
			s.setConnected(dctx, log, gameID, userID, false)
		}
	}()

	rs, err := s.games.Resync(ctx, gameID, userID)
	if err != nil {
		log.WithError(err).Warn("resync failed")
		c.Close(ResyncFailedError, "could not load game")
		return err
	}
	if err := wsjson.Write(ctx, c, serverMessage{Type: msgResync, Resync: rs}); err != nil {
		return err
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.pump(ectx, c, sub) })
	eg.Go(func() error { return s.serve(ectx, c, gameID, userID) })
	err = eg.Wait()

	switch {
	case errors.Is(err, errSlowConsumer):
		c.Close(SlowConsumerError, "missed events, reconnect to resync")
	case websocket.CloseStatus(err) != -1:
		// client closed
		err = nil
	case parent.Err() != nil:
		c.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		c.Close(websocket.StatusInternalError, "")
	}
	return err
}

// setConnected records presence on the game record. Failure only delays
// abandonment detection, so it is logged and not surfaced.
func (s *Server) setConnected(ctx context.Context, log *logrus.Entry, gameID, userID uuid.UUID, connected bool) {
	err := retryErr(ctx, s.opts.Retry, func() error {
		return s.games.SetConnected(ctx, gameID, userID, connected)
	})
	if err != nil && !errors.Is(err, session.ErrNotSeated) {
		log.WithError(err).WithField("connected", connected).Warn("failed to record presence")
	}
}

// pump forwards hub events to the socket until the context ends.
func (s *Server) pump(ctx context.Context, c *websocket.Conn, sub *realtime.Subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sub.OutChan:
			if err := wsjson.Write(ctx, c, ev); err != nil {
				return err
			}
			if sub.Dropped() > 0 {
				return errSlowConsumer
			}
		}
	}
}

// serve answers client frames in order.
func (s *Server) serve(ctx context.Context, c *websocket.Conn, gameID, userID uuid.UUID) error {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		var msg clientMessage
		var reply serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			reply = serverMessage{Type: msgError, Error: "invalid message format", Kind: session.KindValidation.String()}
		} else {
			reply = s.dispatch(ctx, gameID, userID, msg)
		}
		if err := wsjson.Write(ctx, c, reply); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, gameID, userID uuid.UUID, msg clientMessage) serverMessage {
	var (
		reply serverMessage
		err   error
	)
	switch msg.Type {
	case msgPing:
		reply.Type = msgPong
	case msgMove:
		if msg.Move == nil {
			err = session.ErrMalformedMove
			break
		}
		reply.Type = msgState
		reply.State, err = retry(ctx, s.opts.Retry, func() (*models.GameState, error) {
			return s.games.SubmitMove(ctx, gameID, userID, *msg.Move)
		})
	case msgFetch:
		reply.Type = msgResync
		reply.Resync, err = s.games.Resync(ctx, gameID, userID)
	case msgChat:
		reply.Type = msgChat
		reply.Chat, err = s.games.PostChat(ctx, gameID, userID, msg.Body)
	default:
		return serverMessage{Type: msgError, ID: msg.ID, Error: "unknown message type " + msg.Type, Kind: session.KindValidation.String()}
	}
	if err != nil {
		body := s.describe(err)
		return serverMessage{Type: msgError, ID: msg.ID, Error: body.Error, Kind: body.Kind}
	}
	reply.ID = msg.ID
	return reply
}
