// internal/handlers/rest.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/session"
)

type createGameRequest struct {
	GameType   models.GameType `json:"gameType"`
	MaxPlayers int             `json:"maxPlayers"`
	IsPrivate  bool            `json:"isPrivate"`
	Passcode   string          `json:"passcode"`
	Options    map[string]any  `json:"gameOptions"`
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	g, err := s.games.Create(r.Context(), session.CreateParams{
		CreatorID:  userFrom(r.Context()),
		GameType:   req.GameType,
		MaxPlayers: req.MaxPlayers,
		IsPrivate:  req.IsPrivate,
		Passcode:   req.Passcode,
		Options:    req.Options,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	g, err := s.games.GetGame(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	st, err := s.games.GetState(r.Context(), id, userFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req struct {
		Passcode string `json:"passcode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	p, err := retry(ctx, s.opts.Retry, func() (*models.GamePlayer, error) {
		return s.games.Join(ctx, id, userFrom(ctx), req.Passcode)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) leaveGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	err := retryErr(ctx, s.opts.Retry, func() error {
		return s.games.Leave(ctx, id, userFrom(ctx))
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	err := retryErr(ctx, s.opts.Retry, func() error {
		return s.games.Cancel(ctx, id, userFrom(ctx), req.Reason)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setReady marks the caller ready unless the body says {"ready": false}.
func (s *Server) setReady(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req struct {
		Ready *bool `json:"ready"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ready := req.Ready == nil || *req.Ready
	ctx := r.Context()
	g, err := retry(ctx, s.opts.Retry, func() (*models.Game, error) {
		return s.games.SetReady(ctx, id, userFrom(ctx), ready)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) submitMove(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var move models.MoveData
	if !decodeBody(w, r, &move) {
		return
	}
	ctx := r.Context()
	st, err := retry(ctx, s.opts.Retry, func() (*models.GameState, error) {
		return s.games.SubmitMove(ctx, id, userFrom(ctx), move)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listMoves(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	moves, err := s.games.History(r.Context(), id, userFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if moves == nil {
		moves = []models.Move{}
	}
	writeJSON(w, http.StatusOK, moves)
}

func (s *Server) listChat(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	msgs, err := s.games.Chat(r.Context(), id, userFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.games.PostChat(r.Context(), id, userFrom(r.Context()), req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
