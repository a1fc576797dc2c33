// Package telestrations implements Telestrations, a simultaneous drawing and
// guessing game played by passing sketchbooks around the table.
package telestrations

import (
	"strings"

	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

const (
	PhaseInitialPrompt = "INITIAL_PROMPT"
	PhaseDrawing       = "DRAWING"
	PhaseGuessing      = "GUESSING"
	PhaseReveal        = "REVEAL"
	PhaseRoundOver     = "ROUND_OVER"
	PhaseGameOver      = "GAME_OVER"

	ActionPrompt     = "prompt"
	ActionDraw       = "draw"
	ActionGuess      = "guess"
	ActionRevealDone = "reveal_done"
	ActionNextRound  = "next_round"

	PageDrawing = "drawing"
	PagePrompt  = "prompt"
	PageGuess   = "guess"

	defaultMaxDrawingBytes = 256 << 10
	maxTextLength          = 140
)

// Page is one entry in a sketchbook.
type Page struct {
	Kind    string `json:"kind"`
	Author  int    `json:"author"`
	Content string `json:"content"`
}

// Sketchbook starts with its owner's prompt and collects one page per seat.
type Sketchbook struct {
	Owner int    `json:"owner"`
	Pages []Page `json:"pages"`
}

// State is the full Telestrations payload.
type State struct {
	Players         int `json:"players"`
	Rounds          int `json:"rounds"`
	MaxDrawingBytes int `json:"maxDrawingBytes"`

	Round int    `json:"round"`
	Turn  int    `json:"turn"`
	Phase string `json:"phase"`

	Books     []Sketchbook   `json:"books"`
	Submitted []bool         `json:"submitted"`
	Archive   [][]Sketchbook `json:"archive,omitempty"`
}

// View is the game as one seat sees it. While books are still travelling a
// seat sees only the latest page of the book in its hands; every book is
// opened once the round reaches REVEAL.
type View struct {
	Players         int `json:"players"`
	Rounds          int `json:"rounds"`
	MaxDrawingBytes int `json:"maxDrawingBytes"`

	Round int    `json:"round"`
	Turn  int    `json:"turn"`
	Phase string `json:"phase"`

	Held      *Sketchbook    `json:"held,omitempty"`
	Books     []Sketchbook   `json:"books,omitempty"`
	Submitted []bool         `json:"submitted"`
	Archive   [][]Sketchbook `json:"archive,omitempty"`
}

// Revealed reports whether the current round's books are open to everyone.
func (s *State) Revealed() bool {
	switch s.Phase {
	case PhaseReveal, PhaseRoundOver, PhaseGameOver:
		return true
	}
	return false
}

// TextPayload carries a prompt or a guess.
type TextPayload struct {
	Text string `json:"text"`
}

// DrawingPayload carries an encoded image, usually a data URL.
type DrawingPayload struct {
	Drawing string `json:"drawing"`
}

// BookHeldBy returns the sketchbook seat holds during turn.
func BookHeldBy(seat, turn, players int) int {
	return ((seat-turn)%players + players) % players
}

// HolderOf returns the seat holding book during turn.
func HolderOf(book, turn, players int) int {
	return (book + turn) % players
}

// Engine is the Telestrations rule engine.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() models.GameType { return models.GameTypeTelestrations }

func (e *Engine) Seats() (int, int) { return 3, 8 }

func (e *Engine) Initialize(setup rules.Setup) (rules.Outcome, error) {
	lo, hi := e.Seats()
	if setup.Seats < lo || setup.Seats > hi {
		return rules.Outcome{}, rules.Invalid("telestrations needs %d-%d players, got %d", lo, hi, setup.Seats)
	}
	opts := rules.Options(setup.Options)
	rounds, err := opts.Int("rounds", 1, 1)
	if err != nil {
		return rules.Outcome{}, rules.Invalid("%v", err)
	}
	maxBytes, err := opts.Int("maxDrawingBytes", defaultMaxDrawingBytes, 1)
	if err != nil {
		return rules.Outcome{}, rules.Invalid("%v", err)
	}
	st := &State{Players: setup.Seats, Rounds: rounds, MaxDrawingBytes: maxBytes}
	startRound(st)
	return e.outcome(st, nil)
}

func startRound(st *State) {
	st.Turn = 0
	st.Phase = PhaseInitialPrompt
	st.Books = make([]Sketchbook, st.Players)
	for b := range st.Books {
		st.Books[b] = Sketchbook{Owner: b}
	}
	resetSubmissions(st)
}

func resetSubmissions(st *State) {
	st.Submitted = make([]bool, st.Players)
}

// expectedAction maps a phase to the only action it accepts.
func expectedAction(phase string) string {
	switch phase {
	case PhaseInitialPrompt:
		return ActionPrompt
	case PhaseDrawing:
		return ActionDraw
	case PhaseGuessing:
		return ActionGuess
	case PhaseReveal:
		return ActionRevealDone
	case PhaseRoundOver:
		return ActionNextRound
	}
	return ""
}

func (e *Engine) Validate(data []byte, seat int, move models.MoveData) error {
	st, err := rules.Decode[State](data)
	if err != nil {
		return err
	}
	_, err = validate(st, seat, move)
	return err
}

// validate returns the page content the move would write, if any.
func validate(st *State, seat int, move models.MoveData) (string, error) {
	if seat < 0 || seat >= st.Players {
		return "", rules.Invalid("seat %d is not in this game", seat)
	}
	if st.Phase == PhaseGameOver {
		return "", rules.Invalid("the game is over")
	}
	want := expectedAction(st.Phase)
	if move.Action != want {
		return "", rules.Invalid("%s expects %q, got %q", st.Phase, want, move.Action)
	}
	if st.Submitted[seat] {
		return "", rules.Invalid("already submitted for %s", st.Phase)
	}

	switch move.Action {
	case ActionPrompt, ActionGuess:
		var p TextPayload
		if err := rules.DecodePayload(move, &p); err != nil {
			return "", err
		}
		text := strings.TrimSpace(p.Text)
		if text == "" {
			return "", rules.Invalid("%s must not be empty", move.Action)
		}
		if len([]rune(text)) > maxTextLength {
			return "", rules.Invalid("%s is longer than %d characters", move.Action, maxTextLength)
		}
		return text, nil
	case ActionDraw:
		var p DrawingPayload
		if err := rules.DecodePayload(move, &p); err != nil {
			return "", err
		}
		if p.Drawing == "" {
			return "", rules.Invalid("drawing must not be empty")
		}
		if len(p.Drawing) > st.MaxDrawingBytes {
			return "", rules.Invalid("drawing exceeds %d bytes", st.MaxDrawingBytes)
		}
		return p.Drawing, nil
	}
	return "", nil
}

func (e *Engine) Apply(data []byte, seat int, move models.MoveData) (rules.Outcome, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return rules.Outcome{}, err
	}
	content, err := validate(st, seat, move)
	if err != nil {
		return rules.Outcome{}, err
	}

	switch move.Action {
	case ActionPrompt, ActionDraw, ActionGuess:
		b := BookHeldBy(seat, st.Turn, st.Players)
		st.Books[b].Pages = append(st.Books[b].Pages, Page{
			Kind:    pageKind(move.Action),
			Author:  seat,
			Content: content,
		})
	}
	st.Submitted[seat] = true

	notes := map[string]any{}
	for _, done := range st.Submitted {
		if !done {
			return e.outcome(st, notes)
		}
	}
	from := st.Phase
	advance(st)
	notes["phaseAdvanced"] = from
	return e.outcome(st, notes)
}

func pageKind(action string) string {
	switch action {
	case ActionPrompt:
		return PagePrompt
	case ActionDraw:
		return PageDrawing
	}
	return PageGuess
}

// advance moves every seat into the next phase once all have submitted.
// Books pass one seat along after each writing phase.
func advance(st *State) {
	resetSubmissions(st)
	switch st.Phase {
	case PhaseInitialPrompt, PhaseDrawing, PhaseGuessing:
		st.Turn++
		switch {
		case st.Turn >= st.Players:
			st.Phase = PhaseReveal
		case st.Turn%2 == 1:
			st.Phase = PhaseDrawing
		default:
			st.Phase = PhaseGuessing
		}
	case PhaseReveal:
		st.Archive = append(st.Archive, st.Books)
		if st.Round+1 >= st.Rounds {
			st.Phase = PhaseGameOver
			return
		}
		st.Phase = PhaseRoundOver
	case PhaseRoundOver:
		st.Round++
		startRound(st)
	}
}

func (e *Engine) IsTerminal(data []byte) (bool, []int, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return false, nil, err
	}
	if st.Phase != PhaseGameOver {
		return false, nil, nil
	}
	return true, rules.AllSeats(st.Players), nil
}

func (e *Engine) View(data []byte, seat int) ([]byte, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return nil, err
	}
	v := View{
		Players:         st.Players,
		Rounds:          st.Rounds,
		MaxDrawingBytes: st.MaxDrawingBytes,
		Round:           st.Round,
		Turn:            st.Turn,
		Phase:           st.Phase,
		Submitted:       st.Submitted,
		Archive:         st.Archive,
	}
	switch {
	case st.Revealed():
		v.Books = st.Books
	case seat >= 0 && seat < st.Players:
		book := st.Books[BookHeldBy(seat, st.Turn, st.Players)]
		held := Sketchbook{Owner: book.Owner}
		if n := len(book.Pages); n > 0 {
			held.Pages = book.Pages[n-1:]
		}
		v.Held = &held
	}
	return rules.Encode(v)
}

// Secret reports whether move writes a page. Pages stay private to their
// author until the game ends.
func (e *Engine) Secret(move models.MoveData) bool {
	switch move.Action {
	case ActionPrompt, ActionDraw, ActionGuess:
		return true
	}
	return false
}

// Pending lists the seats that have not yet submitted for the current phase.
func (s *State) Pending() []int {
	var out []int
	for seat, done := range s.Submitted {
		if !done {
			out = append(out, seat)
		}
	}
	return out
}

func (e *Engine) outcome(st *State, notes map[string]any) (rules.Outcome, error) {
	data, err := rules.Encode(st)
	if err != nil {
		return rules.Outcome{}, err
	}
	out := rules.Outcome{Data: data, Phase: st.Phase, Notes: notes}
	if st.Phase == PhaseGameOver {
		out.Terminal = true
		out.Winners = rules.AllSeats(st.Players)
		return out, nil
	}
	out.Simultaneous = true
	out.Pending = st.Pending()
	if len(out.Pending) > 0 {
		out.NextSeat = out.Pending[0]
	}
	return out, nil
}
