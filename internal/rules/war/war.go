// Package war implements the two-player card game War.
package war

import (
	"github.com/jason-s-yu/tabletop/internal/cards"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

const (
	PhaseBattle = "battle"
	PhaseWar    = "war"
	PhaseOver   = "over"

	ActionFlip = "flip"

	// warFaceDown is how many cards each side buries before the deciding face-up card.
	warFaceDown = 3
)

// State is the full War payload. Decks are ordered top first.
type State struct {
	Seed    uint64          `json:"seed"`
	Decks   [2][]cards.Card `json:"decks"`
	Pile    []cards.Card    `json:"pile"`
	Phase   string          `json:"phase"`
	Battles int             `json:"battles"`
	Wars    int             `json:"wars"`
	Winner  int             `json:"winner"`
	Forfeit bool            `json:"forfeit"`

	LastFaceUp []cards.Card `json:"lastFaceUp,omitempty"`
}

// View is what either player sees. Both decks are face down, as are the
// cards buried in a war, so only their sizes are shown.
type View struct {
	DeckSizes [2]int `json:"deckSizes"`
	PileSize  int    `json:"pileSize"`
	Phase     string `json:"phase"`
	Battles   int    `json:"battles"`
	Wars      int    `json:"wars"`
	Winner    int    `json:"winner"`
	Forfeit   bool   `json:"forfeit"`

	LastFaceUp []cards.Card `json:"lastFaceUp,omitempty"`
}

// CardCount returns the number of cards held by both players plus the pile.
func (s *State) CardCount() int {
	return len(s.Decks[0]) + len(s.Decks[1]) + len(s.Pile)
}

// Engine is the War rule engine.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() models.GameType { return models.GameTypeWar }

func (e *Engine) Seats() (int, int) { return 2, 2 }

// Initialize shuffles one deck and deals it alternately, 26 cards each.
func (e *Engine) Initialize(setup rules.Setup) (rules.Outcome, error) {
	if setup.Seats != 2 {
		return rules.Outcome{}, rules.Invalid("war needs exactly 2 players, got %d", setup.Seats)
	}
	deck := cards.NewDeck(false)
	cards.Shuffle(rules.NewRand(setup.Seed, 0), deck)

	st := &State{Seed: setup.Seed, Phase: PhaseBattle, Winner: -1}
	for i, c := range deck {
		st.Decks[i%2] = append(st.Decks[i%2], c)
	}
	return e.outcome(st, nil)
}

func (e *Engine) Validate(data []byte, seat int, move models.MoveData) error {
	st, err := rules.Decode[State](data)
	if err != nil {
		return err
	}
	return validate(st, seat, move)
}

func validate(st *State, seat int, move models.MoveData) error {
	if seat < 0 || seat > 1 {
		return rules.Invalid("seat %d is not in this game", seat)
	}
	if st.Phase == PhaseOver {
		return rules.Invalid("the game is over")
	}
	if move.Action != ActionFlip {
		return rules.Invalid("unknown action %q", move.Action)
	}
	return nil
}

// Apply reveals both top cards at once. Either seat may trigger the reveal.
func (e *Engine) Apply(data []byte, seat int, move models.MoveData) (rules.Outcome, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return rules.Outcome{}, err
	}
	if err := validate(st, seat, move); err != nil {
		return rules.Outcome{}, err
	}

	notes := map[string]any{}
	if st.Phase == PhaseWar {
		st.Wars++
		notes["war"] = true
		if short := shortSide(st); short >= 0 {
			forfeit(st, 1-short)
			notes["forfeit"] = short
			return e.outcome(st, notes)
		}
		for side := 0; side < 2; side++ {
			st.Pile = append(st.Pile, st.Decks[side][:warFaceDown]...)
			st.Decks[side] = st.Decks[side][warFaceDown:]
		}
	} else {
		st.Battles++
	}

	up := [2]cards.Card{st.Decks[0][0], st.Decks[1][0]}
	st.Decks[0] = st.Decks[0][1:]
	st.Decks[1] = st.Decks[1][1:]
	st.Pile = append(st.Pile, up[0], up[1])
	st.LastFaceUp = up[:]
	notes["faceUp"] = up

	switch {
	case up[0].Rank > up[1].Rank:
		collect(st, 0)
		notes["winner"] = 0
	case up[1].Rank > up[0].Rank:
		collect(st, 1)
		notes["winner"] = 1
	default:
		st.Phase = PhaseWar
		notes["tie"] = true
		// A tie on the last cards leaves one side empty; the war that follows is a forfeit.
	}

	for side := 0; side < 2; side++ {
		if len(st.Decks[side]) == 0 && len(st.Pile) == 0 {
			st.Phase = PhaseOver
			st.Winner = 1 - side
		}
	}
	return e.outcome(st, notes)
}

// shortSide returns the seat that cannot supply a full war, or -1. When both
// are short the one holding fewer cards forfeits; on equal counts seat 1 does.
func shortSide(st *State) int {
	need := warFaceDown + 1
	s0, s1 := len(st.Decks[0]) < need, len(st.Decks[1]) < need
	switch {
	case s0 && s1:
		if len(st.Decks[0]) < len(st.Decks[1]) {
			return 0
		}
		return 1
	case s0:
		return 0
	case s1:
		return 1
	}
	return -1
}

// collect moves the pile under the winner's deck. The pile is shuffled first
// so long games cannot cycle forever.
func collect(st *State, winner int) {
	cards.Shuffle(rules.NewRand(st.Seed, uint64(st.Battles+st.Wars)), st.Pile)
	st.Decks[winner] = append(st.Decks[winner], st.Pile...)
	st.Pile = nil
	st.Phase = PhaseBattle
}

// forfeit ends the game, handing every card to winner.
func forfeit(st *State, winner int) {
	loser := 1 - winner
	st.Decks[winner] = append(st.Decks[winner], st.Pile...)
	st.Decks[winner] = append(st.Decks[winner], st.Decks[loser]...)
	st.Decks[loser] = nil
	st.Pile = nil
	st.Phase = PhaseOver
	st.Winner = winner
	st.Forfeit = true
}

func (e *Engine) IsTerminal(data []byte) (bool, []int, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return false, nil, err
	}
	if st.Phase != PhaseOver {
		return false, nil, nil
	}
	return true, []int{st.Winner}, nil
}

// View is the same for both seats and for spectators.
func (e *Engine) View(data []byte, seat int) ([]byte, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return nil, err
	}
	return rules.Encode(View{
		DeckSizes:  [2]int{len(st.Decks[0]), len(st.Decks[1])},
		PileSize:   len(st.Pile),
		Phase:      st.Phase,
		Battles:    st.Battles,
		Wars:       st.Wars,
		Winner:     st.Winner,
		Forfeit:    st.Forfeit,
		LastFaceUp: st.LastFaceUp,
	})
}

func (e *Engine) outcome(st *State, notes map[string]any) (rules.Outcome, error) {
	data, err := rules.Encode(st)
	if err != nil {
		return rules.Outcome{}, err
	}
	out := rules.Outcome{
		Data:         data,
		NextSeat:     0,
		Phase:        st.Phase,
		Simultaneous: st.Phase != PhaseOver,
		Notes:        notes,
	}
	if out.Simultaneous {
		out.Pending = []int{0, 1}
	}
	if st.Phase == PhaseOver {
		out.Terminal = true
		out.Winners = []int{st.Winner}
	}
	return out, nil
}
