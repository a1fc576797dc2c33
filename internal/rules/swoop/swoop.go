// Package swoop implements Swoop, a shedding game played from three tiers of
// cards onto a shared pile.
package swoop

import (
	"github.com/jason-s-yu/tabletop/internal/cards"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

const (
	PhasePlaying = "playing"
	PhaseOver    = "over"

	ActionPlay   = "play"
	ActionPickup = "pickup"

	TierHand    = "hand"
	TierFaceUp  = "faceUp"
	TierMystery = "mystery"

	mysteryCards = 4
	faceUpCards  = 4
	handCards    = 11
	perPlayer    = mysteryCards + faceUpCards + handCards

	swoopRun = 4
)

// State is the full Swoop payload.
type State struct {
	Seed       uint64 `json:"seed"`
	Players    int    `json:"players"`
	ScoreLimit int    `json:"scoreLimit"`
	Round      int    `json:"round"`

	Hands   [][]cards.Card `json:"hands"`
	FaceUp  [][]cards.Card `json:"faceUp"`
	Mystery [][]cards.Card `json:"mystery"`
	Pile    []cards.Card   `json:"pile"`
	Swept   []cards.Card   `json:"swept"`

	Turn   int    `json:"turn"`
	Phase  string `json:"phase"`
	Scores []int  `json:"scores"`

	RoundScores [][]int `json:"roundScores"`
	Winners     []int   `json:"winners,omitempty"`
}

// View is the table as one seat sees it. Face-up tiers, the pile and swept
// cards are public; hands other than the viewer's and every mystery card,
// the viewer's own included, appear only as counts. Seat is the viewer, or
// rules.Spectator.
type View struct {
	Seat       int `json:"seat"`
	Players    int `json:"players"`
	ScoreLimit int `json:"scoreLimit"`
	Round      int `json:"round"`

	Hand        []cards.Card   `json:"hand,omitempty"`
	HandSizes   []int          `json:"handSizes"`
	FaceUp      [][]cards.Card `json:"faceUp"`
	MysteryLeft []int          `json:"mysteryLeft"`
	Pile        []cards.Card   `json:"pile"`
	Swept       []cards.Card   `json:"swept"`

	Turn   int    `json:"turn"`
	Phase  string `json:"phase"`
	Scores []int  `json:"scores"`

	RoundScores [][]int `json:"roundScores"`
	Winners     []int   `json:"winners,omitempty"`
}

// PlayPayload plays Cards from the hand or face-up tier, or the single blind
// mystery card at index Mystery once both are empty.
type PlayPayload struct {
	Cards   []cards.Card `json:"cards,omitempty"`
	Mystery *int         `json:"mystery,omitempty"`
}

// ActiveTier names the tier seat must play from.
func (s *State) ActiveTier(seat int) string {
	switch {
	case len(s.Hands[seat]) > 0:
		return TierHand
	case len(s.FaceUp[seat]) > 0:
		return TierFaceUp
	default:
		return TierMystery
	}
}

// CardsLeft counts every card seat still holds.
func (s *State) CardsLeft(seat int) int {
	return len(s.Hands[seat]) + len(s.FaceUp[seat]) + len(s.Mystery[seat])
}

// CardCount counts every card in play for the round.
func (s *State) CardCount() int {
	n := len(s.Pile) + len(s.Swept)
	for seat := 0; seat < s.Players; seat++ {
		n += s.CardsLeft(seat)
	}
	return n
}

// Top returns the card on top of the pile.
func (s *State) Top() (cards.Card, bool) {
	if len(s.Pile) == 0 {
		return cards.Card{}, false
	}
	return s.Pile[len(s.Pile)-1], true
}

// IsWild reports whether c clears the pile on its own.
func IsWild(c cards.Card) bool {
	return c.IsJoker() || c.Rank == cards.Ten
}

// Rank orders cards for pile comparisons; aces are low.
func Rank(c cards.Card) int {
	if c.Rank == cards.Ace {
		return 1
	}
	return c.Rank
}

// Points is the penalty value of a card left in a player's tiers.
func Points(c cards.Card) int {
	switch {
	case c.IsJoker():
		return 50
	case c.Rank == cards.Ten:
		return 25
	case c.Rank == cards.Ace:
		return 1
	case c.Rank >= cards.Jack:
		return 10
	default:
		return c.Rank
	}
}

// Engine is the Swoop rule engine.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() models.GameType { return models.GameTypeSwoop }

func (e *Engine) Seats() (int, int) { return 2, 6 }

func (e *Engine) Initialize(setup rules.Setup) (rules.Outcome, error) {
	lo, hi := e.Seats()
	if setup.Seats < lo || setup.Seats > hi {
		return rules.Outcome{}, rules.Invalid("swoop needs %d-%d players, got %d", lo, hi, setup.Seats)
	}
	limit, err := rules.Options(setup.Options).Int("scoreLimit", 0, 0)
	if err != nil {
		return rules.Outcome{}, rules.Invalid("%v", err)
	}
	st := &State{
		Seed:       setup.Seed,
		Players:    setup.Seats,
		ScoreLimit: limit,
		Scores:     make([]int, setup.Seats),
	}
	deal(st)
	return e.outcome(st, nil)
}

// deal shuffles enough jokered decks for every seat and fills the tiers.
func deal(st *State) {
	n := st.Players
	decks := (n*perPlayer + 53) / 54
	deck := cards.NewDecks(decks, true)
	cards.Shuffle(rules.NewRand(st.Seed, uint64(st.Round)), deck)

	st.Hands = make([][]cards.Card, n)
	st.FaceUp = make([][]cards.Card, n)
	st.Mystery = make([][]cards.Card, n)
	pos := 0
	take := func(k int) []cards.Card {
		out := append([]cards.Card(nil), deck[pos:pos+k]...)
		pos += k
		return out
	}
	for seat := 0; seat < n; seat++ {
		st.Mystery[seat] = take(mysteryCards)
		st.FaceUp[seat] = take(faceUpCards)
		st.Hands[seat] = take(handCards)
	}
	st.Pile = nil
	st.Swept = nil
	st.Phase = PhasePlaying
	st.Turn = st.Round % n
}

func (e *Engine) Validate(data []byte, seat int, move models.MoveData) error {
	st, err := rules.Decode[State](data)
	if err != nil {
		return err
	}
	_, err = validate(st, seat, move)
	return err
}

// validate checks move and returns the cards it would lay on the pile.
func validate(st *State, seat int, move models.MoveData) ([]cards.Card, error) {
	if seat < 0 || seat >= st.Players {
		return nil, rules.Invalid("seat %d is not in this game", seat)
	}
	if st.Phase == PhaseOver {
		return nil, rules.Invalid("the game is over")
	}
	if st.Turn != seat {
		return nil, rules.Invalid("it is seat %d's turn", st.Turn)
	}
	switch move.Action {
	case ActionPickup:
		if len(st.Pile) == 0 {
			return nil, rules.Invalid("the pile is empty")
		}
		return nil, nil
	case ActionPlay:
	default:
		return nil, rules.Invalid("unknown action %q", move.Action)
	}

	var p PlayPayload
	if err := rules.DecodePayload(move, &p); err != nil {
		return nil, err
	}
	tier := st.ActiveTier(seat)
	if tier == TierMystery {
		if p.Mystery == nil || len(p.Cards) > 0 {
			return nil, rules.Invalid("play exactly one mystery card")
		}
		if *p.Mystery < 0 || *p.Mystery >= len(st.Mystery[seat]) {
			return nil, rules.Invalid("no mystery card at %d", *p.Mystery)
		}
		return []cards.Card{st.Mystery[seat][*p.Mystery]}, nil
	}
	if p.Mystery != nil {
		return nil, rules.Invalid("mystery cards are locked until hand and face-up cards are gone")
	}
	if len(p.Cards) == 0 {
		return nil, rules.Invalid("play at least one card")
	}
	rank := p.Cards[0].Rank
	source := st.tier(seat, tier)
	remaining := append([]cards.Card(nil), source...)
	for _, c := range p.Cards {
		if c.Rank != rank {
			return nil, rules.Invalid("every card played together must share a rank")
		}
		i := indexOf(remaining, c)
		if i < 0 {
			return nil, rules.Invalid("%s is not in your %s", c, tier)
		}
		remaining = cards.Remove(remaining, i)
	}
	return p.Cards, nil
}

func (s *State) tier(seat int, name string) []cards.Card {
	switch name {
	case TierHand:
		return s.Hands[seat]
	case TierFaceUp:
		return s.FaceUp[seat]
	}
	return s.Mystery[seat]
}

func (s *State) setTier(seat int, name string, v []cards.Card) {
	switch name {
	case TierHand:
		s.Hands[seat] = v
	case TierFaceUp:
		s.FaceUp[seat] = v
	default:
		s.Mystery[seat] = v
	}
}

func (e *Engine) Apply(data []byte, seat int, move models.MoveData) (rules.Outcome, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return rules.Outcome{}, err
	}
	played, err := validate(st, seat, move)
	if err != nil {
		return rules.Outcome{}, err
	}

	notes := map[string]any{}
	if move.Action == ActionPickup {
		pickup(st, seat)
		notes["pickedUp"] = seat
		return e.outcome(st, notes)
	}

	tier := st.ActiveTier(seat)
	remaining := st.tier(seat, tier)
	for _, c := range played {
		remaining = cards.Remove(remaining, indexOf(remaining, c))
	}
	st.setTier(seat, tier, remaining)
	notes["tier"] = tier

	top, hasTop := st.Top()
	st.Pile = append(st.Pile, played...)
	lead := played[0]

	switch {
	case IsWild(lead) || topRun(st.Pile) >= swoopRun:
		st.Swept = append(st.Swept, st.Pile...)
		st.Pile = nil
		notes["swooped"] = true
		if st.CardsLeft(seat) == 0 {
			endRound(st, seat, notes)
		}
		// the swooper plays again
	case hasTop && Rank(lead) > Rank(top):
		pickup(st, seat)
		notes["pickedUp"] = seat
	default:
		if st.CardsLeft(seat) == 0 {
			endRound(st, seat, notes)
		} else {
			st.Turn = (seat + 1) % st.Players
		}
	}
	return e.outcome(st, notes)
}

// pickup moves the whole pile into seat's hand and passes the turn.
func pickup(st *State, seat int) {
	st.Hands[seat] = append(st.Hands[seat], st.Pile...)
	st.Pile = nil
	st.Turn = (seat + 1) % st.Players
}

// topRun counts how many cards of the top rank sit together on top of pile.
func topRun(pile []cards.Card) int {
	if len(pile) == 0 {
		return 0
	}
	rank := pile[len(pile)-1].Rank
	run := 0
	for i := len(pile) - 1; i >= 0 && pile[i].Rank == rank; i-- {
		run++
	}
	return run
}

func endRound(st *State, out int, notes map[string]any) {
	points := make([]int, st.Players)
	for seat := 0; seat < st.Players; seat++ {
		for _, tier := range [][]cards.Card{st.Hands[seat], st.FaceUp[seat], st.Mystery[seat]} {
			for _, c := range tier {
				points[seat] += Points(c)
			}
		}
		st.Scores[seat] += points[seat]
	}
	st.RoundScores = append(st.RoundScores, points)
	notes["roundOver"] = st.Round
	notes["wentOut"] = out

	if st.ScoreLimit == 0 {
		st.Phase = PhaseOver
		st.Winners = []int{out}
		return
	}
	for _, s := range st.Scores {
		if s >= st.ScoreLimit {
			st.Phase = PhaseOver
			st.Winners = lowest(st.Scores)
			return
		}
	}
	st.Round++
	deal(st)
}

func lowest(scores []int) []int {
	best := scores[0]
	for _, s := range scores {
		if s < best {
			best = s
		}
	}
	var out []int
	for seat, s := range scores {
		if s == best {
			out = append(out, seat)
		}
	}
	return out
}

func (e *Engine) IsTerminal(data []byte) (bool, []int, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return false, nil, err
	}
	return st.Phase == PhaseOver, st.Winners, nil
}

func (e *Engine) View(data []byte, seat int) ([]byte, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return nil, err
	}
	v := View{
		Seat:        rules.Spectator,
		Players:     st.Players,
		ScoreLimit:  st.ScoreLimit,
		Round:       st.Round,
		HandSizes:   make([]int, st.Players),
		FaceUp:      st.FaceUp,
		MysteryLeft: make([]int, st.Players),
		Pile:        st.Pile,
		Swept:       st.Swept,
		Turn:        st.Turn,
		Phase:       st.Phase,
		Scores:      st.Scores,
		RoundScores: st.RoundScores,
		Winners:     st.Winners,
	}
	for i := 0; i < st.Players; i++ {
		v.HandSizes[i] = len(st.Hands[i])
		v.MysteryLeft[i] = len(st.Mystery[i])
	}
	if seat >= 0 && seat < st.Players {
		v.Seat = seat
		v.Hand = st.Hands[seat]
	}
	return rules.Encode(v)
}

func (e *Engine) outcome(st *State, notes map[string]any) (rules.Outcome, error) {
	data, err := rules.Encode(st)
	if err != nil {
		return rules.Outcome{}, err
	}
	return rules.Outcome{
		Data:     data,
		NextSeat: st.Turn,
		Phase:    st.Phase,
		Terminal: st.Phase == PhaseOver,
		Winners:  st.Winners,
		Notes:    notes,
	}, nil
}

func indexOf(hand []cards.Card, c cards.Card) int {
	for i, h := range hand {
		if h == c {
			return i
		}
	}
	return -1
}
