// Package ohhell implements Oh Hell!, a trick-taking game where the hand size
// follows an elevator sequence and players bid the exact tricks they will take.
package ohhell

import (
	"github.com/jason-s-yu/tabletop/internal/cards"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
)

const (
	PhaseBidding = "bidding"
	PhasePlaying = "playing"
	PhaseOver    = "over"

	ActionBid  = "bid"
	ActionPlay = "play"

	defaultExactBonus = 10
	maxDefaultHand    = 10
)

// Play is one card laid on the current trick.
type Play struct {
	Seat int        `json:"seat"`
	Card cards.Card `json:"card"`
}

// RoundResult is the scored summary of a finished round.
type RoundResult struct {
	HandSize int         `json:"handSize"`
	Dealer   int         `json:"dealer"`
	Trump    *cards.Card `json:"trump,omitempty"`
	Bids     []int       `json:"bids"`
	Tricks   []int       `json:"tricks"`
	Points   []int       `json:"points"`
}

// State is the full Oh Hell payload.
type State struct {
	Seed       uint64 `json:"seed"`
	Players    int    `json:"players"`
	HandSizes  []int  `json:"handSizes"`
	ExactBonus int    `json:"exactBonus"`

	Round  int            `json:"round"`
	Dealer int            `json:"dealer"`
	Hands  [][]cards.Card `json:"hands"`
	Trump  *cards.Card    `json:"trump,omitempty"`
	Bids   []int          `json:"bids"`
	Tricks []int          `json:"tricks"`

	Phase  string `json:"phase"`
	Turn   int    `json:"turn"`
	Leader int    `json:"leader"`
	Trick  []Play `json:"trick"`

	Scores []int         `json:"scores"`
	Rounds []RoundResult `json:"rounds"`
}

// View is the table as one seat sees it: its own hand, how many cards every
// other seat holds, and everything already face up. Seat is the viewer, or
// rules.Spectator.
type View struct {
	Seat       int   `json:"seat"`
	Players    int   `json:"players"`
	HandSizes  []int `json:"handSizes"`
	ExactBonus int   `json:"exactBonus"`

	Round     int          `json:"round"`
	Dealer    int          `json:"dealer"`
	Hand      []cards.Card `json:"hand,omitempty"`
	CardsHeld []int        `json:"cardsHeld"`
	Trump     *cards.Card  `json:"trump,omitempty"`
	Bids      []int        `json:"bids"`
	Tricks    []int        `json:"tricks"`

	Phase  string `json:"phase"`
	Turn   int    `json:"turn"`
	Leader int    `json:"leader"`
	Trick  []Play `json:"trick"`

	Scores []int         `json:"scores"`
	Rounds []RoundResult `json:"rounds"`
}

// LegalBids lists the bids the viewer may make right now.
func (v *View) LegalBids() []int {
	return LegalBids(v.table(), v.Seat)
}

// LegalPlays lists the cards the viewer may lay on the current trick.
func (v *View) LegalPlays() []cards.Card {
	return LegalPlays(v.table(), v.Seat)
}

// table rebuilds as much of the state as the viewer knows.
func (v *View) table() *State {
	st := &State{
		Players:   v.Players,
		HandSizes: v.HandSizes,
		Round:     v.Round,
		Dealer:    v.Dealer,
		Hands:     make([][]cards.Card, v.Players),
		Bids:      v.Bids,
		Phase:     v.Phase,
		Turn:      v.Turn,
		Trick:     v.Trick,
	}
	if v.Seat >= 0 && v.Seat < v.Players {
		st.Hands[v.Seat] = v.Hand
	}
	return st
}

// HandSize is the number of cards, and tricks, in the current round.
func (s *State) HandSize() int {
	return s.HandSizes[s.Round]
}

// BidPayload is the body of a bid move.
type BidPayload struct {
	Bid int `json:"bid"`
}

// PlayPayload is the body of a play move.
type PlayPayload struct {
	Card cards.Card `json:"card"`
}

// Engine is the Oh Hell rule engine.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Type() models.GameType { return models.GameTypeOhHell }

func (e *Engine) Seats() (int, int) { return 3, 7 }

// DefaultHandSizes walks down from the largest hand the deck allows to one
// card and back up again.
func DefaultHandSizes(players int) []int {
	top := (52 - 1) / players
	if top > maxDefaultHand {
		top = maxDefaultHand
	}
	var sizes []int
	for n := top; n >= 1; n-- {
		sizes = append(sizes, n)
	}
	for n := 2; n <= top; n++ {
		sizes = append(sizes, n)
	}
	return sizes
}

func (e *Engine) Initialize(setup rules.Setup) (rules.Outcome, error) {
	lo, hi := e.Seats()
	if setup.Seats < lo || setup.Seats > hi {
		return rules.Outcome{}, rules.Invalid("oh hell needs %d-%d players, got %d", lo, hi, setup.Seats)
	}
	opts := rules.Options(setup.Options)
	sizes, err := opts.Ints("handSizes", 1)
	if err != nil {
		return rules.Outcome{}, rules.Invalid("%v", err)
	}
	if len(sizes) == 0 {
		sizes = DefaultHandSizes(setup.Seats)
	}
	for _, n := range sizes {
		if n*setup.Seats > 52 {
			return rules.Outcome{}, rules.Invalid("hand size %d is too large for %d players", n, setup.Seats)
		}
	}
	bonus, err := opts.Int("exactBonus", defaultExactBonus, 0)
	if err != nil {
		return rules.Outcome{}, rules.Invalid("%v", err)
	}

	st := &State{
		Seed:       setup.Seed,
		Players:    setup.Seats,
		HandSizes:  sizes,
		ExactBonus: bonus,
		Scores:     make([]int, setup.Seats),
	}
	deal(st)
	return e.outcome(st, nil)
}

// deal shuffles a fresh deck for the current round, deals from the dealer's
// left and turns up the next card as trump when one remains.
func deal(st *State) {
	deck := cards.NewDeck(false)
	cards.Shuffle(rules.NewRand(st.Seed, uint64(st.Round)+1), deck)

	n := st.Players
	size := st.HandSize()
	st.Hands = make([][]cards.Card, n)
	pos := 0
	for i := 0; i < size; i++ {
		for k := 1; k <= n; k++ {
			seat := (st.Dealer + k) % n
			st.Hands[seat] = append(st.Hands[seat], deck[pos])
			pos++
		}
	}
	st.Trump = nil
	if pos < len(deck) {
		trump := deck[pos]
		st.Trump = &trump
	}
	st.Bids = make([]int, n)
	for i := range st.Bids {
		st.Bids[i] = -1
	}
	st.Tricks = make([]int, n)
	st.Trick = nil
	st.Phase = PhaseBidding
	st.Turn = (st.Dealer + 1) % n
	st.Leader = st.Turn
}

// ForbiddenBid returns the one bid the dealer may not make, or -1 when the
// remaining total is outside the legal range.
func ForbiddenBid(st *State) int {
	sum := 0
	for seat, b := range st.Bids {
		if seat != st.Dealer && b > 0 {
			sum += b
		}
	}
	forbidden := st.HandSize() - sum
	if forbidden < 0 || forbidden > st.HandSize() {
		return -1
	}
	return forbidden
}

// LegalBids lists the bids seat may make right now.
func LegalBids(st *State, seat int) []int {
	if st.Phase != PhaseBidding || st.Turn != seat {
		return nil
	}
	forbidden := -1
	if seat == st.Dealer {
		forbidden = ForbiddenBid(st)
	}
	var out []int
	for b := 0; b <= st.HandSize(); b++ {
		if b != forbidden {
			out = append(out, b)
		}
	}
	return out
}

// LegalPlays lists the cards seat may lay on the current trick.
func LegalPlays(st *State, seat int) []cards.Card {
	if st.Phase != PhasePlaying || st.Turn != seat {
		return nil
	}
	hand := st.Hands[seat]
	if len(st.Trick) == 0 {
		return append([]cards.Card(nil), hand...)
	}
	led := st.Trick[0].Card.Suit
	var follow []cards.Card
	for _, c := range hand {
		if c.Suit == led {
			follow = append(follow, c)
		}
	}
	if len(follow) > 0 {
		return follow
	}
	return append([]cards.Card(nil), hand...)
}

func (e *Engine) Validate(data []byte, seat int, move models.MoveData) error {
	st, err := rules.Decode[State](data)
	if err != nil {
		return err
	}
	return validate(st, seat, move)
}

func validate(st *State, seat int, move models.MoveData) error {
	if seat < 0 || seat >= st.Players {
		return rules.Invalid("seat %d is not in this game", seat)
	}
	if st.Phase == PhaseOver {
		return rules.Invalid("the game is over")
	}
	if st.Turn != seat {
		return rules.Invalid("it is seat %d's turn", st.Turn)
	}
	switch move.Action {
	case ActionBid:
		if st.Phase != PhaseBidding {
			return rules.Invalid("bidding is closed")
		}
		var p BidPayload
		if err := rules.DecodePayload(move, &p); err != nil {
			return err
		}
		if p.Bid < 0 || p.Bid > st.HandSize() {
			return rules.Invalid("bid must be between 0 and %d", st.HandSize())
		}
		if seat == st.Dealer && p.Bid == ForbiddenBid(st) {
			return rules.Invalid("the dealer may not bid %d: total bids would equal the tricks available", p.Bid)
		}
	case ActionPlay:
		if st.Phase != PhasePlaying {
			return rules.Invalid("bidding is not finished")
		}
		var p PlayPayload
		if err := rules.DecodePayload(move, &p); err != nil {
			return err
		}
		if indexOf(st.Hands[seat], p.Card) < 0 {
			return rules.Invalid("%s is not in your hand", p.Card)
		}
		if len(st.Trick) > 0 {
			led := st.Trick[0].Card.Suit
			if p.Card.Suit != led && hasSuit(st.Hands[seat], led) {
				return rules.Invalid("you must follow suit (%s)", led)
			}
		}
	default:
		return rules.Invalid("unknown action %q", move.Action)
	}
	return nil
}

func (e *Engine) Apply(data []byte, seat int, move models.MoveData) (rules.Outcome, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return rules.Outcome{}, err
	}
	if err := validate(st, seat, move); err != nil {
		return rules.Outcome{}, err
	}

	notes := map[string]any{}
	switch move.Action {
	case ActionBid:
		var p BidPayload
		_ = rules.DecodePayload(move, &p)
		st.Bids[seat] = p.Bid
		if seat == st.Dealer {
			st.Phase = PhasePlaying
			st.Turn = st.Leader
		} else {
			st.Turn = (seat + 1) % st.Players
		}
	case ActionPlay:
		var p PlayPayload
		_ = rules.DecodePayload(move, &p)
		st.Hands[seat] = cards.Remove(st.Hands[seat], indexOf(st.Hands[seat], p.Card))
		st.Trick = append(st.Trick, Play{Seat: seat, Card: p.Card})
		st.Turn = (seat + 1) % st.Players
		if len(st.Trick) == st.Players {
			winner := TrickWinner(st.Trick, st.Trump)
			st.Tricks[winner]++
			st.Trick = nil
			st.Leader = winner
			st.Turn = winner
			notes["trickWinner"] = winner
			if len(st.Hands[winner]) == 0 {
				notes["roundScored"] = st.Round
				finishRound(st)
			}
		}
	}
	return e.outcome(st, notes)
}

// TrickWinner returns the seat that takes a completed trick: the highest trump
// if any was played, otherwise the highest card of the suit led.
func TrickWinner(trick []Play, trump *cards.Card) int {
	best := trick[0]
	for _, p := range trick[1:] {
		if beats(p.Card, best.Card, trick[0].Card.Suit, trump) {
			best = p
		}
	}
	return best.Seat
}

func beats(c, best cards.Card, led cards.Suit, trump *cards.Card) bool {
	if trump != nil {
		cTrump, bTrump := c.Suit == trump.Suit, best.Suit == trump.Suit
		if cTrump != bTrump {
			return cTrump
		}
		if cTrump {
			return c.Rank > best.Rank
		}
	}
	if c.Suit != best.Suit {
		return c.Suit == led
	}
	return c.Rank > best.Rank
}

// Score returns the points for a round: a bonus plus the bid for an exact
// match and nothing otherwise.
func Score(bid, tricks, bonus int) int {
	if bid == tricks {
		return bonus + bid
	}
	return 0
}

func finishRound(st *State) {
	res := RoundResult{
		HandSize: st.HandSize(),
		Dealer:   st.Dealer,
		Trump:    st.Trump,
		Bids:     append([]int(nil), st.Bids...),
		Tricks:   append([]int(nil), st.Tricks...),
		Points:   make([]int, st.Players),
	}
	for seat := 0; seat < st.Players; seat++ {
		res.Points[seat] = Score(st.Bids[seat], st.Tricks[seat], st.ExactBonus)
		st.Scores[seat] += res.Points[seat]
	}
	st.Rounds = append(st.Rounds, res)

	st.Round++
	if st.Round >= len(st.HandSizes) {
		st.Phase = PhaseOver
		st.Hands = make([][]cards.Card, st.Players)
		return
	}
	st.Dealer = (st.Dealer + 1) % st.Players
	deal(st)
}

func winners(st *State) []int {
	best := st.Scores[0]
	for _, s := range st.Scores {
		if s > best {
			best = s
		}
	}
	var out []int
	for seat, s := range st.Scores {
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
	if st.Phase != PhaseOver {
		return false, nil, nil
	}
	return true, winners(st), nil
}

func (e *Engine) View(data []byte, seat int) ([]byte, error) {
	st, err := rules.Decode[State](data)
	if err != nil {
		return nil, err
	}
	v := View{
		Seat:       rules.Spectator,
		Players:    st.Players,
		HandSizes:  st.HandSizes,
		ExactBonus: st.ExactBonus,
		Round:      st.Round,
		Dealer:     st.Dealer,
		CardsHeld:  make([]int, st.Players),
		Trump:      st.Trump,
		Bids:       st.Bids,
		Tricks:     st.Tricks,
		Phase:      st.Phase,
		Turn:       st.Turn,
		Leader:     st.Leader,
		Trick:      st.Trick,
		Scores:     st.Scores,
		Rounds:     st.Rounds,
	}
	for i, h := range st.Hands {
		v.CardsHeld[i] = len(h)
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
	out := rules.Outcome{Data: data, NextSeat: st.Turn, Phase: st.Phase, Notes: notes}
	if st.Phase == PhaseOver {
		out.Terminal = true
		out.Winners = winners(st)
	}
	return out, nil
}

func indexOf(hand []cards.Card, c cards.Card) int {
	for i, h := range hand {
		if h == c {
			return i
		}
	}
	return -1
}

func hasSuit(hand []cards.Card, suit cards.Suit) bool {
	for _, c := range hand {
		if c.Suit == suit {
			return true
		}
	}
	return false
}
