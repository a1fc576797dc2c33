// internal/cards/card.go
package cards

import (
	"fmt"
	"math/rand/v2"
)

// Suit uses single letters; jokers carry "R" (red) or "B" (black).
type Suit string

const (
	Hearts     Suit = "H"
	Diamonds   Suit = "D"
	Clubs      Suit = "C"
	Spades     Suit = "S"
	RedJoker   Suit = "R"
	BlackJoker Suit = "B"
)

// Suits lists the four standard suits in deck order.
var Suits = []Suit{Hearts, Diamonds, Clubs, Spades}

// Rank values. Aces are high (14); jokers have rank 0.
const (
	Joker = 0
	Two   = 2
	Ten   = 10
	Jack  = 11
	Queen = 12
	King  = 13
	Ace   = 14
)

// Card is a single playing card.
type Card struct {
	Rank int  `json:"rank"`
	Suit Suit `json:"suit"`
}

// IsJoker reports whether c is a joker.
func (c Card) IsJoker() bool {
	return c.Rank == Joker
}

// String renders the card as rank letter followed by suit, e.g. "TD" or "AS".
// Jokers render as "O" plus their colour.
func (c Card) String() string {
	return rankLetter(c.Rank) + string(c.Suit)
}

func rankLetter(rank int) string {
	switch rank {
	case Joker:
		return "O"
	case Ten:
		return "T"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	case Ace:
		return "A"
	}
	if rank >= 2 && rank <= 9 {
		return fmt.Sprintf("%d", rank)
	}
	return "?"
}

// NewDeck builds an ordered 52-card deck, plus two jokers when jokers is true.
func NewDeck(jokers bool) []Card {
	deck := make([]Card, 0, 54)
	for _, s := range Suits {
		for r := Two; r <= Ace; r++ {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	if jokers {
		deck = append(deck, Card{Rank: Joker, Suit: RedJoker}, Card{Rank: Joker, Suit: BlackJoker})
	}
	return deck
}

// NewDecks concatenates n decks.
func NewDecks(n int, jokers bool) []Card {
	var out []Card
	for i := 0; i < n; i++ {
		out = append(out, NewDeck(jokers)...)
	}
	return out
}

// Shuffle permutes cards in place using r.
func Shuffle(r *rand.Rand, cards []Card) {
	r.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// Remove deletes the card at idx, preserving order, and returns the new slice.
func Remove(cards []Card, idx int) []Card {
	out := make([]Card, 0, len(cards)-1)
	out = append(out, cards[:idx]...)
	return append(out, cards[idx+1:]...)
}
