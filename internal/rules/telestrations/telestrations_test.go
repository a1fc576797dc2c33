package telestrations

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(action, s string) models.MoveData {
	p, _ := json.Marshal(TextPayload{Text: s})
	return models.MoveData{Action: action, Payload: p}
}

func drawing(s string) models.MoveData {
	p, _ := json.Marshal(DrawingPayload{Drawing: s})
	return models.MoveData{Action: ActionDraw, Payload: p}
}

func decode(t *testing.T, data []byte) *State {
	t.Helper()
	st, err := rules.Decode[State](data)
	require.NoError(t, err)
	return st
}

// moveFor builds a valid submission for seat in the current phase.
func moveFor(st *State, seat int) models.MoveData {
	switch st.Phase {
	case PhaseInitialPrompt:
		return text(ActionPrompt, fmt.Sprintf("prompt by %d", seat))
	case PhaseDrawing:
		return drawing(fmt.Sprintf("data:image/png;base64,%d-%d", st.Turn, seat))
	case PhaseGuessing:
		return text(ActionGuess, fmt.Sprintf("guess %d-%d", st.Turn, seat))
	case PhaseReveal:
		return models.MoveData{Action: ActionRevealDone}
	}
	return models.MoveData{Action: ActionNextRound}
}

func TestRotationHelpersAgree(t *testing.T) {
	for n := 3; n <= 8; n++ {
		for turn := 0; turn < n; turn++ {
			for seat := 0; seat < n; seat++ {
				assert.Equal(t, seat, HolderOf(BookHeldBy(seat, turn, n), turn, n))
			}
		}
	}
}

func TestPhaseWaitsForEverySeat(t *testing.T) {
	eng := New()
	out, err := eng.Initialize(rules.Setup{Seats: 4})
	require.NoError(t, err)
	assert.True(t, out.Simultaneous)
	assert.Equal(t, []int{0, 1, 2, 3}, out.Pending)

	for seat := 0; seat < 3; seat++ {
		out, err = eng.Apply(out.Data, seat, moveFor(decode(t, out.Data), seat))
		require.NoError(t, err)
		assert.Equal(t, PhaseInitialPrompt, out.Phase, "advanced before seat 3 submitted")
	}
	assert.Equal(t, []int{3}, out.Pending)

	err = eng.Validate(out.Data, 1, text(ActionPrompt, "again"))
	assert.True(t, rules.IsInvalidMove(err), "double submission")

	out, err = eng.Apply(out.Data, 3, moveFor(decode(t, out.Data), 3))
	require.NoError(t, err)
	assert.Equal(t, PhaseDrawing, out.Phase)
	assert.Len(t, out.Pending, 4)
}

func TestRejectsWrongActionAndOversizedDrawing(t *testing.T) {
	eng := New()
	out, err := eng.Initialize(rules.Setup{Seats: 3, Options: map[string]any{"maxDrawingBytes": 16.0}})
	require.NoError(t, err)

	assert.True(t, rules.IsInvalidMove(eng.Validate(out.Data, 0, drawing("x"))))
	assert.True(t, rules.IsInvalidMove(eng.Validate(out.Data, 0, text(ActionPrompt, "   "))))
	assert.True(t, rules.IsInvalidMove(eng.Validate(out.Data, 0, text(ActionPrompt, strings.Repeat("a", 141)))))

	for seat := 0; seat < 3; seat++ {
		out, err = eng.Apply(out.Data, seat, text(ActionPrompt, "cat"))
		require.NoError(t, err)
	}
	require.Equal(t, PhaseDrawing, out.Phase)
	assert.True(t, rules.IsInvalidMove(eng.Validate(out.Data, 0, drawing(strings.Repeat("x", 17)))))
	assert.NoError(t, eng.Validate(out.Data, 0, drawing(strings.Repeat("x", 16))))
}

// TestEveryBookVisitsEverySeat plays complete rounds for each table size and
// checks that each sketchbook holds exactly one page from every seat, in the
// fixed rotation order, alternating drawings and guesses after the prompt.
func TestEveryBookVisitsEverySeat(t *testing.T) {
	eng := New()
	for n := 3; n <= 8; n++ {
		out, err := eng.Initialize(rules.Setup{Seats: n, Options: map[string]any{"rounds": 2.0}})
		require.NoError(t, err)

		phases := []string{out.Phase}
		for steps := 0; !out.Terminal; steps++ {
			require.Less(t, steps, 1000)
			st := decode(t, out.Data)
			seat := out.Pending[len(out.Pending)-1]
			out, err = eng.Apply(out.Data, seat, moveFor(st, seat))
			require.NoError(t, err)
			if out.Phase != phases[len(phases)-1] {
				phases = append(phases, out.Phase)
			}
		}

		final := decode(t, out.Data)
		require.Len(t, final.Archive, 2, "%d players", n)
		for _, books := range final.Archive {
			for b, book := range books {
				require.Len(t, book.Pages, n)
				seen := map[int]bool{}
				for turn, page := range book.Pages {
					assert.Equal(t, HolderOf(b, turn, n), page.Author)
					seen[page.Author] = true
					switch {
					case turn == 0:
						assert.Equal(t, PagePrompt, page.Kind)
					case turn%2 == 1:
						assert.Equal(t, PageDrawing, page.Kind)
					default:
						assert.Equal(t, PageGuess, page.Kind)
					}
				}
				assert.Len(t, seen, n)
			}
		}

		// prompt, n-1 alternating turns, reveal, round over, then again and game over
		perRound := 1 + (n - 1) + 1
		assert.Len(t, phases, perRound+1+perRound+1, "%d players: %v", n, phases)
		assert.Equal(t, PhaseGameOver, phases[len(phases)-1])
		assert.Equal(t, rules.AllSeats(n), out.Winners)
	}
}

func TestViewOpensBooksOnlyAtReveal(t *testing.T) {
	eng := New()
	out, err := eng.Initialize(rules.Setup{Seats: 3})
	require.NoError(t, err)
	for seat := 0; seat < 3; seat++ {
		out, err = eng.Apply(out.Data, seat, text(ActionPrompt, fmt.Sprintf("secret %d", seat)))
		require.NoError(t, err)
	}
	st := decode(t, out.Data)
	require.Equal(t, PhaseDrawing, st.Phase)

	raw, err := eng.View(out.Data, 0)
	require.NoError(t, err)
	v, err := rules.Decode[View](raw)
	require.NoError(t, err)
	assert.Empty(t, v.Books)
	require.NotNil(t, v.Held)
	held := BookHeldBy(0, st.Turn, 3)
	assert.Equal(t, held, v.Held.Owner)
	require.Len(t, v.Held.Pages, 1)
	assert.Equal(t, fmt.Sprintf("secret %d", held), v.Held.Pages[0].Content)
	for seat := 0; seat < 3; seat++ {
		if seat != held {
			assert.NotContains(t, string(raw), fmt.Sprintf("secret %d", seat))
		}
	}

	raw, err = eng.View(out.Data, rules.Spectator)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	for !st.Revealed() {
		for _, seat := range st.Pending() {
			out, err = eng.Apply(out.Data, seat, moveFor(st, seat))
			require.NoError(t, err)
		}
		st = decode(t, out.Data)
	}
	raw, err = eng.View(out.Data, rules.Spectator)
	require.NoError(t, err)
	v, err = rules.Decode[View](raw)
	require.NoError(t, err)
	assert.Len(t, v.Books, 3)
	assert.Nil(t, v.Held)
}

func TestWrittenPagesAreSecret(t *testing.T) {
	eng := New()
	assert.True(t, eng.Secret(text(ActionPrompt, "x")))
	assert.True(t, eng.Secret(drawing("x")))
	assert.True(t, eng.Secret(text(ActionGuess, "x")))
	assert.False(t, eng.Secret(models.MoveData{Action: ActionRevealDone}))
}
