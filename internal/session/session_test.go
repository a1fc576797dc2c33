package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/cache"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rules"
	"github.com/jason-s-yu/tabletop/internal/rules/catalog"
	"github.com/jason-s-yu/tabletop/internal/rules/ohhell"
	"github.com/jason-s-yu/tabletop/internal/rules/war"
	"github.com/jason-s-yu/tabletop/internal/session/sessiontest"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	flip        = models.MoveData{Action: war.ActionFlip}
	errRepoDown = errors.New("repository unavailable")
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Notify(_ context.Context, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	svc    *Service
	repo   *sessiontest.Repo
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f := &fixture{repo: sessiontest.NewRepo(), mr: mr, rdb: rdb, events: &recorder{}}
	f.svc = NewService(Deps{
		Repo:     f.repo,
		States:   cache.NewStateStore(rdb, time.Hour),
		Locks:    cache.NewLocker(rdb, 5*time.Second),
		Chat:     cache.NewChatTail(rdb, 3, time.Hour),
		Engines:  catalog.Default(),
		Notifier: f.events,
		Logger:   logger,
	}, Config{SnapshotEvery: 5, HistoryTail: 4, ChatTail: 3})
	f.svc.seed = func() uint64 { return 42 }
	return f
}

func (f *fixture) create(t *testing.T, gameType models.GameType, opts map[string]any) (*models.Game, uuid.UUID) {
	t.Helper()
	creator := uuid.New()
	g, err := f.svc.Create(context.Background(), CreateParams{CreatorID: creator, GameType: gameType, Options: opts})
	require.NoError(t, err)
	return g, creator
}

// startWar returns a running War game and the users in seats 0 and 1.
func (f *fixture) startWar(t *testing.T) (uuid.UUID, [2]uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeWar, nil)
	other := uuid.New()
	_, err := f.svc.Join(ctx, g.ID, other, "")
	require.NoError(t, err)
	started, err := f.svc.SetReady(ctx, g.ID, other, true)
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, started.Status)
	return g.ID, [2]uuid.UUID{creator, other}
}

// submit retries contention the way the transport does.
func (f *fixture) submit(t *testing.T, gameID, userID uuid.UUID, move models.MoveData) (*models.GameState, error) {
	t.Helper()
	for i := 0; ; i++ {
		st, err := f.svc.SubmitMove(context.Background(), gameID, userID, move)
		if err == nil || !Retryable(err) || i == 200 {
			return st, err
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreateSeatsCreatorReady(t *testing.T) {
	f := newFixture(t)
	g, creator := f.create(t, models.GameTypeWar, nil)

	assert.Equal(t, models.StatusWaiting, g.Status)
	assert.Equal(t, 2, g.MaxPlayers)
	require.Len(t, g.Players, 1)
	assert.Equal(t, creator, g.Players[0].UserID)
	assert.Equal(t, 0, g.Players[0].PlayerIndex)
	assert.True(t, g.Players[0].IsReady)

	stored, err := f.svc.GetGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, stored.ID)

	solo, _ := f.create(t, models.GameTypeOhHell, map[string]any{"quorum": 1.0})
	assert.Equal(t, models.StatusReady, solo.Status, "creator alone meets a quorum of one")
}

func TestCreateRejectsBadParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateParams{CreatorID: uuid.New(), GameType: "chess"})
	assert.ErrorIs(t, err, ErrUnknownGameType)

	_, err = f.svc.Create(ctx, CreateParams{CreatorID: uuid.New(), GameType: models.GameTypeWar, MaxPlayers: 3})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.Create(ctx, CreateParams{CreatorID: uuid.New(), GameType: models.GameTypeSwoop, MaxPlayers: 3, Options: map[string]any{"quorum": 4.0}})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = f.svc.Create(ctx, CreateParams{CreatorID: uuid.New(), GameType: models.GameTypeWar, IsPrivate: true})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeWar, nil)

	_, err := f.svc.Join(ctx, g.ID, creator, "")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	second := uuid.New()
	seat, err := f.svc.Join(ctx, g.ID, second, "")
	require.NoError(t, err)
	assert.Equal(t, 1, seat.PlayerIndex)
	assert.False(t, seat.IsReady)

	_, err = f.svc.Join(ctx, g.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrGameFull)
	assert.Equal(t, KindLifecycle, KindOf(err))

	_, err = f.svc.Join(ctx, uuid.New(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrGameNotFound)

	stored, err := f.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Players, 2, "failed joins leave the game untouched")

	_, err = f.svc.SetReady(ctx, g.ID, second, true)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, g.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrGameNotJoinable)
}

func TestPrivateGameNeedsPasscode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.Create(ctx, CreateParams{
		CreatorID: uuid.New(),
		GameType:  models.GameTypeSwoop,
		IsPrivate: true,
		Passcode:  "hunter2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, g.PasscodeHash)

	_, err = f.svc.Join(ctx, g.ID, uuid.New(), "hunter3")
	assert.ErrorIs(t, err, ErrBadPasscode)

	_, err = f.svc.Join(ctx, g.ID, uuid.New(), "hunter2")
	assert.NoError(t, err)
}

func TestReadyStartsGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)

	g, err := f.svc.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, g.Status)
	assert.NotNil(t, g.StartedAt)
	for i, u := range users {
		seat, ok := g.SeatOf(u)
		require.True(t, ok)
		assert.Equal(t, i, seat)
	}

	st, err := f.svc.GetState(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, 0, st.Version)
	assert.Equal(t, war.PhaseBattle, st.Phase)
	assert.True(t, st.Simultaneous)
	assert.Equal(t, []int{0}, f.repo.SnapshotVersions(gameID), "opening state is snapshotted at start")
	assert.Contains(t, f.events.kinds(), models.EventStateUpdated)
}

func TestQuorumMovesBetweenWaitingAndReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, _ := f.create(t, models.GameTypeOhHell, map[string]any{"quorum": 2.0})
	p2, p3 := uuid.New(), uuid.New()
	for _, u := range []uuid.UUID{p2, p3} {
		_, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
	}

	got, err := f.svc.SetReady(ctx, g.ID, p2, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status, "two ready seats meet the quorum")

	_, err = f.svc.Join(ctx, g.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrGameNotJoinable, "joins close once the lobby leaves WAITING")

	got, err = f.svc.SetReady(ctx, g.ID, p2, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)

	_, err = f.svc.SetReady(ctx, g.ID, p2, true)
	require.NoError(t, err)
	got, err = f.svc.SetReady(ctx, g.ID, p3, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status, "all three ready and within the seat range")

	_, err = f.svc.SetReady(ctx, g.ID, p3, false)
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestLeaveKeepsSeatsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, _ := f.create(t, models.GameTypeOhHell, nil)
	p2, p3, p4 := uuid.New(), uuid.New(), uuid.New()
	for _, u := range []uuid.UUID{p2, p3} {
		_, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Leave(ctx, g.ID, p2))
	assert.ErrorIs(t, f.svc.Leave(ctx, g.ID, p2), ErrNotSeated)

	seat, err := f.svc.Join(ctx, g.ID, p4, "")
	require.NoError(t, err)
	assert.Equal(t, 1, seat.PlayerIndex, "the freed seat goes to the next joiner")

	stored, err := f.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Player(p3).PlayerIndex)
}

// TestLobbyGapStillStarts has a middle seat leave before everyone readies.
// The game must still start, with engine seats closing the gap.
func TestLobbyGapStillStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeOhHell, map[string]any{"handSizes": []any{1.0}})
	p2, p3, p4 := uuid.New(), uuid.New(), uuid.New()
	for _, u := range []uuid.UUID{p2, p3, p4} {
		_, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.Leave(ctx, g.ID, p2))

	_, err := f.svc.SetReady(ctx, g.ID, p3, true)
	require.NoError(t, err)
	started, err := f.svc.SetReady(ctx, g.ID, p4, true)
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, started.Status)

	assert.Equal(t, 2, started.Player(p3).PlayerIndex, "lobby indexes are kept")
	seats := map[int]uuid.UUID{}
	for _, u := range []uuid.UUID{creator, p3, p4} {
		seat, ok := started.SeatOf(u)
		require.True(t, ok)
		seats[seat] = u
	}
	assert.Equal(t, map[int]uuid.UUID{0: creator, 1: p3, 2: p4}, seats)

	f.events.reset()
	st, err := f.svc.GetState(ctx, g.ID, creator)
	require.NoError(t, err)
	for !st.Terminal {
		user := seats[st.CurrentPlayerIndex]
		mine, err := f.svc.GetState(ctx, g.ID, user)
		require.NoError(t, err)
		table, err := rules.Decode[ohhell.View](mine.Data)
		require.NoError(t, err)

		var mv models.MoveData
		if table.Phase == ohhell.PhaseBidding {
			p, _ := json.Marshal(ohhell.BidPayload{Bid: table.LegalBids()[0]})
			mv = models.MoveData{Action: ohhell.ActionBid, Payload: p}
		} else {
			p, _ := json.Marshal(ohhell.PlayPayload{Card: table.LegalPlays()[0]})
			mv = models.MoveData{Action: ohhell.ActionPlay, Payload: p}
		}
		st, err = f.svc.SubmitMove(ctx, g.ID, user, mv)
		require.NoError(t, err)
		if st.Version == 4 {
			// rebuild from the log mid-trick; replay must use engine seats
			f.mr.FlushAll()
		}
	}

	var first, trick *models.Event
	for i, ev := range f.events.events {
		if ev.Kind != models.EventMoveMade {
			continue
		}
		if first == nil {
			first = &f.events.events[i]
		}
		if _, ok := ev.Notes["trickWinner"]; ok {
			trick = &f.events.events[i]
		}
	}
	require.NotNil(t, first)
	assert.Equal(t, 2, *first.PlayerIndex, "the seat left of the dealer is p3")
	assert.Equal(t, 1, *first.Seat)
	require.NotNil(t, trick, "the trick winner is announced")

	done, err := f.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
}

// TestStateHidesOtherHands checks that no path hands a player the shuffle
// seed or cards they should not see.
func TestStateHidesOtherHands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeOhHell, map[string]any{"handSizes": []any{3.0}})
	users := []uuid.UUID{creator, uuid.New(), uuid.New()}
	for _, u := range users[1:] {
		_, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
		_, err = f.svc.SetReady(ctx, g.ID, u, true)
		require.NoError(t, err)
	}

	raw, err := f.svc.state(ctx, g.ID)
	require.NoError(t, err)
	full, err := rules.Decode[ohhell.State](raw.Data)
	require.NoError(t, err)
	require.Equal(t, uint64(42), full.Seed)

	hidden := func(t *testing.T, st *models.GameState, seat int) {
		t.Helper()
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(st.Data, &fields))
		assert.NotContains(t, fields, "seed")
		assert.NotContains(t, fields, "hands")
		table, err := rules.Decode[ohhell.View](st.Data)
		require.NoError(t, err)
		assert.Equal(t, seat, table.Seat)
		assert.Equal(t, full.Hands[seat], table.Hand)
		assert.Equal(t, []int{3, 3, 3}, table.CardsHeld)
	}

	for seat, u := range users {
		st, err := f.svc.GetState(ctx, g.ID, u)
		require.NoError(t, err)
		hidden(t, st, seat)
	}

	r, err := f.svc.Resync(ctx, g.ID, users[2])
	require.NoError(t, err)
	hidden(t, r.State, 2)

	bid, _ := json.Marshal(ohhell.BidPayload{Bid: 1})
	reply, err := f.svc.SubmitMove(ctx, g.ID, users[1], models.MoveData{Action: ohhell.ActionBid, Payload: bid})
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(reply.Data, &fields))
	assert.NotContains(t, fields, "seed")
	assert.NotContains(t, fields, "hands")

	_, err = f.svc.SubmitMove(ctx, g.ID, users[2], models.MoveData{Action: ohhell.ActionBid})
	assert.True(t, rules.IsInvalidMove(err), "a bid needs its payload")
}

func TestSketchbookPagesStayPrivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeTelestrations, nil)
	users := []uuid.UUID{creator, uuid.New(), uuid.New()}
	for _, u := range users[1:] {
		_, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
		_, err = f.svc.SetReady(ctx, g.ID, u, true)
		require.NoError(t, err)
	}

	prompt, _ := json.Marshal(map[string]string{"text": "a cat on a bike"})
	_, err := f.svc.SubmitMove(ctx, g.ID, users[0], models.MoveData{Action: "prompt", Payload: prompt})
	require.NoError(t, err)

	own, err := f.svc.History(ctx, g.ID, users[0], 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.JSONEq(t, string(prompt), string(own[0].MoveData.Payload))

	other, err := f.svc.History(ctx, g.ID, users[1], 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "prompt", other[0].MoveData.Action)
	assert.Empty(t, other[0].MoveData.Payload)

	r, err := f.svc.Resync(ctx, g.ID, users[2])
	require.NoError(t, err)
	require.Len(t, r.Moves, 1)
	assert.Empty(t, r.Moves[0].MoveData.Payload)
	assert.NotContains(t, string(r.State.Data), "a cat on a bike")

	_, err = f.svc.History(ctx, g.ID, uuid.New(), 0)
	assert.ErrorIs(t, err, ErrNotSeated)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeSwoop, nil)
	guest := uuid.New()
	_, err := f.svc.Join(ctx, g.ID, guest, "")
	require.NoError(t, err)
	f.events.reset()

	assert.ErrorIs(t, f.svc.Cancel(ctx, g.ID, guest, "nope"), ErrNotCreator)
	require.NoError(t, f.svc.Cancel(ctx, g.ID, creator, "changed my mind"))

	stored, err := f.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, creator, stored.CancelledBy)
	assert.Equal(t, "changed my mind", stored.CancelReason)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, models.EventCancelled, ev.Kind)
	assert.Equal(t, creator, ev.UserID)
	assert.Equal(t, "changed my mind", ev.Reason)

	assert.ErrorIs(t, f.svc.Cancel(ctx, g.ID, creator, "again"), ErrNotCancellable)
	_, err = f.svc.Join(ctx, g.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrGameNotJoinable)
}

func TestCreatorLeavingCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeWar, nil)

	require.NoError(t, f.svc.Leave(ctx, g.ID, creator))
	stored, err := f.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestCancelAfterStartIsRejected(t *testing.T) {
	f := newFixture(t)
	gameID, users := f.startWar(t)
	err := f.svc.Cancel(context.Background(), gameID, users[0], "")
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.ErrorIs(t, f.svc.Leave(context.Background(), gameID, users[1]), ErrLobbyClosed)
}

func TestSubmitMoveRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, creator := f.create(t, models.GameTypeWar, nil)
	_, err := f.svc.SubmitMove(ctx, g.ID, creator, flip)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = f.svc.GetState(ctx, g.ID, creator)
	assert.ErrorIs(t, err, ErrNotStarted)

	gameID, users := f.startWar(t)
	_, err = f.svc.SubmitMove(ctx, gameID, uuid.New(), flip)
	assert.ErrorIs(t, err, ErrNotSeated)

	_, err = f.svc.SubmitMove(ctx, gameID, users[0], models.MoveData{})
	assert.ErrorIs(t, err, ErrMalformedMove)

	_, err = f.svc.SubmitMove(ctx, gameID, users[0], models.MoveData{Action: "dance"})
	assert.True(t, rules.IsInvalidMove(err))
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.GetState(ctx, gameID, uuid.New())
	assert.ErrorIs(t, err, ErrNotSeated)

	st, err := f.svc.GetState(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, 0, st.Version, "rejected moves never mutate")
	assert.Empty(t, f.repo.MoveNumbers(gameID))
}

func TestNotYourTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeOhHell, nil)
	users := []uuid.UUID{creator, uuid.New(), uuid.New()}
	for _, u := range users[1:] {
		_, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
		_, err = f.svc.SetReady(ctx, g.ID, u, true)
		require.NoError(t, err)
	}

	st, err := f.svc.GetState(ctx, g.ID, users[0])
	require.NoError(t, err)
	require.False(t, st.Simultaneous)
	require.Equal(t, 1, st.CurrentPlayerIndex, "the seat after the dealer bids first")

	bid, _ := json.Marshal(ohhell.BidPayload{Bid: 0})
	_, err = f.svc.SubmitMove(ctx, g.ID, users[0], models.MoveData{Action: ohhell.ActionBid, Payload: bid})
	assert.ErrorIs(t, err, ErrNotYourTurn)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestLockHeldSurfacesAsConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)

	lk, err := cache.NewLocker(f.rdb, time.Minute).Acquire(ctx, gameID)
	require.NoError(t, err)

	_, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Equal(t, KindConcurrency, KindOf(err))

	// reads stay available while a writer holds the lock
	st, err := f.svc.GetState(ctx, gameID, users[1])
	require.NoError(t, err)
	assert.Equal(t, 0, st.Version)

	_, err = lk.Release(ctx)
	require.NoError(t, err)
	st, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Version)
}

// TestConcurrentMovesAreSerialised fires both War flips at once. Each must
// land exactly once, producing versions 1 and 2 with no lost update.
func TestConcurrentMovesAreSerialised(t *testing.T) {
	f := newFixture(t)
	gameID, users := f.startWar(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u uuid.UUID) {
			defer wg.Done()
			st, err := f.submit(t, gameID, u, flip)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			versions = append(versions, st.Version)
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2}, versions)
	assert.Equal(t, []int{1, 2}, f.repo.MoveNumbers(gameID))

	st, err := f.svc.GetState(context.Background(), gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, 2, st.Version)
}

func TestGetStateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)
	_, err := f.svc.SubmitMove(ctx, gameID, users[1], flip)
	require.NoError(t, err)

	a, err := f.svc.GetState(ctx, gameID, users[0])
	require.NoError(t, err)
	b, err := f.svc.GetState(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []int{1}, f.repo.MoveNumbers(gameID), "reads never append to the log")
}

func TestRecoveryAfterEviction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)

	var last *models.GameState
	for i := 0; i < 7; i++ {
		var err error
		last, err = f.svc.SubmitMove(ctx, gameID, users[i%2], flip)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 5}, f.repo.SnapshotVersions(gameID))

	f.mr.FlushAll()

	got, err := f.svc.GetState(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, last.Version, got.Version)
	assert.Equal(t, last.Phase, got.Phase)
	assert.Equal(t, last.Pending, got.Pending)
	assert.True(t, last.UpdatedAt.Equal(got.UpdatedAt))
	assert.JSONEq(t, string(last.Data), string(got.Data))
	assert.Contains(t, got.LastNotes, "faceUp", "replay restores the last move's notes")
	assert.True(t, f.mr.Exists("game:"+gameID.String()+":state"), "recovered state is cached again")

	next, err := f.svc.SubmitMove(ctx, gameID, users[0], flip)
	require.NoError(t, err)
	assert.Equal(t, 8, next.Version)
}

func TestSnapshotCadence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)
	for i := 0; i < 11; i++ {
		_, err := f.svc.SubmitMove(ctx, gameID, users[0], flip)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 5, 10}, f.repo.SnapshotVersions(gameID))
}

func TestStaleCacheIsDetectedAndRebuilt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)

	opening, err := f.svc.state(ctx, gameID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
		require.NoError(t, err)
	}

	// another instance's cache write went missing
	require.NoError(t, cache.NewStateStore(f.rdb, time.Hour).Put(ctx, opening))

	_, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, Retryable(err))

	st, err := f.svc.SubmitMove(ctx, gameID, users[0], flip)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Version)
	assert.Equal(t, []int{1, 2, 3}, f.repo.MoveNumbers(gameID))
}

func TestFailedCommitChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)
	f.events.reset()

	f.repo.FailCommits(errRepoDown)
	_, err := f.svc.SubmitMove(ctx, gameID, users[0], flip)
	assert.Equal(t, KindInfrastructure, KindOf(err))
	assert.ErrorIs(t, err, errRepoDown)
	assert.Empty(t, f.events.kinds(), "nothing is announced for a failed commit")

	st, err := f.svc.GetState(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, 0, st.Version)

	f.repo.FailCommits(nil)
	st, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Version)
}

func TestMoveEvents(t *testing.T) {
	f := newFixture(t)
	gameID, users := f.startWar(t)
	f.events.reset()

	_, err := f.svc.SubmitMove(context.Background(), gameID, users[1], flip)
	require.NoError(t, err)
	require.Equal(t, []models.EventKind{models.EventMoveMade, models.EventStateUpdated}, f.events.kinds())
	made := f.events.events[0]
	assert.Equal(t, 1, made.MoveNumber)
	require.NotNil(t, made.PlayerIndex)
	assert.Equal(t, 1, *made.PlayerIndex)
	require.NotNil(t, made.Seat)
	assert.Equal(t, 1, *made.Seat)
	assert.Contains(t, made.Notes, "faceUp", "the flipped cards travel with the event")

	st, err := f.svc.GetState(context.Background(), gameID, users[0])
	require.NoError(t, err)
	assert.Contains(t, st.LastNotes, "faceUp")
}

// shortWarSeed finds a seed whose game ends quickly so the end-to-end test
// stays fast.
func shortWarSeed(t *testing.T) (uint64, int) {
	t.Helper()
	eng := war.New()
	best, bestLen := uint64(0), 1<<30
	for seed := uint64(1); seed <= 40; seed++ {
		out, err := eng.Initialize(rules.Setup{Seats: 2, Seed: seed})
		require.NoError(t, err)
		n := 0
		for !out.Terminal && n < bestLen {
			out, err = eng.Apply(out.Data, 0, flip)
			require.NoError(t, err)
			n++
		}
		if out.Terminal && n < bestLen {
			best, bestLen = seed, n
		}
	}
	require.NotZero(t, best)
	return best, bestLen
}

func TestWarEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed, length := shortWarSeed(t)
	f.svc.seed = func() uint64 { return seed }
	gameID, users := f.startWar(t)

	var st *models.GameState
	for i := 0; i < length; i++ {
		var err error
		st, err = f.svc.SubmitMove(ctx, gameID, users[i%2], flip)
		require.NoError(t, err)
	}
	require.True(t, st.Terminal)
	require.Len(t, st.Winners, 1)

	final, err := rules.Decode[war.View](st.Data)
	require.NoError(t, err)
	assert.Equal(t, 52, final.DeckSizes[st.Winners[0]])

	g, err := f.svc.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, g.Status)
	assert.Equal(t, st.Winners, g.Winners)
	assert.NotNil(t, g.CompletedAt)

	_, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
	assert.ErrorIs(t, err, ErrGameOver)
	assert.Len(t, f.repo.MoveNumbers(gameID), length)
}

func TestOhHellEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, creator := f.create(t, models.GameTypeOhHell, map[string]any{"handSizes": []any{2.0, 1.0}})
	seats := map[int]uuid.UUID{0: creator}
	for i := 1; i < 3; i++ {
		u := uuid.New()
		seat, err := f.svc.Join(ctx, g.ID, u, "")
		require.NoError(t, err)
		seats[seat.PlayerIndex] = u
		_, err = f.svc.SetReady(ctx, g.ID, u, true)
		require.NoError(t, err)
	}

	st, err := f.svc.GetState(ctx, g.ID, creator)
	require.NoError(t, err)
	moves := 0
	for !st.Terminal {
		require.Less(t, moves, 100)
		user := seats[st.CurrentPlayerIndex]
		mine, err := f.svc.GetState(ctx, g.ID, user)
		require.NoError(t, err)
		table, err := rules.Decode[ohhell.View](mine.Data)
		require.NoError(t, err)

		var mv models.MoveData
		if table.Phase == ohhell.PhaseBidding {
			p, _ := json.Marshal(ohhell.BidPayload{Bid: table.LegalBids()[0]})
			mv = models.MoveData{Action: ohhell.ActionBid, Payload: p}
		} else {
			p, _ := json.Marshal(ohhell.PlayPayload{Card: table.LegalPlays()[0]})
			mv = models.MoveData{Action: ohhell.ActionPlay, Payload: p}
		}
		st, err = f.svc.SubmitMove(ctx, g.ID, user, mv)
		require.NoError(t, err)
		moves++
	}
	// 3 bids per round plus one card per player per trick.
	assert.Equal(t, 2*3+3*(2+1), moves)
	assert.NotEmpty(t, st.Winners)

	done, err := f.svc.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Contains(t, f.repo.SnapshotVersions(g.ID), moves, "the terminal state is always snapshotted")
}

func TestResyncAndChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gameID, users := f.startWar(t)
	for i := 0; i < 6; i++ {
		_, err := f.svc.SubmitMove(ctx, gameID, users[0], flip)
		require.NoError(t, err)
	}
	for _, body := range []string{"gl", "hf", "  ", "nice", "gg"} {
		_, err := f.svc.PostChat(ctx, gameID, users[1], body)
		if body == "  " {
			assert.ErrorIs(t, err, ErrInvalidChat)
			continue
		}
		require.NoError(t, err)
	}
	_, err := f.svc.PostChat(ctx, gameID, uuid.New(), "hi")
	assert.ErrorIs(t, err, ErrNotSeated)

	r, err := f.svc.Resync(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Equal(t, 6, r.State.Version)
	require.Len(t, r.Moves, 4)
	assert.Equal(t, 3, r.Moves[0].MoveNumber)
	assert.Equal(t, 6, r.Moves[3].MoveNumber)
	require.Len(t, r.Chat, 3)
	assert.Equal(t, "hf", r.Chat[0].Body)

	f.mr.FlushAll()
	r, err = f.svc.Resync(ctx, gameID, users[0])
	require.NoError(t, err)
	require.Len(t, r.Chat, 3, "durable chat backs an evicted tail")
	assert.Equal(t, "gg", r.Chat[2].Body)
	assert.Equal(t, 6, r.State.Version)

	_, err = f.svc.Resync(ctx, gameID, uuid.New())
	assert.ErrorIs(t, err, ErrNotSeated)

	chat, err := f.svc.Chat(ctx, gameID, users[0])
	require.NoError(t, err)
	assert.Len(t, chat, 3)
	_, err = f.svc.Chat(ctx, gameID, uuid.New())
	assert.ErrorIs(t, err, ErrNotSeated)
}

func TestAbandonAfterEveryoneDisconnects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return clock }
	gameID, users := f.startWar(t)

	for _, u := range users {
		require.NoError(t, f.svc.SetConnected(ctx, gameID, u, true))
	}
	assert.ErrorIs(t, f.svc.Abandon(ctx, gameID), ErrNotAbandonable)

	require.NoError(t, f.svc.SetConnected(ctx, gameID, users[0], false))
	require.NoError(t, f.svc.SetConnected(ctx, gameID, users[1], false))

	clock = clock.Add(time.Minute)
	idle, err := f.svc.Idle(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, idle, "still inside the grace period")

	clock = clock.Add(2 * time.Minute)
	idle, err = f.svc.Idle(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{gameID}, idle)

	require.NoError(t, f.svc.Abandon(ctx, gameID))
	g, err := f.svc.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbandoned, g.Status)

	_, err = f.svc.SubmitMove(ctx, gameID, users[0], flip)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindNotFound, KindOf(ErrGameNotFound))
	assert.Equal(t, KindInfrastructure, KindOf(infra("x", errRepoDown)))
	assert.Equal(t, KindValidation, KindOf(rules.Invalid("no")))
	assert.Equal(t, "concurrency", KindOf(ErrLockHeld).String())
}
