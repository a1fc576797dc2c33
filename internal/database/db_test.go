package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepo connects to DATABASE_URL, skipping when no database is configured.
func testRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func newGame() *models.Game {
	now := time.Now().UTC().Truncate(time.Microsecond)
	creator := uuid.New()
	return &models.Game{
		ID:         uuid.New(),
		GameType:   models.GameTypeWar,
		Status:     models.StatusWaiting,
		CreatorID:  creator,
		MaxPlayers: 2,
		Options:    map[string]any{"quorum": 2.0},
		CreatedAt:  now,
		Players: []models.GamePlayer{
			{UserID: creator, PlayerIndex: 0, IsReady: true, JoinedAt: now, LastSeen: now},
		},
	}
}

func TestGameRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	g := newGame()
	require.NoError(t, repo.CreateGame(ctx, g))

	got, err := repo.GetGame(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, g.CreatorID, got.CreatorID)
	assert.Equal(t, 2.0, got.Options["quorum"])
	require.Len(t, got.Players, 1)
	assert.True(t, got.Players[0].IsReady)

	joiner := uuid.New()
	got.Players = append(got.Players, models.GamePlayer{UserID: joiner, PlayerIndex: 1, JoinedAt: g.CreatedAt, LastSeen: g.CreatedAt})
	got.Status = models.StatusReady
	require.NoError(t, repo.SaveGame(ctx, got))

	again, err := repo.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, again.Status)
	require.Len(t, again.Players, 2)
	assert.Equal(t, joiner, again.Players[1].UserID)
	assert.Nil(t, again.Players[1].Seat)

	again.AssignSeats()
	require.NoError(t, repo.SaveGame(ctx, again))
	seated, err := repo.GetGame(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, seated.Players[1].Seat)
	assert.Equal(t, 1, *seated.Players[1].Seat)

	ready, err := repo.ListGames(ctx, models.StatusReady)
	require.NoError(t, err)
	var found bool
	for _, r := range ready {
		found = found || r.ID == g.ID
	}
	assert.True(t, found)

	missing, err := repo.GetGame(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMoveLogAndSnapshots(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	g := newGame()
	require.NoError(t, repo.CreateGame(ctx, g))
	now := time.Now().UTC()
	g.Status = models.StatusInProgress
	g.StartedAt = &now
	opening := &models.GameState{GameID: g.ID, GameType: g.GameType, Data: json.RawMessage(`{"turn":0}`), UpdatedAt: now}
	require.NoError(t, repo.StartGame(ctx, g, opening))

	snap, err := repo.LatestSnapshot(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 0, snap.Version)
	assert.JSONEq(t, `{"turn":0}`, string(snap.Data))

	for n := 1; n <= 3; n++ {
		c := models.MoveCommit{Move: models.Move{
			GameID:     g.ID,
			PlayerID:   g.CreatorID,
			Seat:       n % 2,
			MoveNumber: n,
			MoveData:   models.MoveData{Action: "flip"},
			CreatedAt:  now,
		}}
		if n == 2 {
			c.Snapshot = &models.GameState{GameID: g.ID, GameType: g.GameType, Version: 2, Data: json.RawMessage(`{"turn":2}`), UpdatedAt: now}
		}
		require.NoError(t, repo.CommitMove(ctx, c))
	}

	dup := models.MoveCommit{Move: models.Move{GameID: g.ID, PlayerID: g.CreatorID, MoveNumber: 3, MoveData: models.MoveData{Action: "flip"}, CreatedAt: now}}
	assert.ErrorIs(t, repo.CommitMove(ctx, dup), ErrDuplicateMove)

	snap, err = repo.LatestSnapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)

	tail, err := repo.MovesSince(ctx, g.ID, snap.Version)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, 3, tail[0].MoveNumber)
	assert.Equal(t, 1, tail[0].Seat)
	assert.Equal(t, "flip", tail[0].MoveData.Action)

	recent, err := repo.RecentMoves(ctx, g.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].MoveNumber)
	assert.Equal(t, 3, recent[1].MoveNumber)
}

func TestRecentChatOldestFirst(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	g := newGame()
	require.NoError(t, repo.CreateGame(ctx, g))
	base := time.Now().UTC()
	for i, body := range []string{"one", "two", "three"} {
		require.NoError(t, repo.InsertChat(ctx, models.ChatMessage{
			ID:        uuid.New(),
			GameID:    g.ID,
			UserID:    g.CreatorID,
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := repo.RecentChat(ctx, g.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)
	assert.Equal(t, "three", msgs[1].Body)
}
