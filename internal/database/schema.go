package database

// schema is applied idempotently at startup. game_moves is append-only; the
// primary key on (game_id, move_number) rejects a second writer for the same
// slot. seat is the dense engine seat fixed when a game starts; player_index
// may have gaps left by lobby departures.
const schema = `
CREATE TABLE IF NOT EXISTS games (
    id UUID PRIMARY KEY,
    game_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'waiting',
    creator_id UUID NOT NULL,
    max_players INTEGER NOT NULL,
    is_private BOOLEAN NOT NULL DEFAULT FALSE,
    passcode_hash TEXT NOT NULL DEFAULT '',
    options JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    cancelled_by UUID,
    cancel_reason TEXT NOT NULL DEFAULT '',
    winners INTEGER[]
);

CREATE TABLE IF NOT EXISTS game_players (
    game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    player_index INTEGER NOT NULL,
    seat INTEGER,
    is_ready BOOLEAN NOT NULL DEFAULT FALSE,
    is_connected BOOLEAN NOT NULL DEFAULT FALSE,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (game_id, user_id),
    UNIQUE (game_id, player_index)
);

CREATE TABLE IF NOT EXISTS game_moves (
    game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    move_number INTEGER NOT NULL,
    player_id UUID NOT NULL,
    player_index INTEGER NOT NULL,
    seat INTEGER,
    move_data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (game_id, move_number)
);

CREATE TABLE IF NOT EXISTS game_snapshots (
    game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    version INTEGER NOT NULL,
    state JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (game_id, version)
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id UUID PRIMARY KEY,
    game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE game_players ADD COLUMN IF NOT EXISTS seat INTEGER;
ALTER TABLE game_moves ADD COLUMN IF NOT EXISTS seat INTEGER;

CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);
CREATE INDEX IF NOT EXISTS idx_chat_messages_game ON chat_messages(game_id, created_at);
`
