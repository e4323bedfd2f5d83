package storage

// Schema is the PostgreSQL schema the store expects
const Schema = `
CREATE TABLE IF NOT EXISTS spaces (
    id           UUID PRIMARY KEY,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    name         TEXT NOT NULL,
    armed        BOOLEAN NOT NULL DEFAULT FALSE,
    siren_active BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS pending_devices (
    id             UUID PRIMARY KEY,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    space_id       UUID NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
    serial_id      CHAR(16) NOT NULL UNIQUE,
    type           TEXT NOT NULL,
    state          TEXT NOT NULL,
    public_key_pem TEXT,
    hub_serial_id  CHAR(16)
);

CREATE TABLE IF NOT EXISTS devices (
    id             UUID PRIMARY KEY,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    space_id       UUID NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
    serial_id      CHAR(16) NOT NULL UNIQUE,
    type           TEXT NOT NULL,
    public_key_pem TEXT NOT NULL,
    name           TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    hub_serial_id  CHAR(16),
    metadata       JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS devices_space_type_idx ON devices (space_id, type);

CREATE TABLE IF NOT EXISTS event_logs (
    id          UUID PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL,
    space_id    UUID NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
    serial_id   CHAR(16),
    type        TEXT NOT NULL,
    level       TEXT NOT NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    details     JSONB
);

CREATE INDEX IF NOT EXISTS event_logs_space_created_idx ON event_logs (space_id, created_at DESC);
`
