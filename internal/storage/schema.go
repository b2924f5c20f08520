package storage

const schema = `
-- The 'rooms' table stores one record sequence per (kind, room).
-- payload is the JSON array of records in insertion order.
CREATE TABLE IF NOT EXISTS rooms (
    kind TEXT NOT NULL,
    room_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '[]',
    updated_at DATETIME NOT NULL,

    PRIMARY KEY (kind, room_id)
);
`
