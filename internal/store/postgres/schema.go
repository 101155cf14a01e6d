package postgres

// schema is the client/server-dialect DDL. Column shapes mirror the
// embedded dialect's schema in internal/store/sqlite/schema.go exactly, per
// "the schema that survives both".
const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id BIGINT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT,
	username TEXT,
	first_name TEXT,
	last_name TEXT,
	phone TEXT,
	description TEXT,
	participants_count INTEGER NOT NULL DEFAULT 0,
	last_synced_message_id BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	username TEXT,
	first_name TEXT,
	last_name TEXT,
	phone TEXT,
	is_bot BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	message_id BIGINT,
	chat_id BIGINT,
	type TEXT NOT NULL,
	file_path TEXT,
	file_name TEXT,
	file_size BIGINT,
	mime_type TEXT,
	width INTEGER,
	height INTEGER,
	duration INTEGER,
	downloaded BOOLEAN NOT NULL DEFAULT FALSE,
	download_date TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGINT NOT NULL,
	chat_id BIGINT NOT NULL,
	sender_id BIGINT,
	date TIMESTAMPTZ NOT NULL,
	text TEXT,
	reply_to_msg_id BIGINT,
	reply_to_text TEXT,
	forward_from_id BIGINT,
	edit_date TIMESTAMPTZ,
	media_type TEXT,
	media_id TEXT,
	media_path TEXT,
	raw_data TEXT,
	is_outgoing BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, chat_id),
	FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
	FOREIGN KEY (media_id) REFERENCES media(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
CREATE INDEX IF NOT EXISTS idx_messages_sender_id ON messages(sender_id);
CREATE INDEX IF NOT EXISTS idx_media_message_chat ON media(message_id, chat_id);

CREATE TABLE IF NOT EXISTS reactions (
	message_id BIGINT NOT NULL,
	chat_id BIGINT NOT NULL,
	emoji TEXT NOT NULL,
	user_id BIGINT,
	count INTEGER NOT NULL DEFAULT 1,
	UNIQUE (message_id, chat_id, emoji, user_id)
);

CREATE INDEX IF NOT EXISTS idx_reactions_message_chat ON reactions(message_id, chat_id);

CREATE TABLE IF NOT EXISTS sync_status (
	chat_id BIGINT PRIMARY KEY,
	last_message_id BIGINT NOT NULL DEFAULT 0,
	last_sync_date TIMESTAMPTZ,
	message_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	endpoint TEXT PRIMARY KEY,
	p256dh TEXT NOT NULL,
	auth TEXT NOT NULL,
	chat_id BIGINT,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ
);
`
