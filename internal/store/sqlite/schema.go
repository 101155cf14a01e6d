package sqlite

// schema is the embedded-dialect DDL. Column shapes mirror the
// PostgreSQL schema in internal/store/postgres/schema.go exactly so the
// adapter's semantics survive both dialects, per "the schema that
// survives both".
const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id INTEGER PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT,
	username TEXT,
	first_name TEXT,
	last_name TEXT,
	phone TEXT,
	description TEXT,
	participants_count INTEGER NOT NULL DEFAULT 0,
	last_synced_message_id INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT,
	first_name TEXT,
	last_name TEXT,
	phone TEXT,
	is_bot INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	message_id INTEGER,
	chat_id INTEGER,
	type TEXT NOT NULL,
	file_path TEXT,
	file_name TEXT,
	file_size INTEGER,
	mime_type TEXT,
	width INTEGER,
	height INTEGER,
	duration INTEGER,
	downloaded INTEGER NOT NULL DEFAULT 0,
	download_date TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	sender_id INTEGER,
	date TIMESTAMP NOT NULL,
	text TEXT,
	reply_to_msg_id INTEGER,
	reply_to_text TEXT,
	forward_from_id INTEGER,
	edit_date TIMESTAMP,
	media_type TEXT,
	media_id TEXT,
	media_path TEXT,
	raw_data TEXT,
	is_outgoing INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (id, chat_id),
	FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
	FOREIGN KEY (media_id) REFERENCES media(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);
CREATE INDEX IF NOT EXISTS idx_messages_sender_id ON messages(sender_id);
CREATE INDEX IF NOT EXISTS idx_media_message_chat ON media(message_id, chat_id);

CREATE TABLE IF NOT EXISTS reactions (
	message_id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	emoji TEXT NOT NULL,
	user_id INTEGER,
	count INTEGER NOT NULL DEFAULT 1,
	UNIQUE (message_id, chat_id, emoji, user_id)
);

CREATE INDEX IF NOT EXISTS idx_reactions_message_chat ON reactions(message_id, chat_id);

CREATE TABLE IF NOT EXISTS sync_status (
	chat_id INTEGER PRIMARY KEY,
	last_message_id INTEGER NOT NULL DEFAULT 0,
	last_sync_date TIMESTAMP,
	message_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	endpoint TEXT PRIMARY KEY,
	p256dh TEXT NOT NULL,
	auth TEXT NOT NULL,
	chat_id INTEGER,
	user_agent TEXT,
	created_at TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP
);
`
