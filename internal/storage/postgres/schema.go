package postgres

// Schema creates the tables used by Store. It is idempotent.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS indicators (
	id                   BIGSERIAL PRIMARY KEY,
	url                  TEXT NOT NULL UNIQUE,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	functionality        TEXT NOT NULL DEFAULT '',
	usage_guidelines     TEXT NOT NULL DEFAULT '',
	user_feedback        JSONB NOT NULL DEFAULT '{}'::jsonb,
	additional_insights  TEXT NOT NULL DEFAULT '',
	profitability_rating INTEGER NOT NULL CHECK (profitability_rating BETWEEN 0 AND 10),
	reliability_rating   INTEGER NOT NULL CHECK (reliability_rating BETWEEN 0 AND 10),
	placeholder          BOOLEAN NOT NULL DEFAULT FALSE,
	raw_data             JSONB,
	analyzed_date        TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS indicators_created_at_idx ON indicators (created_at DESC);

CREATE TABLE IF NOT EXISTS analysis_logs (
	id             BIGSERIAL PRIMARY KEY,
	indicator_url  TEXT NOT NULL,
	status         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	error_message  TEXT,
	execution_time DOUBLE PRECISION NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS analysis_logs_url_idx ON analysis_logs (indicator_url, created_at DESC);
`
