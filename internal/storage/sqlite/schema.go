package sqlite

// Schema creates every table the insight pipeline reads or writes.
// Timestamps are stored as fixed-width UTC text (see timeLayout) so that
// lexical comparison in SQL matches chronological order.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL DEFAULT '',
	memory_type    TEXT NOT NULL DEFAULT 'general',
	content        TEXT NOT NULL,
	summary        TEXT,
	tags           TEXT,
	importance     REAL,
	content_vector TEXT,
	tags_vector    TEXT,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_project_type ON memories(project_id, memory_type);

CREATE TABLE IF NOT EXISTS insights (
	id                      TEXT PRIMARY KEY,
	project_id              TEXT NOT NULL DEFAULT '',
	insight_type            TEXT NOT NULL,
	insight_category        TEXT NOT NULL,
	insight_subcategory     TEXT,
	title                   TEXT NOT NULL,
	summary                 TEXT NOT NULL,
	detailed_content        TEXT,
	source_type             TEXT NOT NULL DEFAULT 'memory',
	source_ids              TEXT NOT NULL,
	detection_method        TEXT NOT NULL DEFAULT '',
	confidence_score        REAL NOT NULL DEFAULT 0 CHECK (confidence_score >= 0 AND confidence_score <= 1),
	validation_status       TEXT NOT NULL DEFAULT 'pending',
	rejection_reason        TEXT,
	related_insight_ids     TEXT,
	supersedes_insight_id   TEXT,
	contradicts_insight_ids TEXT,
	technologies            TEXT,
	patterns                TEXT,
	recommendations         TEXT,
	evidence                TEXT,
	tags                    TEXT,
	embedding               TEXT,
	signature               TEXT NOT NULL,
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_signature ON insights(project_id, signature, created_at);
CREATE INDEX IF NOT EXISTS idx_insights_type_category ON insights(project_id, insight_type, insight_category);
CREATE INDEX IF NOT EXISTS idx_insights_created ON insights(created_at);

CREATE TABLE IF NOT EXISTS insight_sources (
	insight_id TEXT NOT NULL REFERENCES insights(id) ON DELETE CASCADE,
	memory_id  TEXT NOT NULL,
	PRIMARY KEY (insight_id, memory_id)
);

CREATE INDEX IF NOT EXISTS idx_insight_sources_memory ON insight_sources(memory_id);

CREATE TABLE IF NOT EXISTS analysis_templates (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL DEFAULT 'general',
	description     TEXT,
	prompt_template TEXT NOT NULL,
	variables       TEXT,
	temperature     REAL NOT NULL DEFAULT 0.3,
	max_tokens      INTEGER NOT NULL DEFAULT 1500,
	is_active       INTEGER NOT NULL DEFAULT 1,
	tags            TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_templates_category ON analysis_templates(category, is_active);

CREATE TABLE IF NOT EXISTS processing_queue (
	id             TEXT PRIMARY KEY,
	task_type      TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 5 CHECK (priority >= 1 AND priority <= 10),
	source_type    TEXT NOT NULL DEFAULT 'memory',
	source_ids     TEXT NOT NULL,
	payload        TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	scheduled_for  TEXT NOT NULL,
	started_at     TEXT,
	completed_at   TEXT,
	result_summary TEXT,
	error_message  TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_claim ON processing_queue(status, priority DESC, scheduled_for);
`
