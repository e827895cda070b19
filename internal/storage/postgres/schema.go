// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the SQL statements to create the database schema for PostgreSQL.
// All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL DEFAULT '',
    memory_type TEXT NOT NULL DEFAULT 'general',
    content TEXT NOT NULL,
    summary TEXT,
    tags JSONB,
    importance DOUBLE PRECISION,
    content_vector JSONB,
    tags_vector JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_memories_project_type ON memories(project_id, memory_type);

CREATE TABLE IF NOT EXISTS insights (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL DEFAULT '',
    insight_type TEXT NOT NULL,
    insight_category TEXT NOT NULL,
    insight_subcategory TEXT,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    detailed_content JSONB,
    source_type TEXT NOT NULL DEFAULT 'memory',
    source_ids TEXT[] NOT NULL,
    detection_method TEXT NOT NULL DEFAULT '',
    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0
        CHECK (confidence_score >= 0 AND confidence_score <= 1),
    validation_status TEXT NOT NULL DEFAULT 'pending',
    rejection_reason TEXT,
    related_insight_ids TEXT[],
    supersedes_insight_id TEXT,
    contradicts_insight_ids TEXT[],
    technologies JSONB,
    patterns JSONB,
    recommendations JSONB,
    evidence JSONB,
    tags TEXT[],
    embedding JSONB,
    signature TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_insights_signature ON insights(project_id, signature, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_insights_type_category ON insights(project_id, insight_type, insight_category);
CREATE INDEX IF NOT EXISTS idx_insights_sources ON insights USING GIN (source_ids);
CREATE INDEX IF NOT EXISTS idx_insights_created ON insights(created_at DESC);

CREATE TABLE IF NOT EXISTS analysis_templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    category TEXT NOT NULL DEFAULT 'general',
    description TEXT,
    prompt_template TEXT NOT NULL,
    variables TEXT[],
    temperature DOUBLE PRECISION NOT NULL DEFAULT 0.3,
    max_tokens INTEGER NOT NULL DEFAULT 1500,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    tags TEXT[],
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_templates_category ON analysis_templates(category, is_active);

CREATE TABLE IF NOT EXISTS processing_queue (
    id TEXT PRIMARY KEY,
    task_type TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 5 CHECK (priority >= 1 AND priority <= 10),
    source_type TEXT NOT NULL DEFAULT 'memory',
    source_ids TEXT[] NOT NULL,
    payload JSONB,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    scheduled_for TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    result_summary TEXT,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_queue_claim ON processing_queue(status, priority DESC, scheduled_for);
`

// MigrationPgvector adds the vector column used for insight similarity search.
// Only applied when the vector extension is available. Safe to run multiple times.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'insights' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE insights ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`
