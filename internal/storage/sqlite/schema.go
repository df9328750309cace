package sqlite

const schema = `
-- Alerts table
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'INFO',
    title TEXT NOT NULL CHECK(length(title) <= 500),
    message TEXT NOT NULL DEFAULT '',
    ai_suggestion TEXT,
    ai_action_json TEXT,
    source_system TEXT NOT NULL,
    source_id TEXT NOT NULL,
    source_url TEXT NOT NULL DEFAULT '',
    -- '' rather than NULL so the dedup index applies to alerts without a target
    target_system TEXT NOT NULL DEFAULT '',
    target_id TEXT NOT NULL DEFAULT '',
    target_url TEXT NOT NULL DEFAULT '',
    is_read INTEGER NOT NULL DEFAULT 0,
    is_resolved INTEGER NOT NULL DEFAULT 0,
    resolved_at TEXT,
    action_claimed_at TEXT,
    created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_unresolved_key
    ON alerts(source_system, source_id, target_system, target_id, alert_type)
    WHERE is_resolved = 0;
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_source ON alerts(source_system, source_id);

-- Analysis state (content checksums of analyzed entity pairs)
CREATE TABLE IF NOT EXISTS analysis_state (
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    source_system TEXT NOT NULL DEFAULT '',
    content_checksum TEXT NOT NULL,
    last_analyzed_at TEXT NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
);

-- Task index (snapshots synced from project-management systems)
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL DEFAULT '',
    source_system TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    assignee TEXT NOT NULL DEFAULT '',
    due_date TEXT,
    external_modified_at TEXT,
    url TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_external_id ON tasks(external_id COLLATE NOCASE);
`
