package outbox

// schema contains all table definitions. Each statement is idempotent (CREATE IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS status_reports (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    host          TEXT    NOT NULL,
    generated_at  INTEGER NOT NULL,
    updated_ports INTEGER NOT NULL DEFAULT 0,
    payload       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_reports_generated
    ON status_reports (generated_at);
`
