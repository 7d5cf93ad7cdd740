package vecsync

import (
	"fmt"
	"strings"
)

const (
	// DefaultLogTable is the change-log table populated by triggers.
	DefaultLogTable = "memory_log"

	// DefaultRecordTable is the table whose changes are logged.
	DefaultRecordTable = "memories"
)

// LogTableDDL returns the SQLite DDL for the change log.
func LogTableDDL(logTable string) string {
	if logTable == "" {
		logTable = DefaultLogTable
	}
	return `CREATE TABLE IF NOT EXISTS ` + logTable + ` (
    scn        INTEGER PRIMARY KEY AUTOINCREMENT,
    op         TEXT NOT NULL,
    memory_id  TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (CAST(unixepoch('subsec') * 1000 AS INTEGER))
);`
}

// SQLiteLogTriggers returns the trigger DDL statements capturing inserts,
// updates and deletes against recordTable into logTable using SQLite syntax.
// Updates are classified as tombstone, restore or plain metadata updates by
// comparing the tombstoned_at column.
func SQLiteLogTriggers(recordTable, logTable string) []string {
	if recordTable == "" {
		recordTable = DefaultRecordTable
	}
	if logTable == "" {
		logTable = DefaultLogTable
	}
	base := sanitizeIdentifier(recordTable)
	payload := func(alias string) string {
		return fmt.Sprintf(`json_object(
        'id', %[1]s.id,
        'content_hash', %[1]s.content_hash,
        'metadata', json(%[1]s.metadata),
        'created_at', %[1]s.created_at,
        'updated_at', %[1]s.updated_at,
        'tombstoned_at', %[1]s.tombstoned_at
    )`, alias)
	}
	updateOp := `CASE
        WHEN OLD.tombstoned_at IS NULL AND NEW.tombstoned_at IS NOT NULL THEN 'tombstone'
        WHEN OLD.tombstoned_at IS NOT NULL AND NEW.tombstoned_at IS NULL THEN 'restore'
        ELSE 'update'
    END`

	insertTrig := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_log_ai AFTER INSERT ON %s
BEGIN
    INSERT INTO %s(op, memory_id, payload) VALUES ('insert', NEW.id, %s);
END;`, base, recordTable, logTable, payload("NEW"))

	updateTrig := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_log_au AFTER UPDATE ON %s
BEGIN
    INSERT INTO %s(op, memory_id, payload) VALUES (%s, NEW.id, %s);
END;`, base, recordTable, logTable, updateOp, payload("NEW"))

	deleteTrig := fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_log_ad AFTER DELETE ON %s
BEGIN
    INSERT INTO %s(op, memory_id, payload) VALUES ('purge', OLD.id, %s);
END;`, base, recordTable, logTable, payload("OLD"))

	return []string{insertTrig, updateTrig, deleteTrig}
}

// PostgresLogDDL returns the statements creating the change log, its
// trigger function and the row trigger on recordTable. Identifiers may be
// schema qualified.
func PostgresLogDDL(recordTable, logTable string) []string {
	if recordTable == "" {
		recordTable = DefaultRecordTable
	}
	if logTable == "" {
		logTable = DefaultLogTable
	}
	base := sanitizeIdentifier(recordTable)
	fn := base + "_log_fn"
	table := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    scn        BIGSERIAL PRIMARY KEY,
    op         TEXT NOT NULL,
    memory_id  TEXT NOT NULL,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, logTable)
	function := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'INSERT' THEN
        INSERT INTO %[2]s(op, memory_id, payload) VALUES ('insert', NEW.id, to_jsonb(NEW) - 'embedding' - 'content');
        RETURN NEW;
    ELSIF TG_OP = 'UPDATE' THEN
        INSERT INTO %[2]s(op, memory_id, payload) VALUES (
            CASE
                WHEN OLD.tombstoned_at IS NULL AND NEW.tombstoned_at IS NOT NULL THEN 'tombstone'
                WHEN OLD.tombstoned_at IS NOT NULL AND NEW.tombstoned_at IS NULL THEN 'restore'
                ELSE 'update'
            END,
            NEW.id, to_jsonb(NEW) - 'embedding' - 'content');
        RETURN NEW;
    END IF;
    INSERT INTO %[2]s(op, memory_id, payload) VALUES ('purge', OLD.id, to_jsonb(OLD) - 'embedding' - 'content');
    RETURN OLD;
END;
$$ LANGUAGE plpgsql`, fn, logTable)
	trigger := fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = '%[1]s_log') THEN
        CREATE TRIGGER %[1]s_log AFTER INSERT OR UPDATE OR DELETE ON %[2]s
        FOR EACH ROW EXECUTE FUNCTION %[3]s();
    END IF;
END
$$`, base, recordTable, fn)
	return []string{table, function, trigger}
}

func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return replacer.Replace(name)
}
