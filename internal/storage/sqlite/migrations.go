package sqlite

import "database/sql"

// schema sets up the documents table. It runs on startup to ensure tables exist.
// Text comparisons use the default BINARY collation, which orders UTF-8 byte-wise.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(collection, json_extract(data, '$.owner_id'));
CREATE INDEX IF NOT EXISTS idx_documents_name ON documents(collection, json_extract(data, '$.name'));
CREATE INDEX IF NOT EXISTS idx_documents_selected_date ON documents(collection, json_extract(data, '$.selected_date'));
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
