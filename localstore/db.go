package localstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the registry database at path and creates its tables.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening registry %s: %w", path, err)
	}

	_, err = db.Exec(`
	PRAGMA busy_timeout       = 10000;
	PRAGMA journal_mode       = WAL;
	PRAGMA journal_size_limit = 200000000;
	PRAGMA synchronous        = NORMAL;
	PRAGMA foreign_keys       = ON;
	PRAGMA temp_store         = MEMORY;
	PRAGMA cache_size         = -16000;

	create table if not exists repos (
		id text primary key not null,
		kind text not null,
		visibility text not null,
		created_at text not null
	);

	create table if not exists commits (
		seq integer primary key autoincrement not null,
		id text not null unique,
		repo_id text not null references repos(id),
		message text not null,
		created_at text not null
	);

	create table if not exists files (
		repo_id text not null references repos(id),
		path text not null,
		blake3_hash text not null,
		size integer not null,
		commit_id text not null references commits(id),
		primary key (repo_id, path)
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating registry tables: %w", err)
	}

	return db, nil
}
