package store

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Open returns the backend named by kind rooted at path. The memory
// backend ignores path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case BackendSQLite, "":
		return OpenSQLite(path)
	case BackendLevelDB:
		return OpenLevelDB(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*LevelDB)(nil)
	_ Store = (*Memory)(nil)
)
