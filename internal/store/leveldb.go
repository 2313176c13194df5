package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	ss:<session id>                 snapshot JSON
//	sl:<session id>:<seq uint64 BE> seal record JSON
//	sq:<session id>                 last seal sequence number
const (
	snapshotPrefix = "ss:"
	sealPrefix     = "sl:"
	sealSeqPrefix  = "sq:"
)

var syncWrite = &opt.WriteOptions{Sync: true}

// LevelDB stores snapshots in an embedded LevelDB directory.
type LevelDB struct {
	db *leveldb.DB
	mx sync.Mutex
}

// OpenLevelDB opens or creates the LevelDB database directory at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

// Close closes the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// SaveSnapshot writes the snapshot with a synced write.
func (l *LevelDB) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	if err := l.db.Put([]byte(snapshotPrefix+snap.SessionID), data, syncWrite); err != nil {
		return fmt.Errorf("failed to put: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot.
func (l *LevelDB) LoadSnapshot(_ context.Context, sessionID string) (*Snapshot, error) {
	data, err := l.db.Get([]byte(snapshotPrefix+sessionID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot removes a snapshot. Seal records are kept.
func (l *LevelDB) DeleteSnapshot(_ context.Context, sessionID string) error {
	if err := l.db.Delete([]byte(snapshotPrefix+sessionID), syncWrite); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

// ListSessions returns every stored session ID.
func (l *LevelDB) ListSessions(_ context.Context) ([]string, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(snapshotPrefix)), nil)
	defer iter.Release()

	var ids []string
	for iter.Next() {
		ids = append(ids, strings.TrimPrefix(string(iter.Key()), snapshotPrefix))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendSeal stores a seal record under the next sequence number for its
// session. The record and the counter are written in one batch.
func (l *LevelDB) AppendSeal(_ context.Context, r *SealRecord) error {
	l.mx.Lock()
	defer l.mx.Unlock()

	seqKey := []byte(sealSeqPrefix + r.SessionID)
	var seq uint64
	raw, err := l.db.Get(seqKey, nil)
	switch {
	case err == nil && len(raw) == 8:
		seq = binary.BigEndian.Uint64(raw)
	case err == nil:
		return fmt.Errorf("corrupt seal sequence for %s", r.SessionID)
	case !errors.Is(err, leveldb.ErrNotFound):
		return fmt.Errorf("failed to get: %w", err)
	}
	seq++

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)

	batch := new(leveldb.Batch)
	batch.Put(sealKey(r.SessionID, seq), data)
	batch.Put(seqKey, seqBytes)
	if err := l.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("failed to write batch to db: %w", err)
	}
	return nil
}

// ListSeals returns the seal records of a session in append order.
func (l *LevelDB) ListSeals(_ context.Context, sessionID string) ([]SealRecord, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(sealPrefix+sessionID+":")), nil)
	defer iter.Release()

	var out []SealRecord
	for iter.Next() {
		var r SealRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate: %w", err)
	}
	return out, nil
}

func sealKey(sessionID string, seq uint64) []byte {
	key := make([]byte, 0, len(sealPrefix)+len(sessionID)+1+8)
	key = append(key, sealPrefix...)
	key = append(key, sessionID...)
	key = append(key, ':')
	return binary.BigEndian.AppendUint64(key, seq)
}
