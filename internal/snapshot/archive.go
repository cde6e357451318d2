// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package snapshot archives the final state of destroyed sessions so
// operators can answer "what happened to session X" after the fact.
// Records carry a TTL; Badger expires them without a sweeper.
package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/session/model"
)

const keyPrefix = "sess:"

// Archive is a Badger-backed store of terminal session snapshots.
type Archive struct {
	db        *badger.DB
	retention time.Duration
	logger    zerolog.Logger
}

// Open opens (or creates) the archive at dir.
func Open(dir string, retention time.Duration) (*Archive, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Archive{
		db:        db,
		retention: retention,
		logger:    log.WithComponent("snapshot"),
	}, nil
}

// Close flushes and closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

// Put archives one terminal session snapshot.
func (a *Archive) Put(sess *model.Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := []byte(keyPrefix + sess.ID)
	err = a.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, buf)
		if a.retention > 0 {
			entry = entry.WithTTL(a.retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return err
	}
	metrics.SnapshotsArchivedTotal.Inc()
	return nil
}

// Record is Put with the error demoted to a log line; the archive is an
// observability aid and must never fail a session teardown.
func (a *Archive) Record(sess *model.Session) {
	if err := a.Put(sess); err != nil {
		a.logger.Warn().
			Err(err).
			Str(log.FieldSessionID, sess.ID).
			Msg("failed to archive session snapshot")
	}
}

// Get returns the archived snapshot, or (nil, nil) when none exists.
func (a *Archive) Get(_ context.Context, sessionID string) (*model.Session, error) {
	var out model.Session
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// List returns all archived snapshots.
func (a *Archive) List(ctx context.Context) ([]*model.Session, error) {
	var list []*model.Session
	err := a.Scan(ctx, func(sess *model.Session) error {
		list = append(list, sess)
		return nil
	})
	return list, err
}

// Scan streams archived snapshots to fn. Corrupt records are skipped.
func (a *Archive) Scan(ctx context.Context, fn func(*model.Session) error) error {
	prefix := []byte(keyPrefix)
	return a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var sess model.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				continue
			}
			if err := fn(&sess); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes one archived snapshot.
func (a *Archive) Delete(sessionID string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + sessionID))
	})
}
