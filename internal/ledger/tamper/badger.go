package tamper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

var (
	entryPrefix = []byte("entry/")
	idPrefix    = []byte("id/")
	typePrefix  = []byte("type/")
	headKey     = []byte("head")
)

// Badger keeps the chain in an embedded key-value store for single-node
// deployments.
type Badger struct {
	db *badger.DB
	mu sync.Mutex // one appender; badger txns would otherwise conflict on head
}

// OpenBadger opens (or creates) a chain under dir. An empty dir runs
// in memory.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger tamper store: %w", err)
	}
	return &Badger{db: db}, nil
}

func seqKey(prefix []byte, seq int64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(seq))
	return k
}

func idKey(id string) []byte {
	return append(append([]byte{}, idPrefix...), id...)
}

func typeKey(t models.RecordType, seq int64) []byte {
	return seqKey(append(append([]byte{}, typePrefix...), string(t)+"/"...), seq)
}

type head struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

func (s *Badger) Store(_ context.Context, rec *models.Record) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(rec.ID)); err == nil {
			return sentinel.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		h := head{Hash: GenesisHash}
		if item, err := txn.Get(headKey); err == nil {
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &h) }); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		var err error
		e, err = newEntry(h.Seq+1, h.Hash, rec)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, uint64(e.Seq))
		next, _ := json.Marshal(head{Seq: e.Seq, Hash: e.EntryHash})

		for _, kv := range [][2][]byte{
			{seqKey(entryPrefix, e.Seq), raw},
			{idKey(rec.ID), seq},
			{typeKey(rec.Type, e.Seq), []byte(rec.ID)},
			{headKey, next},
		} {
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, fmt.Errorf("badger store %s: %v: %w", rec.ID, err, sentinel.ErrUnavailable)
	}
	return e, nil
}

func readEntry(txn *badger.Txn, seq int64) (Entry, error) {
	item, err := txn.Get(seqKey(entryPrefix, seq))
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &e) })
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d undecodable: %w", seq, sentinel.ErrCorrupted)
	}
	return e, nil
}

func (s *Badger) lookup(txn *badger.Txn, id string) (Entry, error) {
	item, err := txn.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var seq int64
	if err := item.Value(func(v []byte) error {
		if len(v) != 8 {
			return sentinel.ErrCorrupted
		}
		seq = int64(binary.BigEndian.Uint64(v))
		return nil
	}); err != nil {
		return Entry{}, err
	}
	return readEntry(txn, seq)
}

func (s *Badger) Get(_ context.Context, id string) (*models.Record, error) {
	var rec *models.Record
	err := s.db.View(func(txn *badger.Txn) error {
		e, err := s.lookup(txn, id)
		if err != nil {
			return err
		}
		rec, err = open(e)
		return err
	})
	return rec, err
}

func (s *Badger) ListByType(_ context.Context, t models.RecordType, limit int) ([]*models.Record, error) {
	var out []*models.Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := append(append([]byte{}, typePrefix...), string(t)+"/"...)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the prefix range.
		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			seq := int64(binary.BigEndian.Uint64(it.Item().Key()[len(prefix):]))
			e, err := readEntry(txn, seq)
			if err != nil {
				return err
			}
			rec, err := open(e)
			if err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Badger) RecentIDs(_ context.Context, n int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(append(append([]byte{}, entryPrefix...), 0xFF)); it.ValidForPrefix(entryPrefix) && len(ids) < n; it.Next() {
			var e Entry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			ids = append(ids, e.RecordID)
		}
		return nil
	})
	return ids, err
}

func (s *Badger) Verify(_ context.Context) (Report, error) {
	w := newWalker()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				w.report.Entries++
				w.report.Broken = append(w.report.Broken, string(it.Item().Key()))
				continue
			}
			w.step(e)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("badger verify: %v: %w", err, sentinel.ErrUnavailable)
	}
	return w.report, nil
}

func (s *Badger) Close() error {
	return s.db.Close()
}
