// Package tamper is the authoritative, hash-chained record store.
//
// Each entry links to its predecessor: entry_hash = SHA256(prev_hash || record
// bytes), with record bytes in canonical JSON. Reads re-validate both the
// entry hash and the record's content hash, so any out-of-band edit surfaces
// as sentinel.ErrCorrupted instead of a tampered value.
package tamper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

// GenesisHash is the prev_hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// Store is implemented by every tamper-evident backend.
type Store interface {
	// Store appends rec. A duplicate record id yields sentinel.ErrConflict.
	Store(ctx context.Context, rec *models.Record) (Entry, error)
	// Get returns a verified record or sentinel.ErrNotFound / ErrCorrupted.
	Get(ctx context.Context, id string) (*models.Record, error)
	// ListByType returns verified records of t, newest first.
	ListByType(ctx context.Context, t models.RecordType, limit int) ([]*models.Record, error)
	// RecentIDs returns up to n record ids, newest first.
	RecentIDs(ctx context.Context, n int) ([]string, error)
	// Verify walks the whole chain.
	Verify(ctx context.Context) (Report, error)
	Close() error
}

// Entry is one link of the chain.
type Entry struct {
	Seq       int64  `json:"seq"`
	RecordID  string `json:"record_id"`
	Record    []byte `json:"record"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Report summarizes a chain walk.
type Report struct {
	Entries int      `json:"entries"`
	Broken  []string `json:"broken,omitempty"`
}

// OK reports whether the walk found no defects.
func (r Report) OK() bool { return len(r.Broken) == 0 }

// ChainHash computes the entry hash for a record following prev.
func ChainHash(prev string, record []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(record)
	return hex.EncodeToString(h.Sum(nil))
}

func newEntry(seq int64, prev string, rec *models.Record) (Entry, error) {
	b, err := rec.Bytes()
	if err != nil {
		return Entry{}, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return Entry{
		Seq:       seq,
		RecordID:  rec.ID,
		Record:    b,
		PrevHash:  prev,
		EntryHash: ChainHash(prev, b),
	}, nil
}

// open validates an entry in isolation and decodes its record.
func open(e Entry) (*models.Record, error) {
	if ChainHash(e.PrevHash, e.Record) != e.EntryHash {
		return nil, fmt.Errorf("entry %d (%s) hash mismatch: %w", e.Seq, e.RecordID, sentinel.ErrCorrupted)
	}
	var rec models.Record
	if err := json.Unmarshal(e.Record, &rec); err != nil {
		return nil, fmt.Errorf("entry %d (%s) undecodable: %w", e.Seq, e.RecordID, sentinel.ErrCorrupted)
	}
	if rec.ID != e.RecordID {
		return nil, fmt.Errorf("entry %d id %s holds record %s: %w", e.Seq, e.RecordID, rec.ID, sentinel.ErrCorrupted)
	}
	if err := rec.VerifyContent(); err != nil {
		return nil, fmt.Errorf("entry %d: %v: %w", e.Seq, err, sentinel.ErrCorrupted)
	}
	return &rec, nil
}

// walker checks chain linkage across consecutive entries.
type walker struct {
	prev   string
	report Report
}

func newWalker() *walker { return &walker{prev: GenesisHash} }

func (w *walker) step(e Entry) {
	w.report.Entries++
	if e.PrevHash != w.prev {
		w.report.Broken = append(w.report.Broken, e.RecordID)
	} else if _, err := open(e); err != nil {
		w.report.Broken = append(w.report.Broken, e.RecordID)
	}
	w.prev = e.EntryHash
}
