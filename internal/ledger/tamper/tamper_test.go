package tamper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/suite"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func record(t models.RecordType, title string, offset int) *models.Record {
	var p models.Payload = models.ProposalPayload{Title: title}
	if t != models.RecordProposal {
		p = models.RawPayload{Type: t, Content: []byte(fmt.Sprintf(`{"title":%q}`, title))}
	}
	rec, err := models.NewRecord(p, "singularity", baseTime.Add(time.Duration(offset)*time.Millisecond))
	if err != nil {
		panic(err)
	}
	return rec
}

// storeContract runs against every backend. corrupt rewrites the stored
// entry for id out-of-band.
type storeContract struct {
	suite.Suite
	newStore func() Store
	corrupt  func(s Store, id string, mutate func(*Entry))
	store    Store
}

func (s *storeContract) SetupTest() {
	s.store = s.newStore()
}

func (s *storeContract) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *storeContract) TestStoreAndGet() {
	ctx := context.Background()
	rec := record(models.RecordProposal, "X", 0)

	e, err := s.store.Store(ctx, rec)
	s.Require().NoError(err)
	s.Equal(GenesisHash, e.PrevHash)
	s.Equal(ChainHash(e.PrevHash, e.Record), e.EntryHash)

	got, err := s.store.Get(ctx, rec.ID)
	s.Require().NoError(err)
	s.True(rec.Equal(got))

	s.Run("duplicate ids conflict", func() {
		_, err := s.store.Store(ctx, rec)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown id", func() {
		_, err := s.store.Get(ctx, "proposal-0-deadbeef")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *storeContract) TestChainLinksEntries() {
	ctx := context.Background()
	first, err := s.store.Store(ctx, record(models.RecordProposal, "a", 0))
	s.Require().NoError(err)
	second, err := s.store.Store(ctx, record(models.RecordProposal, "b", 1))
	s.Require().NoError(err)
	s.Equal(first.EntryHash, second.PrevHash)

	report, err := s.store.Verify(ctx)
	s.Require().NoError(err)
	s.True(report.OK())
	s.Equal(2, report.Entries)
}

func (s *storeContract) TestListAndRecent() {
	ctx := context.Background()
	var ids []string
	for i, t := range []models.RecordType{models.RecordProposal, models.RecordComment, models.RecordProposal, models.RecordProposal} {
		rec := record(t, fmt.Sprintf("r%d", i), i)
		_, err := s.store.Store(ctx, rec)
		s.Require().NoError(err)
		ids = append(ids, rec.ID)
	}

	got, err := s.store.ListByType(ctx, models.RecordProposal, 2)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(ids[3], got[0].ID)
	s.Equal(ids[2], got[1].ID)

	all, err := s.store.ListByType(ctx, models.RecordProposal, 0)
	s.Require().NoError(err)
	s.Len(all, 3)

	recent, err := s.store.RecentIDs(ctx, 3)
	s.Require().NoError(err)
	s.Equal([]string{ids[3], ids[2], ids[1]}, recent)
}

func (s *storeContract) TestTamperedContentIsDetected() {
	ctx := context.Background()
	rec := record(models.RecordProposal, "honest", 0)
	_, err := s.store.Store(ctx, rec)
	s.Require().NoError(err)
	other := record(models.RecordProposal, "later", 1)
	_, err = s.store.Store(ctx, other)
	s.Require().NoError(err)

	s.corrupt(s.store, rec.ID, func(e *Entry) {
		var r models.Record
		s.Require().NoError(json.Unmarshal(e.Record, &r))
		r.Content = json.RawMessage(`{"title":"forged"}`)
		e.Record, _ = json.Marshal(r)
	})

	_, err = s.store.Get(ctx, rec.ID)
	s.ErrorIs(err, sentinel.ErrCorrupted)

	report, err := s.store.Verify(ctx)
	s.Require().NoError(err)
	s.False(report.OK())
	s.Contains(report.Broken, rec.ID)

	s.Run("rehashed entry still breaks the chain", func() {
		s.corrupt(s.store, rec.ID, func(e *Entry) {
			var r models.Record
			s.Require().NoError(json.Unmarshal(e.Record, &r))
			r.ContentHash = "00"
			e.Record, _ = json.Marshal(r)
			e.EntryHash = ChainHash(e.PrevHash, e.Record)
		})
		_, err := s.store.Get(ctx, rec.ID)
		s.ErrorIs(err, sentinel.ErrCorrupted)

		report, err := s.store.Verify(ctx)
		s.Require().NoError(err)
		s.Contains(report.Broken, other.ID, "successor no longer links to the rewritten entry")
	})
}

func (s *storeContract) TestConcurrentAppendsKeepChain() {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.store.Store(ctx, record(models.RecordComment, fmt.Sprintf("c%d", i), i))
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	report, err := s.store.Verify(ctx)
	s.Require().NoError(err)
	s.True(report.OK())
	s.Equal(20, report.Entries)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storeContract{
		newStore: func() Store { return NewMemory() },
		corrupt: func(s Store, id string, mutate func(*Entry)) {
			m := s.(*Memory)
			m.mu.Lock()
			defer m.mu.Unlock()
			mutate(&m.entries[m.index[id]])
		},
	})
}

func TestBadgerStore(t *testing.T) {
	suite.Run(t, &storeContract{
		newStore: func() Store {
			s, err := OpenBadger("")
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
		corrupt: func(s Store, id string, mutate func(*Entry)) {
			b := s.(*Badger)
			err := b.db.Update(func(txn *badger.Txn) error {
				e, err := b.lookup(txn, id)
				if err != nil {
					return err
				}
				mutate(&e)
				raw, err := json.Marshal(e)
				if err != nil {
					return err
				}
				return txn.Set(seqKey(entryPrefix, e.Seq), raw)
			})
			if err != nil {
				t.Fatal(err)
			}
		},
	})
}
