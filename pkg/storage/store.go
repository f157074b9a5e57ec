package storage

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/quartzex/clob/pkg/clob"
)

// Store persists book snapshots, the global fee configuration, and executed
// fills in Pebble. Snapshots are written whole after each mutating operation;
// the book record is small and fixed-size by construction.
type Store struct {
	db  *pebble.DB
	seq atomic.Uint64 // disambiguates fills sharing a timestamp
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// GlobalState is the persisted global configuration record.
type GlobalState struct {
	FeeCollector common.Address
}

func (s *Store) SaveGlobal(gs GlobalState) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("marshal global state: %w", err)
	}
	if err := s.db.Set(globalKey(), data, pebble.Sync); err != nil {
		return fmt.Errorf("save global state: %w", err)
	}
	return nil
}

// LoadGlobal returns the global state, or false if never initialized.
func (s *Store) LoadGlobal() (GlobalState, bool, error) {
	val, closer, err := s.db.Get(globalKey())
	if err == pebble.ErrNotFound {
		return GlobalState{}, false, nil
	}
	if err != nil {
		return GlobalState{}, false, fmt.Errorf("get global state: %w", err)
	}
	defer closer.Close()
	var gs GlobalState
	if err := json.Unmarshal(val, &gs); err != nil {
		return GlobalState{}, false, fmt.Errorf("unmarshal global state: %w", err)
	}
	return gs, true, nil
}

// SaveBook writes a whole book snapshot.
func (s *Store) SaveBook(b *clob.OrderBook) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode book %s: %w", b.Pair(), err)
	}
	if err := s.db.Set(bookKey(b.Pair()), val, pebble.Sync); err != nil {
		return fmt.Errorf("save book %s: %w", b.Pair(), err)
	}
	return nil
}

// LoadBook returns the snapshot for a pair, or false if none exists.
func (s *Store) LoadBook(pair string) (*clob.OrderBook, bool, error) {
	val, closer, err := s.db.Get(bookKey(pair))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get book %s: %w", pair, err)
	}
	defer closer.Close()
	var b clob.OrderBook
	if err := decodeGob(val, &b); err != nil {
		return nil, false, fmt.Errorf("decode book %s: %w", pair, err)
	}
	return &b, true, nil
}

// ListPairs returns the pairs with persisted snapshots.
func (s *Store) ListPairs() ([]string, error) {
	prefix := []byte(prefixBook)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var pairs []string
	for iter.First(); iter.Valid(); iter.Next() {
		pairs = append(pairs, string(iter.Key()[len(prefix):]))
	}
	return pairs, nil
}

// SaveFills appends executed fills to the trade history. History writes are
// NoSync: losing the tail on crash is acceptable, the book snapshot is not.
func (s *Store) SaveFills(pair string, fills []clob.Fill) error {
	for _, f := range fills {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal fill: %w", err)
		}
		key := fillKey(pair, f.Time, s.seq.Add(1))
		if err := s.db.Set(key, data, pebble.NoSync); err != nil {
			return fmt.Errorf("save fill: %w", err)
		}
	}
	return nil
}

// RecentFills returns up to limit fills for a pair, most recent first.
func (s *Store) RecentFills(pair string, limit int) ([]clob.Fill, error) {
	prefix := fillPrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var fills []clob.Fill
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		var f clob.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, nil
}
