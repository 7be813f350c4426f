// Package dsstore implements store.Store on a go-datastore.
package dsstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/pool"
	badger "github.com/textileio/go-ds-badger3"
	logging "github.com/textileio/go-log/v2"
)

var (
	log = logging.Logger("auctioneer/store")

	// dsAuctionPrefix is the prefix for tracked auctions.
	// Structure: /auctions/<user_id>/<auction_type> -> AuctionEntry
	dsAuctionPrefix = ds.NewKey("/auctions")
	// dsUserPrefix is the prefix for tracked users.
	// Structure: /users/<user_id> -> UserEntry
	dsUserPrefix = ds.NewKey("/users")
	// dsPricePrefix is the prefix for cached prices.
	// Structure: /prices/<asset_id> -> PriceEntry
	dsPricePrefix = ds.NewKey("/prices")
	// dsFilledPrefix is the prefix for fill records, ordered by id.
	// Structure: /filled/<id> -> FilledAuctionEntry
	dsFilledPrefix = ds.NewKey("/filled")
	// dsFilledTxPrefix indexes fill records by tx hash.
	// Structure: /txs/<tx_hash> -> <id>
	dsFilledTxPrefix = ds.NewKey("/txs")
	// dsStatusPrefix is the prefix for status values.
	// Structure: /status/<key> -> uint32
	dsStatusPrefix = ds.NewKey("/status")
)

// Store is a store.Store backed by a ds.Batching.
type Store struct {
	ds ds.Batching
	em cbor.EncMode
}

var _ store.Store = (*Store)(nil)

// New returns a Store over an existing datastore. The store owns it.
func New(d ds.Batching) (*Store, error) {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano, Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("creating cbor encoder: %s", err)
	}
	return &Store{ds: d, em: em}, nil
}

// NewBadger returns a Store persisted in a badger database at path.
func NewBadger(path string) (*Store, error) {
	d, err := badger.NewDatastore(path, &badger.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("opening badger datastore: %s", err)
	}
	s, err := New(d)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	log.Infof("badger store opened at %s", path)
	return s, nil
}

func auctionKey(userID string, t pool.AuctionType) ds.Key {
	return dsAuctionPrefix.ChildString(userID).ChildString(strconv.Itoa(int(t)))
}

// GetAuctionEntry implements store.Store.
func (s *Store) GetAuctionEntry(ctx context.Context, userID string, t pool.AuctionType) (store.AuctionEntry, error) {
	var e store.AuctionEntry
	if err := s.get(ctx, auctionKey(userID, t), &e); err != nil {
		return store.AuctionEntry{}, err
	}
	return e, nil
}

// SetAuctionEntry implements store.Store.
func (s *Store) SetAuctionEntry(ctx context.Context, e store.AuctionEntry) error {
	return s.put(ctx, auctionKey(e.UserID, e.AuctionType), e)
}

// DeleteAuctionEntry implements store.Store.
func (s *Store) DeleteAuctionEntry(ctx context.Context, userID string, t pool.AuctionType) error {
	if err := s.ds.Delete(ctx, auctionKey(userID, t)); err != nil {
		return fmt.Errorf("deleting auction entry: %s", err)
	}
	return nil
}

// ListAuctionEntries implements store.Store.
func (s *Store) ListAuctionEntries(ctx context.Context) ([]store.AuctionEntry, error) {
	var entries []store.AuctionEntry
	err := s.each(ctx, dsq.Query{Prefix: dsAuctionPrefix.String()}, func(val []byte) error {
		var e store.AuctionEntry
		if err := cbor.Unmarshal(val, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// GetUserEntry implements store.Store.
func (s *Store) GetUserEntry(ctx context.Context, userID string) (store.UserEntry, error) {
	var e store.UserEntry
	if err := s.get(ctx, dsUserPrefix.ChildString(userID), &e); err != nil {
		return store.UserEntry{}, err
	}
	return e, nil
}

// SetUserEntry implements store.Store.
func (s *Store) SetUserEntry(ctx context.Context, e store.UserEntry) error {
	return s.put(ctx, dsUserPrefix.ChildString(e.UserID), e)
}

// DeleteUserEntry implements store.Store.
func (s *Store) DeleteUserEntry(ctx context.Context, userID string) error {
	if err := s.ds.Delete(ctx, dsUserPrefix.ChildString(userID)); err != nil {
		return fmt.Errorf("deleting user entry: %s", err)
	}
	return nil
}

// ListUserEntries implements store.Store.
func (s *Store) ListUserEntries(ctx context.Context) ([]store.UserEntry, error) {
	return s.listUsers(ctx, func(store.UserEntry) bool { return true })
}

// ListUserEntriesUnderHealthFactor implements store.Store.
func (s *Store) ListUserEntriesUnderHealthFactor(ctx context.Context, hf float64) ([]store.UserEntry, error) {
	return s.listUsers(ctx, func(e store.UserEntry) bool { return e.HealthFactor < hf })
}

func (s *Store) listUsers(ctx context.Context, keep func(store.UserEntry) bool) ([]store.UserEntry, error) {
	var entries []store.UserEntry
	err := s.each(ctx, dsq.Query{Prefix: dsUserPrefix.String()}, func(val []byte) error {
		var e store.UserEntry
		if err := cbor.Unmarshal(val, &e); err != nil {
			return err
		}
		if keep(e) {
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// GetPriceEntry implements store.Store.
func (s *Store) GetPriceEntry(ctx context.Context, assetID string) (store.PriceEntry, error) {
	var e store.PriceEntry
	if err := s.get(ctx, dsPricePrefix.ChildString(assetID), &e); err != nil {
		return store.PriceEntry{}, err
	}
	return e, nil
}

// SetPriceEntries implements store.Store.
func (s *Store) SetPriceEntries(ctx context.Context, entries []store.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b, err := s.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("creating batch: %s", err)
	}
	for _, e := range entries {
		val, err := s.em.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding price entry: %s", err)
		}
		if err := b.Put(ctx, dsPricePrefix.ChildString(e.AssetID), val); err != nil {
			return fmt.Errorf("batching price entry: %s", err)
		}
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("committing price entries: %s", err)
	}
	return nil
}

// SaveFilledAuction implements store.Store.
func (s *Store) SaveFilledAuction(ctx context.Context, e store.FilledAuctionEntry) (store.FilledAuctionEntry, error) {
	txKey := dsFilledTxPrefix.ChildString(e.TxHash)
	existing, err := s.ds.Get(ctx, txKey)
	if err == nil {
		var prev store.FilledAuctionEntry
		if err := s.get(ctx, dsFilledPrefix.ChildString(string(existing)), &prev); err != nil {
			return store.FilledAuctionEntry{}, err
		}
		return prev, nil
	}
	if !errors.Is(err, ds.ErrNotFound) {
		return store.FilledAuctionEntry{}, fmt.Errorf("getting tx index: %s", err)
	}

	if e.ID == "" {
		if e.ID, err = store.NewID(e.Timestamp); err != nil {
			return store.FilledAuctionEntry{}, err
		}
	}
	val, err := s.em.Marshal(e)
	if err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("encoding fill record: %s", err)
	}
	b, err := s.ds.Batch(ctx)
	if err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("creating batch: %s", err)
	}
	if err := b.Put(ctx, dsFilledPrefix.ChildString(e.ID), val); err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("batching fill record: %s", err)
	}
	if err := b.Put(ctx, txKey, []byte(e.ID)); err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("batching tx index: %s", err)
	}
	if err := b.Commit(ctx); err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("committing fill record: %s", err)
	}
	return e, nil
}

// ListFilledAuctions implements store.Store.
func (s *Store) ListFilledAuctions(ctx context.Context, limit int) ([]store.FilledAuctionEntry, error) {
	q := dsq.Query{
		Prefix: dsFilledPrefix.String(),
		Orders: []dsq.Order{dsq.OrderByKeyDescending{}},
		Limit:  limit,
	}
	var entries []store.FilledAuctionEntry
	err := s.each(ctx, q, func(val []byte) error {
		var e store.FilledAuctionEntry
		if err := cbor.Unmarshal(val, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// GetStatus implements store.Store.
func (s *Store) GetStatus(ctx context.Context, key string) (uint32, error) {
	var v uint32
	if err := s.get(ctx, dsStatusPrefix.ChildString(key), &v); err != nil {
		return 0, err
	}
	return v, nil
}

// SetStatus implements store.Store.
func (s *Store) SetStatus(ctx context.Context, key string, value uint32) error {
	return s.put(ctx, dsStatusPrefix.ChildString(key), value)
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.ds.Close()
}

func (s *Store) get(ctx context.Context, key ds.Key, v interface{}) error {
	val, err := s.ds.Get(ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return store.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("getting %s: %s", key, err)
	}
	if err := cbor.Unmarshal(val, v); err != nil {
		return fmt.Errorf("decoding %s: %s", key, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key ds.Key, v interface{}) error {
	val, err := s.em.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %s", key, err)
	}
	if err := s.ds.Put(ctx, key, val); err != nil {
		return fmt.Errorf("putting %s: %s", key, err)
	}
	return nil
}

func (s *Store) each(ctx context.Context, q dsq.Query, f func([]byte) error) error {
	results, err := s.ds.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("querying %s: %s", q.Prefix, err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			log.Errorf("closing query result: %s", err)
		}
	}()
	for res := range results.Next() {
		if res.Error != nil {
			return fmt.Errorf("iterating %s: %s", q.Prefix, res.Error)
		}
		if err := f(res.Value); err != nil {
			return fmt.Errorf("decoding %s: %s", res.Key, err)
		}
	}
	return nil
}
