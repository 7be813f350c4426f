// Package pgstore implements store.Store on postgres.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/pool"
	"github.com/textileio/auctioneer-bot/storeutil"
	logging "github.com/textileio/go-log/v2"
)

var log = logging.Logger("auctioneer/store")

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store is a store.Store backed by postgres.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New migrates the database at postgresURI and returns a Store.
func New(postgresURI string) (*Store, error) {
	db, err := storeutil.MigrateAndConnectToDB(postgresURI, migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("initializing db connection: %s", err)
	}
	log.Info("postgres store ready")
	return &Store{db: db}, nil
}

// GetAuctionEntry implements store.Store.
func (s *Store) GetAuctionEntry(ctx context.Context, userID string, t pool.AuctionType) (store.AuctionEntry, error) {
	e := store.AuctionEntry{UserID: userID, AuctionType: t}
	err := s.db.QueryRowContext(ctx,
		`SELECT filler_id, start_block, fill_block, updated_at FROM auction_entries
		 WHERE user_id = $1 AND auction_type = $2`, userID, int16(t)).
		Scan(&e.FillerID, &e.StartBlock, &e.FillBlock, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AuctionEntry{}, store.ErrNotFound
	} else if err != nil {
		return store.AuctionEntry{}, fmt.Errorf("getting auction entry: %s", err)
	}
	return e, nil
}

// SetAuctionEntry implements store.Store.
func (s *Store) SetAuctionEntry(ctx context.Context, e store.AuctionEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auction_entries (user_id, auction_type, filler_id, start_block, fill_block, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, auction_type) DO UPDATE SET
		 filler_id = EXCLUDED.filler_id, start_block = EXCLUDED.start_block,
		 fill_block = EXCLUDED.fill_block, updated_at = EXCLUDED.updated_at`,
		e.UserID, int16(e.AuctionType), e.FillerID, e.StartBlock, e.FillBlock, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("setting auction entry: %s", err)
	}
	return nil
}

// DeleteAuctionEntry implements store.Store.
func (s *Store) DeleteAuctionEntry(ctx context.Context, userID string, t pool.AuctionType) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM auction_entries WHERE user_id = $1 AND auction_type = $2`, userID, int16(t)); err != nil {
		return fmt.Errorf("deleting auction entry: %s", err)
	}
	return nil
}

// ListAuctionEntries implements store.Store.
func (s *Store) ListAuctionEntries(ctx context.Context) ([]store.AuctionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, auction_type, filler_id, start_block, fill_block, updated_at
		 FROM auction_entries ORDER BY start_block, user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing auction entries: %s", err)
	}
	defer closeRows(rows)
	var entries []store.AuctionEntry
	for rows.Next() {
		var (
			e store.AuctionEntry
			t int16
		)
		if err := rows.Scan(&e.UserID, &t, &e.FillerID, &e.StartBlock, &e.FillBlock, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning auction entry: %s", err)
		}
		e.AuctionType = pool.AuctionType(t)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetUserEntry implements store.Store.
func (s *Store) GetUserEntry(ctx context.Context, userID string) (store.UserEntry, error) {
	entries, err := s.queryUsers(ctx,
		`SELECT user_id, health_factor, collateral, liabilities, updated_at
		 FROM user_entries WHERE user_id = $1`, userID)
	if err != nil {
		return store.UserEntry{}, err
	}
	if len(entries) == 0 {
		return store.UserEntry{}, store.ErrNotFound
	}
	return entries[0], nil
}

// SetUserEntry implements store.Store.
func (s *Store) SetUserEntry(ctx context.Context, e store.UserEntry) error {
	coll, err := json.Marshal(orEmpty(e.Collateral))
	if err != nil {
		return fmt.Errorf("encoding collateral: %s", err)
	}
	liab, err := json.Marshal(orEmpty(e.Liabilities))
	if err != nil {
		return fmt.Errorf("encoding liabilities: %s", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_entries (user_id, health_factor, collateral, liabilities, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		 health_factor = EXCLUDED.health_factor, collateral = EXCLUDED.collateral,
		 liabilities = EXCLUDED.liabilities, updated_at = EXCLUDED.updated_at`,
		e.UserID, e.HealthFactor, coll, liab, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("setting user entry: %s", err)
	}
	return nil
}

// DeleteUserEntry implements store.Store.
func (s *Store) DeleteUserEntry(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_entries WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("deleting user entry: %s", err)
	}
	return nil
}

// ListUserEntries implements store.Store.
func (s *Store) ListUserEntries(ctx context.Context) ([]store.UserEntry, error) {
	return s.queryUsers(ctx,
		`SELECT user_id, health_factor, collateral, liabilities, updated_at
		 FROM user_entries ORDER BY user_id`)
}

// ListUserEntriesUnderHealthFactor implements store.Store.
func (s *Store) ListUserEntriesUnderHealthFactor(ctx context.Context, hf float64) ([]store.UserEntry, error) {
	return s.queryUsers(ctx,
		`SELECT user_id, health_factor, collateral, liabilities, updated_at
		 FROM user_entries WHERE health_factor < $1 ORDER BY health_factor`, hf)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...interface{}) ([]store.UserEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying user entries: %s", err)
	}
	defer closeRows(rows)
	var entries []store.UserEntry
	for rows.Next() {
		var (
			e          store.UserEntry
			coll, liab []byte
		)
		if err := rows.Scan(&e.UserID, &e.HealthFactor, &coll, &liab, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user entry: %s", err)
		}
		if err := json.Unmarshal(coll, &e.Collateral); err != nil {
			return nil, fmt.Errorf("decoding collateral: %s", err)
		}
		if err := json.Unmarshal(liab, &e.Liabilities); err != nil {
			return nil, fmt.Errorf("decoding liabilities: %s", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetPriceEntry implements store.Store.
func (s *Store) GetPriceEntry(ctx context.Context, assetID string) (store.PriceEntry, error) {
	e := store.PriceEntry{AssetID: assetID}
	err := s.db.QueryRowContext(ctx,
		`SELECT price, timestamp FROM prices WHERE asset_id = $1`, assetID).
		Scan(&e.Price, &e.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PriceEntry{}, store.ErrNotFound
	} else if err != nil {
		return store.PriceEntry{}, fmt.Errorf("getting price entry: %s", err)
	}
	return e, nil
}

// SetPriceEntries implements store.Store.
func (s *Store) SetPriceEntries(ctx context.Context, entries []store.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return storeutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO prices (asset_id, price, timestamp) VALUES ($1, $2, $3)
				 ON CONFLICT (asset_id) DO UPDATE SET price = EXCLUDED.price, timestamp = EXCLUDED.timestamp`,
				e.AssetID, e.Price, e.Timestamp); err != nil {
				return fmt.Errorf("setting price of %s: %s", e.AssetID, err)
			}
		}
		return nil
	}, storeutil.TxWithIsolation(sql.LevelReadCommitted))
}

// SaveFilledAuction implements store.Store.
func (s *Store) SaveFilledAuction(ctx context.Context, e store.FilledAuctionEntry) (store.FilledAuctionEntry, error) {
	if e.ID == "" {
		id, err := store.NewID(e.Timestamp)
		if err != nil {
			return store.FilledAuctionEntry{}, err
		}
		e.ID = id
	}
	bid, err := json.Marshal(orEmpty(e.Bid))
	if err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("encoding bid: %s", err)
	}
	lot, err := json.Marshal(orEmpty(e.Lot))
	if err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("encoding lot: %s", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO filled_auctions
		 (id, tx_hash, filler, user_id, auction_type, bid, bid_total, lot, lot_total, est_profit, fill_block, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.TxHash, e.Filler, e.UserID, int16(e.AuctionType), bid, e.BidTotal, lot, e.LotTotal,
		e.EstProfit, e.FillBlock, e.Timestamp)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "filled_auctions_tx_hash_key" {
		log.Debugf("fill record for tx %s already saved", e.TxHash)
		entries, err := s.queryFilled(ctx, `WHERE tx_hash = $1`, e.TxHash)
		if err != nil {
			return store.FilledAuctionEntry{}, err
		}
		if len(entries) == 0 {
			return store.FilledAuctionEntry{}, store.ErrNotFound
		}
		return entries[0], nil
	} else if err != nil {
		return store.FilledAuctionEntry{}, fmt.Errorf("saving fill record: %s", err)
	}
	return e, nil
}

// ListFilledAuctions implements store.Store.
func (s *Store) ListFilledAuctions(ctx context.Context, limit int) ([]store.FilledAuctionEntry, error) {
	if limit > 0 {
		return s.queryFilled(ctx, `ORDER BY id DESC LIMIT $1`, limit)
	}
	return s.queryFilled(ctx, `ORDER BY id DESC`)
}

func (s *Store) queryFilled(ctx context.Context, clause string, args ...interface{}) ([]store.FilledAuctionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tx_hash, filler, user_id, auction_type, bid, bid_total, lot, lot_total, est_profit, fill_block, timestamp
		 FROM filled_auctions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fill records: %s", err)
	}
	defer closeRows(rows)
	var entries []store.FilledAuctionEntry
	for rows.Next() {
		var (
			e        store.FilledAuctionEntry
			t        int16
			bid, lot []byte
		)
		if err := rows.Scan(&e.ID, &e.TxHash, &e.Filler, &e.UserID, &t, &bid, &e.BidTotal, &lot,
			&e.LotTotal, &e.EstProfit, &e.FillBlock, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning fill record: %s", err)
		}
		e.AuctionType = pool.AuctionType(t)
		if err := json.Unmarshal(bid, &e.Bid); err != nil {
			return nil, fmt.Errorf("decoding bid: %s", err)
		}
		if err := json.Unmarshal(lot, &e.Lot); err != nil {
			return nil, fmt.Errorf("decoding lot: %s", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStatus implements store.Store.
func (s *Store) GetStatus(ctx context.Context, key string) (uint32, error) {
	var v uint32
	err := s.db.QueryRowContext(ctx, `SELECT value FROM status WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	} else if err != nil {
		return 0, fmt.Errorf("getting status %s: %s", key, err)
	}
	return v, nil
}

// SetStatus implements store.Store.
func (s *Store) SetStatus(ctx context.Context, key string, value uint32) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO status (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value); err != nil {
		return fmt.Errorf("setting status %s: %s", key, err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func orEmpty(a pool.AssetAmounts) pool.AssetAmounts {
	if a == nil {
		return pool.AssetAmounts{}
	}
	return a
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Errorf("closing rows: %s", err)
	}
}
