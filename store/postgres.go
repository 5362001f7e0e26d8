package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/cloudx-io/sealedauction/core"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store and applies the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS auctions (
		id NUMERIC(20,0) PRIMARY KEY,
		authority VARCHAR(128) NOT NULL,
		minimum_bid NUMERIC(20,0) NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE NOT NULL,
		bidder_count INTEGER NOT NULL DEFAULT 0,
		phase VARCHAR(16) NOT NULL,
		highest_bid BYTEA NOT NULL,
		vault VARCHAR(128) NOT NULL,
		metadata JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bids (
		bid_key CHAR(64) PRIMARY KEY,
		auction_id NUMERIC(20,0) NOT NULL REFERENCES auctions(id),
		bidder VARCHAR(128) NOT NULL,
		deposit NUMERIC(20,0) NOT NULL,
		amount_handle BYTEA NOT NULL,
		winner_handle BYTEA NOT NULL,
		checked BOOLEAN NOT NULL DEFAULT FALSE,
		withdrawn BOOLEAN NOT NULL DEFAULT FALSE,
		placed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (auction_id, bidder)
	);

	CREATE TABLE IF NOT EXISTS comments (
		auction_id NUMERIC(20,0) NOT NULL REFERENCES auctions(id),
		seq NUMERIC(20,0) NOT NULL,
		author VARCHAR(128) NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (auction_id, seq)
	);

	CREATE TABLE IF NOT EXISTS balances (
		account VARCHAR(128) PRIMARY KEY,
		amount NUMERIC(20,0) NOT NULL CHECK (amount >= 0 AND amount <= 18446744073709551615)
	);

	CREATE INDEX IF NOT EXISTS idx_bids_placed ON bids(auction_id, placed_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Update runs fn in a read-write transaction, locking rows it reads.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

// View runs fn in a read-only transaction.
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *PostgresStore) run(ctx context.Context, readOnly bool, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: sqlTx, forUpdate: !readOnly}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)

type pgTx struct {
	tx        *sql.Tx
	forUpdate bool
}

// Amounts and ids are unsigned 64-bit; database/sql rejects uint64 values with the high bit set,
// so they travel as decimal strings into NUMERIC(20,0) columns.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric column %q: %w", s, err)
	}
	return v, nil
}

func (t *pgTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) GetAuction(ctx context.Context, id uint64) (*core.Auction, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT authority, minimum_bid, end_time, bidder_count, phase, highest_bid, vault, metadata, created_at
		FROM auctions WHERE id = $1`+t.lockClause(), u64(id))

	var (
		a           = core.Auction{ID: id}
		minimumBid  string
		highest     []byte
		metadataRaw []byte
		phase       string
		vault       string
		authority   string
	)
	err := row.Scan(&authority, &minimumBid, &a.EndTime, &a.BidderCount, &phase, &highest, &vault, &metadataRaw, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", core.ErrAuctionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning auction: %w", err)
	}

	minimum, err := parseU64(minimumBid)
	if err != nil {
		return nil, err
	}
	a.MinimumBid = core.Amount(minimum)
	a.Authority = core.Identity(authority)
	a.Phase = core.Phase(phase)
	a.Vault = core.Account(vault)
	if a.HighestBid, err = core.HandleFromBytes(highest); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadataRaw, &a.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &a, nil
}

func (t *pgTx) InsertAuction(ctx context.Context, a *core.Auction) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO auctions
			(id, authority, minimum_bid, end_time, bidder_count, phase, highest_bid, vault, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		u64(a.ID), string(a.Authority), u64(uint64(a.MinimumBid)), a.EndTime, a.BidderCount,
		string(a.Phase), a.HighestBid.Bytes(), string(a.Vault), metadata, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", core.ErrAuctionExists, a.ID)
	}
	return nil
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *core.Auction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE auctions SET bidder_count = $2, phase = $3, highest_bid = $4
		WHERE id = $1`,
		u64(a.ID), a.BidderCount, string(a.Phase), a.HighestBid.Bytes())
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", core.ErrAuctionNotFound, a.ID)
	}
	return nil
}

const bidColumns = `bidder, deposit, amount_handle, winner_handle, checked, withdrawn, placed_at`

func scanBid(auctionID uint64, scan func(dest ...any) error) (*core.Bid, error) {
	var (
		b       = core.Bid{AuctionID: auctionID}
		bidder  string
		deposit string
		amount  []byte
		winner  []byte
	)
	if err := scan(&bidder, &deposit, &amount, &winner, &b.Checked, &b.Withdrawn, &b.PlacedAt); err != nil {
		return nil, err
	}

	d, err := parseU64(deposit)
	if err != nil {
		return nil, err
	}
	b.Bidder = core.Identity(bidder)
	b.Deposit = core.Amount(d)
	if b.AmountHandle, err = core.HandleFromBytes(amount); err != nil {
		return nil, err
	}
	if b.WinnerHandle, err = core.HandleFromBytes(winner); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *pgTx) GetBid(ctx context.Context, auctionID uint64, bidder core.Identity) (*core.Bid, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE bid_key = $1`+t.lockClause(),
		core.ComputeBidKey(auctionID, bidder))

	b, err := scanBid(auctionID, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: auction %d bidder %s", core.ErrBidNotFound, auctionID, bidder)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bid: %w", err)
	}
	return b, nil
}

func (t *pgTx) PutBid(ctx context.Context, b *core.Bid) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bids (bid_key, auction_id, `+bidColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (bid_key) DO UPDATE SET
			deposit = EXCLUDED.deposit,
			amount_handle = EXCLUDED.amount_handle,
			winner_handle = EXCLUDED.winner_handle,
			checked = EXCLUDED.checked,
			withdrawn = EXCLUDED.withdrawn`,
		core.ComputeBidKey(b.AuctionID, b.Bidder), u64(b.AuctionID), string(b.Bidder), u64(uint64(b.Deposit)),
		b.AmountHandle.Bytes(), b.WinnerHandle.Bytes(), b.Checked, b.Withdrawn, b.PlacedAt)
	if err != nil {
		return fmt.Errorf("saving bid: %w", err)
	}
	return nil
}

func (t *pgTx) ListBids(ctx context.Context, auctionID uint64) ([]*core.Bid, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY placed_at, bidder`,
		u64(auctionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*core.Bid
	for rows.Next() {
		b, err := scanBid(auctionID, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (t *pgTx) InsertComment(ctx context.Context, c *core.Comment) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO comments (auction_id, seq, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auction_id, seq) DO NOTHING`,
		u64(c.AuctionID), u64(c.Sequence), string(c.Author), c.Text, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: auction %d sequence %d", core.ErrDuplicateComment, c.AuctionID, c.Sequence)
	}
	return nil
}

func (t *pgTx) ListComments(ctx context.Context, auctionID uint64) ([]*core.Comment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, author, body, created_at FROM comments
		WHERE auction_id = $1 ORDER BY seq`, u64(auctionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*core.Comment
	for rows.Next() {
		var (
			c      = core.Comment{AuctionID: auctionID}
			seq    string
			author string
		)
		if err := rows.Scan(&seq, &author, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if c.Sequence, err = parseU64(seq); err != nil {
			return nil, err
		}
		c.Author = core.Identity(author)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func (t *pgTx) Balance(ctx context.Context, account core.Account) (core.Amount, error) {
	var amount string
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = $1`, string(account)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	v, err := parseU64(amount)
	return core.Amount(v), err
}

func (t *pgTx) Credit(ctx context.Context, account core.Account, amount core.Amount) error {
	current, err := t.Balance(ctx, account)
	if err != nil {
		return err
	}
	if amount > ^core.Amount(0)-current {
		return fmt.Errorf("%w: account %s", ErrBalanceOverflow, account)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO balances (account, amount) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		string(account), u64(uint64(amount)))
	if err != nil {
		return fmt.Errorf("crediting balance: %w", err)
	}
	return nil
}

func (t *pgTx) Transfer(ctx context.Context, from, to core.Account, amount core.Amount) error {
	if amount == 0 || from == to {
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE balances SET amount = amount - $2
		WHERE account = $1 AND amount >= $2`,
		string(from), u64(uint64(amount)))
	if err != nil {
		return fmt.Errorf("debiting balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s cannot cover %s", core.ErrInsufficientFunds, from, amount)
	}

	return t.Credit(ctx, to, amount)
}
