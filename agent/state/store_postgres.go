package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true" required:"true"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:crm_sessions,alias:cs"`

	ConversationID string    `bun:"conversation_id,pk"`
	SellerIdentity string    `bun:"seller_identity,notnull"`
	Payload        string    `bun:"payload,type:jsonb,notnull"`
	Version        int       `bun:"version,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// PostgresStore persists sessions in a single jsonb-backed table. Rows idle
// for longer than ttl read as missing and are overwritten on the next save.
type PostgresStore struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens the database; ttl <= 0 keeps sessions until deleted.
func NewPostgresStore(cfg PostgresConfig, ttl time.Duration) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return NewPostgresStoreWithDB(bun.NewDB(sqldb, pgdialect.New()), ttl), nil
}

func NewPostgresStoreWithDB(db *bun.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl, now: time.Now}
}

// EnsureSchema creates the sessions table when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, conversationID string) (*Session, error) {
	key := strings.TrimSpace(conversationID)
	if key == "" {
		return nil, ErrInvalidSession
	}

	var row sessionRow
	err := p.db.NewSelect().
		Model(&row).
		Where("conversation_id = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	if p.expired(row.UpdatedAt) {
		return nil, ErrStateNotFound
	}

	st, err := sessionFromRow(row)
	if err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return st, nil
}

func (p *PostgresStore) Save(ctx context.Context, st *Session) error {
	if err := prepareForSave(st); err != nil {
		return err
	}

	row, err := sessionToRow(st)
	if err != nil {
		return err
	}

	_, err = p.db.NewInsert().
		Model(&row).
		On("CONFLICT (conversation_id) DO UPDATE").
		Set("seller_identity = EXCLUDED.seller_identity").
		Set("payload = EXCLUDED.payload").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	key := strings.TrimSpace(conversationID)
	if key == "" {
		return ErrInvalidSession
	}
	if _, err := p.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("conversation_id = ?", key).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (p *PostgresStore) expired(updatedAt time.Time) bool {
	return p.ttl > 0 && !p.now().Before(updatedAt.Add(p.ttl))
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func sessionToRow(st *Session) (sessionRow, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return sessionRow{}, fmt.Errorf("marshal session state: %w", err)
	}
	return sessionRow{
		ConversationID: st.ConversationID,
		SellerIdentity: st.SellerIdentity,
		Payload:        string(payload),
		Version:        st.Version,
		CreatedAt:      st.CreatedAt.UTC(),
		UpdatedAt:      st.UpdatedAt.UTC(),
	}, nil
}

// sessionFromRow trusts the indexed seller column over the payload copy.
func sessionFromRow(row sessionRow) (*Session, error) {
	var st Session
	if err := json.Unmarshal([]byte(row.Payload), &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	st.ConversationID = row.ConversationID
	st.SellerIdentity = row.SellerIdentity
	st.Version = row.Version
	return &st, nil
}
