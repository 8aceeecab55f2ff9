package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidUser  = errors.New("user requires phone and wallet")
)

// User links a registered phone number to a wallet address.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Phone     string    `bun:"phone,notnull,unique" json:"phone"`
	Wallet    string    `bun:"wallet,notnull,unique" json:"wallet"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}

// Directory reads and writes users in Postgres.
type Directory struct {
	db bun.IDB
}

func New(db bun.IDB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Migrate(ctx context.Context) error {
	if _, err := d.db.NewCreateTable().Model((*User)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// ByPhone finds a user by phone number. Numbers stored without the leading
// plus of a +1 prefix are matched too.
func (d *Directory) ByPhone(ctx context.Context, phone string) (*User, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, ErrUserNotFound
	}

	candidates := []string{normalized}
	if strings.HasPrefix(normalized, "+1") {
		candidates = append(candidates, normalized[1:])
	}

	for _, candidate := range candidates {
		u, err := d.findOne(ctx, "phone", candidate)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		return u, err
	}
	return nil, ErrUserNotFound
}

func (d *Directory) ByWallet(ctx context.Context, wallet string) (*User, error) {
	normalized := NormalizeWallet(wallet)
	if normalized == "" {
		return nil, ErrUserNotFound
	}
	return d.findOne(ctx, "wallet", normalized)
}

// Upsert registers phone with wallet, replacing the wallet of an existing phone.
func (d *Directory) Upsert(ctx context.Context, phone, wallet string) (*User, error) {
	u := &User{
		Phone:     NormalizePhone(phone),
		Wallet:    NormalizeWallet(wallet),
		UpdatedAt: time.Now().UTC(),
	}
	if u.Phone == "" || u.Wallet == "" {
		return nil, ErrInvalidUser
	}
	u.CreatedAt = u.UpdatedAt

	_, err := d.db.NewInsert().
		Model(u).
		On("CONFLICT (phone) DO UPDATE").
		Set("wallet = EXCLUDED.wallet").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (d *Directory) findOne(ctx context.Context, column, value string) (*User, error) {
	u := new(User)
	err := d.db.NewSelect().Model(u).Where("? = ?", bun.Ident(column), value).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}
	return u, nil
}

// NormalizePhone strips spaces, dashes and parentheses and adds a leading
// plus to numbers that start with a digit.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	out := b.String()
	if out == "" || out == "+" {
		return ""
	}
	if out[0] != '+' {
		out = "+" + out
	}
	return out
}

func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
