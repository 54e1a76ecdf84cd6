// Package postgres stores accounts in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/MrEthical07/posauth/account"
)

// poolIface is satisfied by *pgxpool.Pool and by pgxmock pools.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const columns = `id, username, email, password_hash, role, is_active, is_deleted,
	failed_login_attempts, lockout_expires_at, refresh_token_hash,
	reset_code, reset_code_exp, reset_token, reset_token_exp`

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store implements account.Store. Every Update is a single UPDATE statement,
// so a patch is applied atomically by the row lock.
type Store struct {
	pool poolIface
}

// New wraps an existing pool.
func New(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Open connects a pgx pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// FindByID loads the account row with the given id. A missing row is
// account.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*account.Account, error) {
	return s.findOne(ctx, "find by id", `SELECT `+columns+` FROM accounts WHERE id = $1`, id)
}

// FindByEmail loads an account by case-insensitive email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findOne(ctx, "find by email", `SELECT `+columns+` FROM accounts WHERE lower(email) = lower($1)`, email)
}

// FindByUsername loads an account by its exact username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.findOne(ctx, "find by username", `SELECT `+columns+` FROM accounts WHERE username = $1`, username)
}

// Update writes patch in a single UPDATE ... RETURNING statement, so every
// field in the patch commits together. An unmet IfFailedAttempts precondition
// returns account.ErrConflict.
func (s *Store) Update(ctx context.Context, id string, patch account.Patch) (*account.Account, error) {
	if patch.IsEmpty() {
		return s.FindByID(ctx, id)
	}
	return s.update(ctx, "id = $%d", id, patch)
}

// UpdateByEmail is Update keyed by case-insensitive email.
func (s *Store) UpdateByEmail(ctx context.Context, email string, patch account.Patch) (*account.Account, error) {
	if patch.IsEmpty() {
		return s.FindByEmail(ctx, email)
	}
	return s.update(ctx, "lower(email) = lower($%d)", email, patch)
}

// Create inserts a. An empty ID is replaced by a random UUID.
func (s *Store) Create(ctx context.Context, a *account.Account) (*account.Account, error) {
	if a == nil {
		return nil, oops.Code("INVALID_ACCOUNT").Errorf("postgres: nil account")
	}
	rec := a.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, role, is_active, is_deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Username, rec.Email, rec.PasswordHash, rec.Role, rec.IsActive, rec.IsDeleted,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, account.ErrDuplicate
		}
		return nil, oops.With("operation", "create account").Wrap(err)
	}
	return rec, nil
}

// SetActive flips the active flag. Deactivating also revokes the session.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET is_active = $2,
		refresh_token_hash = CASE WHEN $2 THEN refresh_token_hash ELSE NULL END,
		updated_at = now()
		WHERE id = $1`, id, active)
	if err != nil {
		return oops.With("operation", "set active").With("account_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

// ClearExpiredResetCredentials nulls each reset pair whose expiry is before
// now and returns the number of rows touched.
func (s *Store) ClearExpiredResetCredentials(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET
		reset_code      = CASE WHEN reset_code_exp < $1 THEN NULL ELSE reset_code END,
		reset_code_exp  = CASE WHEN reset_code_exp < $1 THEN NULL ELSE reset_code_exp END,
		reset_token     = CASE WHEN reset_token_exp < $1 THEN NULL ELSE reset_token END,
		reset_token_exp = CASE WHEN reset_token_exp < $1 THEN NULL ELSE reset_token_exp END,
		updated_at      = now()
		WHERE reset_code_exp < $1 OR reset_token_exp < $1`, now)
	if err != nil {
		return 0, oops.With("operation", "clear expired reset credentials").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) findOne(ctx context.Context, op, query string, arg any) (*account.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, oops.With("operation", op).Wrap(err)
	}
	return a, nil
}

// update runs one UPDATE ... RETURNING. keyClause selects the row and takes
// the key as its single placeholder.
func (s *Store) update(ctx context.Context, keyClause, key string, patch account.Patch) (*account.Account, error) {
	sets, args := setClauses(patch)
	args = append(args, key)
	where := fmt.Sprintf(keyClause, len(args))
	if patch.IfFailedAttempts != nil {
		args = append(args, *patch.IfFailedAttempts)
		where += fmt.Sprintf(" AND failed_login_attempts = $%d", len(args))
	}

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE ` + where + ` RETURNING ` + columns
	a, err := scanAccount(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("operation", "update account").Wrap(err)
	}
	if patch.IfFailedAttempts == nil {
		return nil, account.ErrNotFound
	}

	// No row matched: either the key is unknown or the precondition failed.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE `+fmt.Sprintf(keyClause, 1)+`)`, key).Scan(&exists); err != nil {
		return nil, oops.With("operation", "check account exists").Wrap(err)
	}
	if exists {
		return nil, account.ErrConflict
	}
	return nil, account.ErrNotFound
}

func setClauses(p account.Patch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.PasswordHash != nil {
		add("password_hash", *p.PasswordHash)
	}
	if p.FailedLoginAttempts != nil {
		add("failed_login_attempts", *p.FailedLoginAttempts)
	}
	if p.LockoutExpiresAt.IsSet() {
		add("lockout_expires_at", nullable(p.LockoutExpiresAt))
	}
	if p.RefreshTokenHash.IsSet() {
		add("refresh_token_hash", nullable(p.RefreshTokenHash))
	}
	if p.ResetCode.IsSet() {
		add("reset_code", nullable(p.ResetCode))
	}
	if p.ResetCodeExp.IsSet() {
		add("reset_code_exp", nullable(p.ResetCodeExp))
	}
	if p.ResetToken.IsSet() {
		add("reset_token", nullable(p.ResetToken))
	}
	if p.ResetTokenExp.IsSet() {
		add("reset_token_exp", nullable(p.ResetTokenExp))
	}
	return sets, args
}

// nullable turns a patch slot into a driver argument; nil writes NULL.
func nullable[T any](n account.Nullable[T]) any {
	if v := n.Value(); v != nil {
		return *v
	}
	return nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.IsActive, &a.IsDeleted,
		&a.FailedLoginAttempts, &a.LockoutExpiresAt, &a.RefreshTokenHash,
		&a.ResetCode, &a.ResetCodeExp, &a.ResetToken, &a.ResetTokenExp,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
