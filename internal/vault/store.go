// Package vault is the local credential store. Cipher bodies are sealed at
// rest and only readable while the vault is unlocked.
package vault

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// RepromptWindow is how long a confirmed master password reprompt stays
// valid for a cipher.
const RepromptWindow = 5 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ciphers (
	id        TEXT PRIMARY KEY,
	type      INTEGER NOT NULL,
	name      TEXT NOT NULL,
	favorite  INTEGER NOT NULL DEFAULT 0,
	reprompt  INTEGER NOT NULL DEFAULT 0,
	last_used INTEGER NOT NULL DEFAULT 0,
	revision  INTEGER NOT NULL DEFAULT 1,
	sealed    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ciphers_last_used ON ciphers(last_used DESC);
`

const (
	metaSalt      = "kdf_salt"
	metaMemory    = "kdf_memory"
	metaVerifier  = "verifier"
	metaCreatedAt = "created_at"
)

// Summary is the plaintext listing of a cipher.
type Summary struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Type     types.CipherType `json:"type"`
	Favorite bool             `json:"favorite"`
	LastUsed time.Time        `json:"last_used,omitempty"`
}

type Option func(*Store)

// WithKDFMemory sets the Argon2id memory cost used when a vault is created.
func WithKDFMemory(kib uint32) Option {
	return func(s *Store) { s.kdfMemory = kib }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists ciphers in SQLite and tracks the lock state.
type Store struct {
	db        *sql.DB
	path      string
	kdfMemory uint32
	now       func() time.Time

	mu        sync.RWMutex
	key       []byte
	confirmed map[string]time.Time
	draft     *types.CipherView
}

// Open opens (creating if needed) the vault database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, types.NewError(types.CodeValidation, "vault path cannot be empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("vault: create directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("vault: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("vault: set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vault: apply schema: %w", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		kdfMemory: DefaultKDFMemory,
		now:       time.Now,
		confirmed: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("vault opened", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	s.Lock()
	return s.db.Close()
}

func (s *Store) meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("vault: read meta %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) initialized(ctx context.Context) (bool, error) {
	_, ok, err := s.meta(ctx, metaVerifier)
	return ok, err
}

// Initialize creates the vault's key material. It fails if the vault was
// already initialized. The vault is left unlocked.
func (s *Store) Initialize(ctx context.Context, password string) error {
	if password == "" {
		return types.NewError(types.CodeValidation, "master password cannot be empty", nil)
	}
	ok, err := s.initialized(ctx)
	if err != nil {
		return err
	}
	if ok {
		return types.NewError(types.CodeValidation, "vault already initialized", nil)
	}

	salt, err := randomBytes(saltLen)
	if err != nil {
		return err
	}
	key := deriveKey(password, salt, s.kdfMemory)
	verifier, err := seal(key, []byte(verifierPlaintext), []byte(metaVerifier))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for k, v := range map[string]string{
		metaSalt:      base64.StdEncoding.EncodeToString(salt),
		metaMemory:    strconv.FormatUint(uint64(s.kdfMemory), 10),
		metaVerifier:  base64.StdEncoding.EncodeToString(verifier),
		metaCreatedAt: s.now().UTC().Format(time.RFC3339),
	} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, k, v); err != nil {
			return fmt.Errorf("vault: write meta %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: commit: %w", err)
	}

	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	slog.Info("vault initialized", "path", s.path)
	return nil
}

// Status reports LoggedOut for an uninitialized vault, otherwise Locked or
// Unlocked.
func (s *Store) Status(ctx context.Context) (types.AuthStatus, error) {
	ok, err := s.initialized(ctx)
	if err != nil {
		return types.AuthStatusLoggedOut, err
	}
	if !ok {
		return types.AuthStatusLoggedOut, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return types.AuthStatusLocked, nil
	}
	return types.AuthStatusUnlocked, nil
}

// Unlock derives the key from password and checks it against the verifier.
func (s *Store) Unlock(ctx context.Context, password string) error {
	key, err := s.checkPassword(ctx, password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

// checkPassword derives the key for password and verifies it.
func (s *Store) checkPassword(ctx context.Context, password string) ([]byte, error) {
	saltStr, ok, err := s.meta(ctx, metaSalt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewError(types.CodeNotFound, "vault not initialized", nil)
	}
	salt, err := base64.StdEncoding.DecodeString(saltStr)
	if err != nil {
		return nil, types.NewError(types.CodeInternal, "corrupt vault salt", err)
	}
	memory := DefaultKDFMemory
	if v, ok, err := s.meta(ctx, metaMemory); err != nil {
		return nil, err
	} else if ok {
		m, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, types.NewError(types.CodeInternal, "corrupt vault kdf parameters", err)
		}
		memory = uint32(m)
	}
	verStr, _, err := s.meta(ctx, metaVerifier)
	if err != nil {
		return nil, err
	}
	verifier, err := base64.StdEncoding.DecodeString(verStr)
	if err != nil {
		return nil, types.NewError(types.CodeInternal, "corrupt vault verifier", err)
	}

	key := deriveKey(password, salt, memory)
	if _, err := open(key, verifier, []byte(metaVerifier)); err != nil {
		return nil, types.NewError(types.CodeValidation, "invalid master password", nil)
	}
	return key, nil
}

// Lock drops the key along with any reprompt confirmations and drafts.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
	s.confirmed = make(map[string]time.Time)
	s.draft = nil
}

func (s *Store) unlockedKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, types.NewError(types.CodeLocked, "vault is locked", nil)
	}
	return s.key, nil
}

// Add seals and stores cipher, assigning an id when it has none.
func (s *Store) Add(ctx context.Context, cipher types.CipherView) (string, error) {
	key, err := s.unlockedKey()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cipher.Name) == "" {
		return "", types.NewError(types.CodeValidation, "cipher name is required", nil)
	}
	if cipher.ID == "" {
		cipher.ID = uuid.NewString()
	}
	body, err := json.Marshal(cipher)
	if err != nil {
		return "", fmt.Errorf("vault: marshal cipher: %w", err)
	}
	sealed, err := seal(key, body, []byte(cipher.ID))
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ciphers(id, type, name, favorite, reprompt, last_used, sealed)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, name = excluded.name, favorite = excluded.favorite,
			reprompt = excluded.reprompt, sealed = excluded.sealed, revision = revision + 1`,
		cipher.ID, int(cipher.Type), cipher.Name, cipher.Favorite, int(cipher.Reprompt), millis(cipher.LastUsed), sealed)
	if err != nil {
		return "", fmt.Errorf("vault: insert cipher: %w", err)
	}
	return cipher.ID, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ciphers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("vault: delete cipher: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.CodeNotFound, "cipher not found", nil)
	}
	return nil
}

// List returns the plaintext summaries, most recently used first. It works
// while locked.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, favorite, last_used FROM ciphers
		ORDER BY last_used DESC, name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("vault: list ciphers: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			typ      int
			lastUsed int64
		)
		if err := rows.Scan(&sum.ID, &typ, &sum.Name, &sum.Favorite, &lastUsed); err != nil {
			return nil, fmt.Errorf("vault: scan cipher: %w", err)
		}
		sum.Type = types.CipherType(typ)
		sum.LastUsed = fromMillis(lastUsed)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get decrypts one cipher.
func (s *Store) Get(ctx context.Context, id string) (types.CipherView, error) {
	key, err := s.unlockedKey()
	if err != nil {
		return types.CipherView{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, last_used, sealed FROM ciphers WHERE id = ?`, id)
	cipher, err := scanSealed(key, row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CipherView{}, types.NewError(types.CodeNotFound, "cipher not found", nil)
	}
	return cipher, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSealed(key []byte, row scanner) (types.CipherView, error) {
	var (
		id       string
		lastUsed int64
		sealed   []byte
	)
	if err := row.Scan(&id, &lastUsed, &sealed); err != nil {
		return types.CipherView{}, err
	}
	body, err := open(key, sealed, []byte(id))
	if err != nil {
		return types.CipherView{}, types.NewError(types.CodeInternal, "unseal cipher "+id, err)
	}
	var cipher types.CipherView
	if err := json.Unmarshal(body, &cipher); err != nil {
		return types.CipherView{}, types.NewError(types.CodeInternal, "decode cipher "+id, err)
	}
	cipher.ID = id
	cipher.LastUsed = fromMillis(lastUsed)
	return cipher, nil
}

// AllDecryptedForURL returns the logins saved for pageURL's domain plus every
// cipher of the included types, most recently used first, then by name.
func (s *Store) AllDecryptedForURL(ctx context.Context, pageURL string, includeTypes []types.CipherType) ([]types.CipherView, error) {
	key, err := s.unlockedKey()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, last_used, sealed FROM ciphers
		ORDER BY last_used DESC, name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("vault: query ciphers: %w", err)
	}
	defer rows.Close()

	var out []types.CipherView
	for rows.Next() {
		cipher, err := scanSealed(key, rows)
		if err != nil {
			return nil, err
		}
		switch {
		case cipher.Type == types.CipherTypeLogin:
			if cipher.Login != nil && matchesURL(cipher.Login.URIs, pageURL) {
				out = append(out, cipher)
			}
		case slices.Contains(includeTypes, cipher.Type):
			out = append(out, cipher)
		}
	}
	return out, rows.Err()
}

// MarkUsed records that a cipher was just filled.
func (s *Store) MarkUsed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ciphers SET last_used = ? WHERE id = ?`, millis(s.now()), id)
	if err != nil {
		return fmt.Errorf("vault: mark used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.CodeNotFound, "cipher not found", nil)
	}
	return nil
}

// SetAddEditCipherInfo stages a draft for the add/edit popout.
func (s *Store) SetAddEditCipherInfo(_ context.Context, cipher types.CipherView) error {
	if _, err := s.unlockedKey(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := cipher
	s.draft = &draft
	return nil
}

// AddEditCipherInfo returns and clears the staged draft.
func (s *Store) AddEditCipherInfo() (types.CipherView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return types.CipherView{}, false
	}
	d := *s.draft
	s.draft = nil
	return d, true
}

// RepromptRequired reports whether filling cipher needs a fresh master
// password confirmation.
func (s *Store) RepromptRequired(cipher types.CipherView) bool {
	if cipher.Reprompt != types.RepromptPassword {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.confirmed[cipher.ID]
	return !ok || !s.now().Before(until)
}

// ConfirmReprompt checks password and opens the reprompt window for id.
func (s *Store) ConfirmReprompt(ctx context.Context, id, password string) error {
	if _, err := s.unlockedKey(); err != nil {
		return err
	}
	if _, err := s.checkPassword(ctx, password); err != nil {
		return err
	}
	s.mu.Lock()
	s.confirmed[id] = s.now().Add(RepromptWindow)
	s.mu.Unlock()
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
