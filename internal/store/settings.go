package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/blowout/internal/gesture"
)

// Setting keys.
const (
	KeyTuning    = "tuning"
	KeySignature = "signature"
)

// Setting is a single stored key/value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsRepository reads and writes the settings table.
type SettingsRepository struct {
	db *sql.DB
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// SettingsUpdate changes several settings at once. Nil fields are left
// untouched.
type SettingsUpdate struct {
	Tuning    *gesture.Tuning
	Signature *string
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	return set(r.db, key, value)
}

func set(db execer, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// Delete removes key.
func (r *SettingsRepository) Delete(key string) error {
	return del(r.db, key)
}

func del(db execer, key string) error {
	result, err := db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every setting ordered by key.
func (r *SettingsRepository) List() ([]Setting, error) {
	rows, err := r.db.Query(`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// Tuning returns the stored blow tuning, falling back to
// gesture.DefaultTuning when none was saved. Missing fields take their
// defaults.
func (r *SettingsRepository) Tuning() (gesture.Tuning, error) {
	raw, err := r.Get(KeyTuning)
	if errors.Is(err, ErrNotFound) {
		return gesture.DefaultTuning(), nil
	}
	if err != nil {
		return gesture.Tuning{}, err
	}

	var t gesture.Tuning
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return gesture.Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}
	return t.Normalize(), nil
}

// SetTuning stores the blow tuning after normalizing it.
func (r *SettingsRepository) SetTuning(t gesture.Tuning) error {
	return setTuning(r.db, t)
}

func setTuning(db execer, t gesture.Tuning) error {
	data, err := json.Marshal(t.Normalize())
	if err != nil {
		return fmt.Errorf("encode tuning: %w", err)
	}
	return set(db, KeyTuning, string(data))
}

// Signature returns the stored greeting signature, or "" if none.
func (r *SettingsRepository) Signature() (string, error) {
	sig, err := r.Get(KeySignature)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return sig, err
}

// SetSignature stores the greeting signature. An empty signature removes
// it.
func (r *SettingsRepository) SetSignature(sig string) error {
	return setSignature(r.db, sig)
}

func setSignature(db execer, sig string) error {
	if sig == "" {
		if err := del(db, KeySignature); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	return set(db, KeySignature, sig)
}

// Update applies every non-nil field of u in one transaction. Either all
// of them are stored or none is.
func (r *SettingsRepository) Update(u SettingsUpdate) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if u.Signature != nil {
		if err := setSignature(tx, *u.Signature); err != nil {
			return fmt.Errorf("save signature: %w", err)
		}
	}
	if u.Tuning != nil {
		if err := setTuning(tx, *u.Tuning); err != nil {
			return fmt.Errorf("save tuning: %w", err)
		}
	}
	return tx.Commit()
}
