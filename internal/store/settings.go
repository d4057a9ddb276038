package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingSchedulerPID holds the PID of the live beat process.
const SettingSchedulerPID = "scheduler_pid"

// ErrSettingNotFound is returned by GetSetting for absent keys.
var ErrSettingNotFound = errors.New("setting not found")

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", persistence("get setting "+key, err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixNano())
	if err != nil {
		return persistence("set setting "+key, err)
	}
	return nil
}

// ClaimSetting stores value under key only if the key is absent.
// It reports whether this call created the row.
func (s *Store) ClaimSetting(ctx context.Context, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, s.now().UnixNano())
	if err != nil {
		return false, persistence("claim setting "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("claim setting "+key, err)
	}
	return n == 1, nil
}

// DeleteSetting removes key. Removing an absent key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM system_settings WHERE key = ?`, key); err != nil {
		return persistence("delete setting "+key, err)
	}
	return nil
}

// DeleteSettingIf removes key only while it still holds value and reports
// whether it did.
func (s *Store) DeleteSettingIf(ctx context.Context, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM system_settings WHERE key = ? AND value = ?`, key, value)
	if err != nil {
		return false, persistence("delete setting "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("delete setting "+key, err)
	}
	return n == 1, nil
}
