package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SaveDeviceName persists the device name last applied through the machine.
func (s *Store) SaveDeviceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("device name is required")
	}
	return s.putSetting(settingDeviceName, name)
}

// DeviceName returns the persisted device name or ErrNotFound.
func (s *Store) DeviceName() (string, error) {
	return s.getSetting(settingDeviceName)
}

func (s *Store) putSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) getSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}
