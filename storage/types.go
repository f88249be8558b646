package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wifip2p/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const settingDeviceName = "device_name"

// GroupEventFilter narrows GetGroupEvents query results.
type GroupEventFilter struct {
	Kind          models.GroupEventKind
	PeerAddress   string
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
	Offset        int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateGroupEventKind(kind models.GroupEventKind) error {
	switch kind {
	case models.GroupEventFormed, models.GroupEventRemoved, models.GroupEventFailed:
		return nil
	default:
		return fmt.Errorf("invalid group event kind %q", kind)
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
