package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"wifip2p/models"
)

// SetGroupEventRetention configures the automatic history pruning horizon.
func (s *Store) SetGroupEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultGroupEventRetention
	}
	s.groupEventRetention = retention
}

// RecordGroupEvent inserts one group lifecycle record and applies retention pruning.
func (s *Store) RecordGroupEvent(event models.GroupEvent) error {
	if err := validateGroupEventKind(event.Kind); err != nil {
		return err
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	timestamp := event.At.UnixMilli()
	if event.At.IsZero() {
		timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO group_events (
			id,
			kind,
			network_name,
			network_id,
			interface,
			peer_address,
			is_owner,
			reason,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		string(event.Kind),
		nullString(event.NetworkName),
		event.NetworkID,
		nullString(event.Interface),
		nullString(event.PeerAddress),
		boolToInt(event.IsOwner),
		nullString(event.Reason),
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert group event %q: %w", event.ID, err)
	}

	if s.groupEventRetention > 0 {
		cutoff := time.Now().Add(-s.groupEventRetention).UnixMilli()
		if _, err := s.PruneGroupEvents(cutoff); err != nil {
			return fmt.Errorf("prune group events: %w", err)
		}
	}

	return nil
}

// GetGroupEvents returns recent group events, newest first, with optional filtering.
func (s *Store) GetGroupEvents(filter GroupEventFilter) ([]models.GroupEvent, error) {
	if filter.Kind != "" {
		if err := validateGroupEventKind(filter.Kind); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		kind,
		network_name,
		network_id,
		interface,
		peer_address,
		is_owner,
		reason,
		timestamp
	FROM group_events`)

	where := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.PeerAddress != "" {
		where = append(where, "peer_address = ?")
		args = append(args, filter.PeerAddress)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}
	if filter.ToTimestamp != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, *filter.ToTimestamp)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get group events: %w", err)
	}
	defer rows.Close()

	events := make([]models.GroupEvent, 0)
	for rows.Next() {
		event, err := scanGroupEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group events: %w", err)
	}

	return events, nil
}

// PruneGroupEvents removes group events older than cutoffTimestamp (unix ms).
func (s *Store) PruneGroupEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be positive")
	}

	result, err := s.db.Exec(`DELETE FROM group_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune group events before %d: %w", cutoffTimestamp, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read pruned group event rows: %w", err)
	}
	return affected, nil
}

func scanGroupEvent(row scanner) (models.GroupEvent, error) {
	var (
		event       models.GroupEvent
		kind        string
		networkName sql.NullString
		iface       sql.NullString
		peer        sql.NullString
		reason      sql.NullString
		isOwner     int
		timestamp   int64
	)
	if err := row.Scan(
		&event.ID,
		&kind,
		&networkName,
		&event.NetworkID,
		&iface,
		&peer,
		&isOwner,
		&reason,
		&timestamp,
	); err != nil {
		return models.GroupEvent{}, err
	}
	event.Kind = models.GroupEventKind(kind)
	event.NetworkName = networkName.String
	event.Interface = iface.String
	event.PeerAddress = peer.String
	event.Reason = reason.String
	event.IsOwner = isOwner != 0
	event.At = time.UnixMilli(timestamp).UTC()
	return event, nil
}
