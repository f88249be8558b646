package storage

import (
	"fmt"

	"wifip2p/models"
)

// ReplacePersistentGroups swaps the mirrored persistent group list for groups
// in one transaction. Client order is preserved.
func (s *Store) ReplacePersistentGroups(groups []models.PersistentGroup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin persistent group transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM persistent_groups`); err != nil {
		return fmt.Errorf("clear persistent groups: %w", err)
	}

	now := nowUnixMilli()
	for _, group := range groups {
		if group.NetworkID < 0 {
			return fmt.Errorf("invalid persistent network id %d", group.NetworkID)
		}
		if _, err := tx.Exec(
			`INSERT INTO persistent_groups (
				network_id,
				network_name,
				owner_address,
				is_owner,
				updated_at
			) VALUES (?, ?, ?, ?, ?)`,
			group.NetworkID,
			group.NetworkName,
			group.OwnerAddress,
			boolToInt(group.IsOwner),
			now,
		); err != nil {
			return fmt.Errorf("insert persistent group %d: %w", group.NetworkID, err)
		}
		for i, client := range group.Clients {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO group_clients (network_id, client_address, position) VALUES (?, ?, ?)`,
				group.NetworkID,
				client,
				i,
			); err != nil {
				return fmt.Errorf("insert client %q of group %d: %w", client, group.NetworkID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persistent group transaction: %w", err)
	}
	return nil
}

// ListPersistentGroups returns the mirrored persistent groups ordered by network id.
func (s *Store) ListPersistentGroups() ([]models.PersistentGroup, error) {
	rows, err := s.db.Query(`SELECT
		network_id,
		network_name,
		owner_address,
		is_owner
	FROM persistent_groups
	ORDER BY network_id`)
	if err != nil {
		return nil, fmt.Errorf("list persistent groups: %w", err)
	}
	defer rows.Close()

	groups := make([]models.PersistentGroup, 0)
	index := make(map[int]int)
	for rows.Next() {
		group, err := scanPersistentGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persistent group row: %w", err)
		}
		index[group.NetworkID] = len(groups)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persistent groups: %w", err)
	}

	clientRows, err := s.db.Query(`SELECT network_id, client_address FROM group_clients ORDER BY network_id, position`)
	if err != nil {
		return nil, fmt.Errorf("list group clients: %w", err)
	}
	defer clientRows.Close()

	for clientRows.Next() {
		var (
			netID   int
			address string
		)
		if err := clientRows.Scan(&netID, &address); err != nil {
			return nil, fmt.Errorf("scan group client row: %w", err)
		}
		if i, ok := index[netID]; ok {
			groups[i].Clients = append(groups[i].Clients, address)
		}
	}
	if err := clientRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group clients: %w", err)
	}

	return groups, nil
}

// GetPersistentGroup returns one mirrored group by network id.
func (s *Store) GetPersistentGroup(netID int) (models.PersistentGroup, error) {
	groups, err := s.ListPersistentGroups()
	if err != nil {
		return models.PersistentGroup{}, err
	}
	for _, group := range groups {
		if group.NetworkID == netID {
			return group, nil
		}
	}
	return models.PersistentGroup{}, ErrNotFound
}

// DeletePersistentGroup removes one mirrored group and its client list.
func (s *Store) DeletePersistentGroup(netID int) error {
	result, err := s.db.Exec(`DELETE FROM persistent_groups WHERE network_id = ?`, netID)
	if err != nil {
		return fmt.Errorf("delete persistent group %d: %w", netID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read deleted persistent group rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPersistentGroup(row scanner) (models.PersistentGroup, error) {
	var (
		group   models.PersistentGroup
		isOwner int
	)
	if err := row.Scan(
		&group.NetworkID,
		&group.NetworkName,
		&group.OwnerAddress,
		&isOwner,
	); err != nil {
		return models.PersistentGroup{}, err
	}
	group.IsOwner = isOwner != 0
	return group, nil
}
