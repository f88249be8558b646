package storage

import (
	"errors"
	"reflect"
	"testing"

	"wifip2p/models"
)

func TestReplacePersistentGroupsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	groups := []models.PersistentGroup{
		{
			NetworkID:    4,
			NetworkName:  "DIRECT-ab-living-room",
			OwnerAddress: "02:00:00:00:00:01",
			IsOwner:      true,
			Clients:      []string{"02:00:00:00:00:30", "02:00:00:00:00:20"},
		},
		{
			NetworkID:    1,
			NetworkName:  "DIRECT-cd-printer",
			OwnerAddress: "02:00:00:00:00:40",
		},
	}
	if err := store.ReplacePersistentGroups(groups); err != nil {
		t.Fatalf("ReplacePersistentGroups failed: %v", err)
	}

	got, err := store.ListPersistentGroups()
	if err != nil {
		t.Fatalf("ListPersistentGroups failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got))
	}
	if got[0].NetworkID != 1 || got[1].NetworkID != 4 {
		t.Fatalf("expected groups ordered by network id, got %d then %d", got[0].NetworkID, got[1].NetworkID)
	}
	if !got[1].IsOwner || got[0].IsOwner {
		t.Fatalf("unexpected owner flags: %+v", got)
	}
	if !reflect.DeepEqual(got[1].Clients, groups[0].Clients) {
		t.Fatalf("client order not preserved: got %v", got[1].Clients)
	}
	if len(got[0].Clients) != 0 {
		t.Fatalf("expected no clients for group 1, got %v", got[0].Clients)
	}
}

func TestReplacePersistentGroupsDropsMissingGroups(t *testing.T) {
	store := newTestStore(t)

	first := []models.PersistentGroup{
		{NetworkID: 0, NetworkName: "DIRECT-aa", Clients: []string{"02:00:00:00:00:20"}},
		{NetworkID: 2, NetworkName: "DIRECT-bb"},
	}
	if err := store.ReplacePersistentGroups(first); err != nil {
		t.Fatalf("first replace failed: %v", err)
	}
	if err := store.ReplacePersistentGroups(first[1:]); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}

	got, err := store.ListPersistentGroups()
	if err != nil {
		t.Fatalf("ListPersistentGroups failed: %v", err)
	}
	if len(got) != 1 || got[0].NetworkID != 2 {
		t.Fatalf("expected only group 2 to remain, got %+v", got)
	}

	var clients int
	if err := store.db.QueryRow("SELECT COUNT(1) FROM group_clients").Scan(&clients); err != nil {
		t.Fatalf("count clients: %v", err)
	}
	if clients != 0 {
		t.Fatalf("expected client rows to cascade, got %d", clients)
	}
}

func TestReplacePersistentGroupsRejectsTemporaryID(t *testing.T) {
	store := newTestStore(t)

	if err := store.ReplacePersistentGroups([]models.PersistentGroup{{NetworkID: 3, NetworkName: "DIRECT-keep"}}); err != nil {
		t.Fatalf("seed replace failed: %v", err)
	}
	err := store.ReplacePersistentGroups([]models.PersistentGroup{{NetworkID: models.TemporaryNetID, NetworkName: "DIRECT-tmp"}})
	if err == nil {
		t.Fatalf("expected temporary network id to be rejected")
	}

	got, err := store.ListPersistentGroups()
	if err != nil {
		t.Fatalf("ListPersistentGroups failed: %v", err)
	}
	if len(got) != 1 || got[0].NetworkID != 3 {
		t.Fatalf("failed replace should roll back, got %+v", got)
	}
}

func TestDeletePersistentGroup(t *testing.T) {
	store := newTestStore(t)

	if err := store.ReplacePersistentGroups([]models.PersistentGroup{
		{NetworkID: 5, NetworkName: "DIRECT-five", Clients: []string{"02:00:00:00:00:20"}},
	}); err != nil {
		t.Fatalf("ReplacePersistentGroups failed: %v", err)
	}

	group, err := store.GetPersistentGroup(5)
	if err != nil {
		t.Fatalf("GetPersistentGroup failed: %v", err)
	}
	if group.NetworkName != "DIRECT-five" {
		t.Fatalf("unexpected group: %+v", group)
	}

	if err := store.DeletePersistentGroup(5); err != nil {
		t.Fatalf("DeletePersistentGroup failed: %v", err)
	}
	if err := store.DeletePersistentGroup(5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := store.GetPersistentGroup(5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
