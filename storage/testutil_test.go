package storage

import (
	"testing"
	"time"

	"wifip2p/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustRecordEvent(t *testing.T, store *Store, kind models.GroupEventKind, peer string, at time.Time) models.GroupEvent {
	t.Helper()

	event := models.GroupEvent{
		Kind:        kind,
		NetworkName: "DIRECT-xy-test",
		NetworkID:   models.TemporaryNetID,
		Interface:   "p2p-wlan0-0",
		PeerAddress: peer,
		At:          at,
	}
	if err := store.RecordGroupEvent(event); err != nil {
		t.Fatalf("record %s event for %q: %v", kind, peer, err)
	}
	return event
}
