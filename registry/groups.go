package registry

import (
	"sort"

	"wifip2p/models"
)

// GroupRegistry holds persistent group records and the active group.
// Like PeerRegistry it belongs to the state machine goroutine.
type GroupRegistry struct {
	records map[int]*models.PersistentGroup
	active  *models.Group
}

func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{records: make(map[int]*models.PersistentGroup)}
}

// Add inserts or replaces a persistent record. Negative ids are ignored.
func (g *GroupRegistry) Add(rec models.PersistentGroup) bool {
	if rec.NetworkID < 0 {
		return false
	}
	stored := rec.Clone()
	stored.OwnerAddress = models.NormalizeAddress(stored.OwnerAddress)
	g.records[rec.NetworkID] = &stored
	return true
}

func (g *GroupRegistry) Remove(netID int) bool {
	if _, ok := g.records[netID]; !ok {
		return false
	}
	delete(g.records, netID)
	return true
}

func (g *GroupRegistry) Get(netID int) (models.PersistentGroup, bool) {
	rec, ok := g.records[netID]
	if !ok {
		return models.PersistentGroup{}, false
	}
	return rec.Clone(), true
}

func (g *GroupRegistry) Contains(netID int) bool {
	_, ok := g.records[netID]
	return ok
}

func (g *GroupRegistry) Len() int {
	return len(g.records)
}

// NetworkID returns the lowest network id of a record owned by owner, or -1.
func (g *GroupRegistry) NetworkID(owner string) int {
	owner = models.NormalizeAddress(owner)
	for _, rec := range g.sorted() {
		if rec.OwnerAddress == owner {
			return rec.NetworkID
		}
	}
	return -1
}

// NetworkIDFor matches both owner address and network name, or returns -1.
func (g *GroupRegistry) NetworkIDFor(owner, name string) int {
	owner = models.NormalizeAddress(owner)
	for _, rec := range g.sorted() {
		if rec.OwnerAddress == owner && rec.NetworkName == name {
			return rec.NetworkID
		}
	}
	return -1
}

// OwnerAddress returns the owner of netID or "" when unknown.
func (g *GroupRegistry) OwnerAddress(netID int) string {
	rec, ok := g.records[netID]
	if !ok {
		return ""
	}
	return rec.OwnerAddress
}

// NetworkIDForClient returns the first record listing addr as a client, or -1.
func (g *GroupRegistry) NetworkIDForClient(addr string) int {
	addr = models.NormalizeAddress(addr)
	for _, rec := range g.sorted() {
		for _, c := range rec.Clients {
			if models.NormalizeAddress(c) == addr {
				return rec.NetworkID
			}
		}
	}
	return -1
}

// AddClient appends addr to the client list of netID when not already present.
func (g *GroupRegistry) AddClient(netID int, addr string) bool {
	rec, ok := g.records[netID]
	if !ok {
		return false
	}
	addr = models.NormalizeAddress(addr)
	for _, c := range rec.Clients {
		if models.NormalizeAddress(c) == addr {
			return false
		}
	}
	rec.Clients = append(rec.Clients, addr)
	return true
}

// RemoveClient drops addr from netID's client list.
// It returns the remaining clients and whether addr was present.
func (g *GroupRegistry) RemoveClient(netID int, addr string) ([]string, bool) {
	rec, ok := g.records[netID]
	if !ok {
		return nil, false
	}
	addr = models.NormalizeAddress(addr)
	remaining := make([]string, 0, len(rec.Clients))
	found := false
	for _, c := range rec.Clients {
		if models.NormalizeAddress(c) == addr {
			found = true
			continue
		}
		remaining = append(remaining, c)
	}
	rec.Clients = remaining
	return append([]string(nil), remaining...), found
}

// Clear removes every record and reports whether any existed.
func (g *GroupRegistry) Clear() bool {
	changed := len(g.records) > 0
	g.records = make(map[int]*models.PersistentGroup)
	return changed
}

// Snapshot returns copies of every record ordered by network id.
func (g *GroupRegistry) Snapshot() []models.PersistentGroup {
	sorted := g.sorted()
	out := make([]models.PersistentGroup, 0, len(sorted))
	for _, rec := range sorted {
		out = append(out, rec.Clone())
	}
	return out
}

// ReconcileResult describes what Reconcile changed.
type ReconcileResult struct {
	// Purge lists driver network ids that are not persistent and must be removed.
	Purge []int

	Added   []int
	Changed bool
}

// Reconcile folds the driver's network list into the local records.
//
// The network currently in use is skipped. Records the driver reports as
// non persistent are returned for purging. Known records get their name and
// owner refreshed; unknown ones are added with ownership derived from the
// BSSID compared to self. With reload the local set is rebuilt from scratch.
func (g *GroupRegistry) Reconcile(networks []models.NetworkRecord, self string, reload bool) ReconcileResult {
	result := ReconcileResult{Changed: reload}
	if reload {
		g.records = make(map[int]*models.PersistentGroup)
	}
	self = models.NormalizeAddress(self)

	for _, n := range networks {
		if n.Current {
			continue
		}
		if !n.Persistent {
			if g.Remove(n.NetworkID) {
				result.Changed = true
			}
			result.Purge = append(result.Purge, n.NetworkID)
			result.Changed = true
			continue
		}

		owner := models.NormalizeAddress(n.BSSID)
		if rec, ok := g.records[n.NetworkID]; ok {
			if rec.NetworkName != n.SSID || rec.OwnerAddress != owner {
				rec.NetworkName = n.SSID
				rec.OwnerAddress = owner
				rec.IsOwner = owner != "" && owner == self
				result.Changed = true
			}
			continue
		}

		g.records[n.NetworkID] = &models.PersistentGroup{
			NetworkID:    n.NetworkID,
			NetworkName:  n.SSID,
			OwnerAddress: owner,
			IsOwner:      owner != "" && owner == self,
		}
		result.Added = append(result.Added, n.NetworkID)
		result.Changed = true
	}

	return result
}

// SetActive stores the formed group.
func (g *GroupRegistry) SetActive(group *models.Group) {
	g.active = group
}

// Active returns the formed group or nil. Callers mutate it in place.
func (g *GroupRegistry) Active() *models.Group {
	return g.active
}

func (g *GroupRegistry) ClearActive() {
	g.active = nil
}

func (g *GroupRegistry) sorted() []*models.PersistentGroup {
	out := make([]*models.PersistentGroup, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NetworkID < out[j].NetworkID
	})
	return out
}
