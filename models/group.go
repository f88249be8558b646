package models

const (
	// TemporaryNetID marks a group that is not stored as persistent.
	TemporaryNetID = -1
	// PersistentNetID asks the driver to pick or create a persistent record.
	PersistentNetID = -2
)

// Group is the currently formed P2P group.
type Group struct {
	NetworkName string       `json:"network_name"`
	Owner       PeerDevice   `json:"owner"`
	Interface   string       `json:"interface"`
	Clients     []PeerDevice `json:"clients"`
	NetworkID   int          `json:"network_id"`
	Passphrase  string       `json:"passphrase,omitempty"`
	Frequency   int          `json:"frequency,omitempty"`
	IsOwner     bool         `json:"is_owner"`
}

// Contains reports whether addr is the owner or a client of the group.
func (g *Group) Contains(addr string) bool {
	if g == nil {
		return false
	}
	addr = NormalizeAddress(addr)
	if NormalizeAddress(g.Owner.Address) == addr {
		return true
	}
	return g.ContainsClient(addr)
}

func (g *Group) ContainsClient(addr string) bool {
	if g == nil {
		return false
	}
	addr = NormalizeAddress(addr)
	for _, c := range g.Clients {
		if NormalizeAddress(c.Address) == addr {
			return true
		}
	}
	return false
}

// AddClient adds or replaces a client entry.
func (g *Group) AddClient(dev PeerDevice) {
	addr := NormalizeAddress(dev.Address)
	for i, c := range g.Clients {
		if NormalizeAddress(c.Address) == addr {
			g.Clients[i] = dev
			return
		}
	}
	g.Clients = append(g.Clients, dev)
}

// RemoveClient removes addr from the client list and reports whether it was present.
func (g *Group) RemoveClient(addr string) bool {
	addr = NormalizeAddress(addr)
	for i, c := range g.Clients {
		if NormalizeAddress(c.Address) == addr {
			g.Clients = append(g.Clients[:i], g.Clients[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to observers.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := *g
	out.Clients = append([]PeerDevice(nil), g.Clients...)
	return &out
}

// PersistentGroup is a stored group credential record.
type PersistentGroup struct {
	NetworkID    int      `json:"network_id"`
	NetworkName  string   `json:"network_name"`
	OwnerAddress string   `json:"owner_address"`
	IsOwner      bool     `json:"is_owner"`
	Clients      []string `json:"clients"`
}

// Clone returns a copy with its own client slice.
func (p PersistentGroup) Clone() PersistentGroup {
	p.Clients = append([]string(nil), p.Clients...)
	return p
}

// NetworkRecord is one network block as listed by the driver.
type NetworkRecord struct {
	NetworkID  int
	SSID       string
	BSSID      string
	Current    bool
	Persistent bool
}
