package registry

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"wifip2p/models"
)

// DefaultDepartedCacheSize bounds the recently departed device cache.
const DefaultDepartedCacheSize = 64

// PeerRegistry tracks discovered devices by address.
//
// It is owned by the state machine goroutine and is not safe for concurrent use.
// The departed cache is consulted when a station associates with our group
// shortly after its peer entry was dropped.
type PeerRegistry struct {
	peers      map[string]*models.PeerDevice
	quarantine map[string]struct{}
	departed   *lru.Cache[string, models.PeerDevice]
}

// NewPeerRegistry creates an empty registry. size <= 0 uses DefaultDepartedCacheSize.
func NewPeerRegistry(size int) *PeerRegistry {
	if size <= 0 {
		size = DefaultDepartedCacheSize
	}
	departed, err := lru.New[string, models.PeerDevice](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &PeerRegistry{
		peers:      make(map[string]*models.PeerDevice),
		quarantine: make(map[string]struct{}),
		departed:   departed,
	}
}

// Update merges a sighting into the registry and reports whether the device is new.
// New devices start AVAILABLE; the status of known devices is preserved.
func (r *PeerRegistry) Update(dev models.PeerDevice) bool {
	addr := models.NormalizeAddress(dev.Address)
	if addr == "" {
		return false
	}
	if existing, ok := r.peers[addr]; ok {
		existing.Merge(dev)
		return false
	}

	stored := dev
	stored.Address = addr
	stored.Status = models.StatusAvailable
	r.peers[addr] = &stored
	return true
}

// Get returns a copy of the device stored for addr.
func (r *PeerRegistry) Get(addr string) (models.PeerDevice, bool) {
	dev, ok := r.peers[models.NormalizeAddress(addr)]
	if !ok {
		return models.PeerDevice{}, false
	}
	return *dev, true
}

func (r *PeerRegistry) Contains(addr string) bool {
	_, ok := r.peers[models.NormalizeAddress(addr)]
	return ok
}

func (r *PeerRegistry) Len() int {
	return len(r.peers)
}

// Remove drops addr and remembers it in the departed cache.
func (r *PeerRegistry) Remove(addr string) bool {
	addr = models.NormalizeAddress(addr)
	dev, ok := r.peers[addr]
	if !ok {
		return false
	}
	r.departed.Add(addr, *dev)
	delete(r.peers, addr)
	delete(r.quarantine, addr)
	return true
}

// UpdateStatus sets the status of a known device.
func (r *PeerRegistry) UpdateStatus(addr string, status models.DeviceStatus) bool {
	dev, ok := r.peers[models.NormalizeAddress(addr)]
	if !ok {
		return false
	}
	dev.Status = status
	return true
}

func (r *PeerRegistry) UpdateGroupCapability(addr string, capability int) bool {
	dev, ok := r.peers[models.NormalizeAddress(addr)]
	if !ok {
		return false
	}
	dev.GroupCapability = capability
	return true
}

func (r *PeerRegistry) UpdateInterfaceAddress(addr, ifaceAddr string) bool {
	dev, ok := r.peers[models.NormalizeAddress(addr)]
	if !ok {
		return false
	}
	dev.InterfaceAddress = models.NormalizeAddress(ifaceAddr)
	return true
}

// UpdateIPAddress records the IP of a device, matching by device or interface address.
func (r *PeerRegistry) UpdateIPAddress(addr, ip string) bool {
	addr = models.NormalizeAddress(addr)
	if dev, ok := r.peers[addr]; ok {
		if dev.IPAddress == ip {
			return false
		}
		dev.IPAddress = ip
		return true
	}
	for _, dev := range r.peers {
		if dev.InterfaceAddress == addr {
			if dev.IPAddress == ip {
				return false
			}
			dev.IPAddress = ip
			return true
		}
	}
	return false
}

// ClearInterfaceAddresses forgets every interface and IP address.
func (r *PeerRegistry) ClearInterfaceAddresses() {
	for _, dev := range r.peers {
		dev.InterfaceAddress = ""
		dev.IPAddress = ""
	}
}

// Clear removes every device and reports whether anything was removed.
func (r *PeerRegistry) Clear() bool {
	changed := len(r.peers) > 0
	r.peers = make(map[string]*models.PeerDevice)
	r.quarantine = make(map[string]struct{})
	return changed
}

// Snapshot returns copies of every device sorted by address.
func (r *PeerRegistry) Snapshot() []models.PeerDevice {
	out := make([]models.PeerDevice, 0, len(r.peers))
	for _, dev := range r.peers {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

// Quarantine marks a known device as lost while a connection involving it is in progress.
func (r *PeerRegistry) Quarantine(addr string) bool {
	addr = models.NormalizeAddress(addr)
	if _, ok := r.peers[addr]; !ok {
		return false
	}
	r.quarantine[addr] = struct{}{}
	return true
}

func (r *PeerRegistry) IsQuarantined(addr string) bool {
	_, ok := r.quarantine[models.NormalizeAddress(addr)]
	return ok
}

// QuarantineLen returns the number of quarantined devices.
func (r *PeerRegistry) QuarantineLen() int {
	return len(r.quarantine)
}

// RemoveQuarantined removes every quarantined device and reports whether any was present.
// The quarantine set itself is left empty.
func (r *PeerRegistry) RemoveQuarantined() bool {
	changed := false
	for addr := range r.quarantine {
		if r.Remove(addr) {
			changed = true
		}
	}
	r.quarantine = make(map[string]struct{})
	return changed
}

func (r *PeerRegistry) ClearQuarantine() {
	r.quarantine = make(map[string]struct{})
}

// Remember stores dev in the departed cache without touching the live set.
func (r *PeerRegistry) Remember(dev models.PeerDevice) {
	addr := models.NormalizeAddress(dev.Address)
	if addr == "" {
		return
	}
	r.departed.Add(addr, dev)
}

// Recall looks addr up in the departed cache, matching device or interface address.
func (r *PeerRegistry) Recall(addr string) (models.PeerDevice, bool) {
	addr = models.NormalizeAddress(addr)
	if dev, ok := r.departed.Get(addr); ok {
		return dev, true
	}
	for _, key := range r.departed.Keys() {
		dev, ok := r.departed.Peek(key)
		if ok && dev.InterfaceAddress == addr {
			return dev, true
		}
	}
	return models.PeerDevice{}, false
}
