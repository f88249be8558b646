package registry

import (
	"sort"
	"strings"

	"wifip2p/models"
)

// Client is an application that owns local services and service-discovery requests.
type Client interface {
	ID() string
	// Deliver hands a service response to the client.
	Deliver(resp models.ServiceResponse) error
	// Ping verifies the client is still reachable.
	Ping() error
}

type clientEntry struct {
	client   Client
	requests map[int]models.ServiceRequest
	services []models.ServiceInfo
}

func (e *clientEntry) empty() bool {
	return len(e.requests) == 0 && len(e.services) == 0
}

// ClientRegistry tracks service-discovery requests and local services per client.
type ClientRegistry struct {
	clients map[string]*clientEntry
	txid    int
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*clientEntry)}
}

// NextTransactionID advances the 8-bit transaction counter, skipping 0.
func (r *ClientRegistry) NextTransactionID() int {
	r.txid = (r.txid + 1) & 0xff
	if r.txid == 0 {
		r.txid = 1
	}
	return r.txid
}

func (r *ClientRegistry) ResetTransactionID() {
	r.txid = 0
}

// AddRequest assigns a transaction id to req and stores it for c.
func (r *ClientRegistry) AddRequest(c Client, req models.ServiceRequest) models.ServiceRequest {
	entry := r.entry(c, true)
	req.TransactionID = r.NextTransactionID()
	entry.requests[req.TransactionID] = req
	return req
}

// RemoveRequest removes the first request of c equal to req.
func (r *ClientRegistry) RemoveRequest(c Client, req models.ServiceRequest) bool {
	entry := r.entry(c, false)
	if entry == nil {
		return false
	}
	removed := false
	for _, txid := range sortedTxids(entry.requests) {
		if entry.requests[txid].Equal(req) {
			delete(entry.requests, txid)
			removed = true
			break
		}
	}
	r.dropIfEmpty(c.ID())
	return removed
}

// ClearRequests drops every request of c and reports whether any existed.
func (r *ClientRegistry) ClearRequests(c Client) bool {
	entry := r.entry(c, false)
	if entry == nil {
		return false
	}
	changed := len(entry.requests) > 0
	entry.requests = make(map[int]models.ServiceRequest)
	r.dropIfEmpty(c.ID())
	return changed
}

func (r *ClientRegistry) AddService(c Client, info models.ServiceInfo) {
	entry := r.entry(c, true)
	entry.services = append(entry.services, info)
}

// RemoveService removes the first service of c equal to info.
func (r *ClientRegistry) RemoveService(c Client, info models.ServiceInfo) bool {
	entry := r.entry(c, false)
	if entry == nil {
		return false
	}
	removed := false
	for i, s := range entry.services {
		if s.Equal(info) {
			entry.services = append(entry.services[:i], entry.services[i+1:]...)
			removed = true
			break
		}
	}
	r.dropIfEmpty(c.ID())
	return removed
}

// ClearServices drops every service of c and returns them for driver cleanup.
func (r *ClientRegistry) ClearServices(c Client) []models.ServiceInfo {
	entry := r.entry(c, false)
	if entry == nil {
		return nil
	}
	services := entry.services
	entry.services = nil
	r.dropIfEmpty(c.ID())
	return services
}

// Remove drops c entirely and returns its services for driver cleanup.
func (r *ClientRegistry) Remove(id string) []models.ServiceInfo {
	entry, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)
	return entry.services
}

// Clients returns every registered client ordered by id.
func (r *ClientRegistry) Clients() []Client {
	ids := r.ids()
	out := make([]Client, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.clients[id].client)
	}
	return out
}

func (r *ClientRegistry) Contains(id string) bool {
	_, ok := r.clients[id]
	return ok
}

func (r *ClientRegistry) Len() int {
	return len(r.clients)
}

// Clear forgets all clients.
func (r *ClientRegistry) Clear() {
	r.clients = make(map[string]*clientEntry)
}

// Aggregate concatenates the driver form of every registered request.
func (r *ClientRegistry) Aggregate() string {
	var b strings.Builder
	for _, id := range r.ids() {
		entry := r.clients[id]
		for _, txid := range sortedTxids(entry.requests) {
			b.WriteString(entry.requests[txid].SupplicantQuery())
		}
	}
	return b.String()
}

// Owner returns the client that registered the request with txid.
func (r *ClientRegistry) Owner(txid int) (Client, bool) {
	for _, id := range r.ids() {
		entry := r.clients[id]
		if _, ok := entry.requests[txid]; ok {
			return entry.client, true
		}
	}
	return nil, false
}

func (r *ClientRegistry) entry(c Client, create bool) *clientEntry {
	id := c.ID()
	entry, ok := r.clients[id]
	if ok {
		return entry
	}
	if !create {
		return nil
	}
	entry = &clientEntry{
		client:   c,
		requests: make(map[int]models.ServiceRequest),
	}
	r.clients[id] = entry
	return entry
}

func (r *ClientRegistry) dropIfEmpty(id string) {
	if entry, ok := r.clients[id]; ok && entry.empty() {
		delete(r.clients, id)
	}
}

func (r *ClientRegistry) ids() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedTxids(requests map[int]models.ServiceRequest) []int {
	out := make([]int, 0, len(requests))
	for txid := range requests {
		out = append(out, txid)
	}
	sort.Ints(out)
	return out
}
