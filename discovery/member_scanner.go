package discovery

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"wifip2p/models"
)

const (
	// EventMemberUpserted is emitted when a member appears or its record changes.
	EventMemberUpserted EventType = "member_upserted"
	// EventMemberRemoved is emitted when a previously seen member disappears.
	EventMemberRemoved EventType = "member_removed"
)

// EventType identifies member scan updates.
type EventType string

// Event carries member scan updates.
type Event struct {
	Type   EventType
	Member Member
}

// Member is a group member seen on the group link.
type Member struct {
	DeviceAddress string
	Name          string
	Network       string
	IsOwner       bool
	Version       int
	HostName      string
	Port          int
	Addresses     []string
	LastSeen      time.Time
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// MemberScanner browses the group link for announced members and reports
// their IP addresses through Config.OnResolved.
type MemberScanner struct {
	cfg Config
	log zerolog.Logger

	browse browseFunc

	mu      sync.RWMutex
	members map[string]Member

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewMemberScanner creates a scanner with config defaults applied.
func NewMemberScanner(config Config) (*MemberScanner, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForScan(); err != nil {
		return nil, err
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &MemberScanner{
		cfg:             cfg,
		log:             cfg.Logger.With().Str("component", "member_scanner").Logger(),
		browse:          browse,
		members:         make(map[string]Member),
		events:          make(chan Event, 128),
		refreshRequests: make(chan refreshRequest),
	}, nil
}

// Start begins background scanning.
func (s *MemberScanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop stops background scanning and closes Events.
func (s *MemberScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous member updates.
func (s *MemberScanner) Events() <-chan Event {
	return s.events
}

// Refresh triggers an immediate scan and waits for it.
func (s *MemberScanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return errors.New("member scanner is not started")
	}

	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case s.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("member scanner is stopped")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("member scanner is stopped")
	}
}

// ListMembers returns the members seen in the last scan.
func (s *MemberScanner) ListMembers() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Member, 0, len(s.members))
	for _, member := range s.members {
		out = append(out, member)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceAddress < out[j].DeviceAddress
	})
	return out
}

func (s *MemberScanner) loop() {
	defer s.wg.Done()

	s.runScan(context.Background())

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.runScan(context.Background()); err != nil {
				s.log.Debug().Err(err).Msg("member scan failed")
			}
		case req := <-s.refreshRequests:
			req.done <- s.runScan(req.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *MemberScanner) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()

	if requestCtx != nil {
		go func() {
			select {
			case <-requestCtx.Done():
				cancel()
			case <-scanCtx.Done():
			}
		}()
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Member)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				member, ok := parseEntry(entry, s.cfg.DeviceAddress)
				if !ok {
					continue
				}
				member.LastSeen = time.Now()
				collectedMu.Lock()
				collected[member.DeviceAddress] = member
				collectedMu.Unlock()
			}
		}
	}()

	browseErr := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries)
	if browseErr != nil && !errors.Is(browseErr, context.DeadlineExceeded) && !errors.Is(browseErr, context.Canceled) {
		return browseErr
	}

	<-scanCtx.Done()
	<-collectorDone
	collectedMu.Lock()
	next := collected
	collectedMu.Unlock()

	s.applySnapshot(next)
	return nil
}

func (s *MemberScanner) applySnapshot(next map[string]Member) {
	s.mu.RLock()
	previous := s.members
	s.mu.RUnlock()
	defer func() {
		s.mu.Lock()
		s.members = next
		s.mu.Unlock()
	}()

	for addr, member := range next {
		old, exists := previous[addr]
		if exists && membersEqual(old, member) {
			continue
		}
		s.emitEvent(Event{Type: EventMemberUpserted, Member: member})
		if s.cfg.OnResolved != nil && len(member.Addresses) > 0 {
			s.cfg.OnResolved(member.DeviceAddress, member.Addresses[0])
		}
	}

	for addr, member := range previous {
		if _, exists := next[addr]; !exists {
			s.emitEvent(Event{Type: EventMemberRemoved, Member: member})
		}
	}
}

func (s *MemberScanner) emitEvent(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func parseEntry(entry *zeroconf.ServiceEntry, self string) (Member, bool) {
	txt := txtToMap(entry.Text)

	addr := models.NormalizeAddress(txt[txtDeviceAddress])
	if addr == "" || addr == self {
		return Member{}, false
	}

	version := 0
	if txt[txtVersion] != "" {
		if parsed, err := strconv.Atoi(txt[txtVersion]); err == nil {
			version = parsed
		}
	}

	// IPv4 first: the group link hands out v4 leases.
	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = addr
	}

	return Member{
		DeviceAddress: addr,
		Name:          name,
		Network:       txt[txtNetwork],
		IsOwner:       txt[txtRole] == roleOwner,
		Version:       version,
		HostName:      entry.HostName,
		Port:          entry.Port,
		Addresses:     addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

func membersEqual(a, b Member) bool {
	if a.DeviceAddress != b.DeviceAddress ||
		a.Name != b.Name ||
		a.Network != b.Network ||
		a.IsOwner != b.IsOwner ||
		a.Version != b.Version ||
		a.HostName != b.HostName ||
		a.Port != b.Port ||
		len(a.Addresses) != len(b.Addresses) {
		return false
	}
	for i := range a.Addresses {
		if a.Addresses[i] != b.Addresses[i] {
			return false
		}
	}
	return true
}
