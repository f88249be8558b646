package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wifip2p/models"
)

const (
	// DefaultSimulatedAddress is the device address the simulator reports when none is configured.
	DefaultSimulatedAddress = "02:00:00:00:00:01"
	// SimulatedPin is returned for every PIN display request.
	SimulatedPin = "12345670"
	// SimulatedServerAddress is the DHCP server address handed to simulated clients.
	SimulatedServerAddress = "192.168.49.1"
)

// SimulatedPeer scripts one remote device.
type SimulatedPeer struct {
	Device models.PeerDevice
	// GroupOwner makes the peer win group owner negotiation.
	GroupOwner bool
}

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	DeviceAddress string
	Networks      []models.NetworkRecord
	Peers         []SimulatedPeer

	// AutoRespond makes the simulator answer commands with the events a
	// cooperative supplicant and peer would produce.
	AutoRespond bool
	Delay       time.Duration
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Call is one recorded command.
type Call struct {
	Name string
	Args []any
}

// Simulator implements Control, Addressing and Station in memory.
// Tests drive it passively and inspect Calls; run --simulate enables AutoRespond.
type Simulator struct {
	opts SimulatorOptions

	mu        sync.Mutex
	calls     []Call
	failures  map[string]error
	sink      func(Event)
	networks  map[int]models.NetworkRecord
	clients   map[int][]string
	peers     map[string]SimulatedPeer
	nextNetID int
	groupSeq  int
	requests  int
}

// NewSimulator returns a simulator with options defaults applied.
func NewSimulator(options SimulatorOptions) *Simulator {
	if options.DeviceAddress == "" {
		options.DeviceAddress = DefaultSimulatedAddress
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}

	s := &Simulator{
		opts:     options,
		failures: make(map[string]error),
		networks: make(map[int]models.NetworkRecord),
		clients:  make(map[int][]string),
		peers:    make(map[string]SimulatedPeer),
	}
	for _, n := range options.Networks {
		s.networks[n.NetworkID] = n
		if n.NetworkID >= s.nextNetID {
			s.nextNetID = n.NetworkID + 1
		}
	}
	for _, p := range options.Peers {
		p.Device.Address = models.NormalizeAddress(p.Device.Address)
		s.peers[p.Device.Address] = p
	}
	return s
}

// SetSink installs the destination for simulated events.
func (s *Simulator) SetSink(sink func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// FailOn makes every later call named name fail with ErrCommandFailed.
func (s *Simulator) FailOn(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = fmt.Errorf("%w: %s", ErrCommandFailed, name)
}

// Recover clears a failure installed with FailOn.
func (s *Simulator) Recover(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, name)
}

// Calls returns a copy of every recorded call.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how often name was called.
func (s *Simulator) CallCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.calls {
		if c.Name == name {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call named name.
func (s *Simulator) LastCall(name string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Name == name {
			return s.calls[i], true
		}
	}
	return Call{}, false
}

func (s *Simulator) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// AddPeer scripts another remote device.
func (s *Simulator) AddPeer(peer SimulatedPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer.Device.Address = models.NormalizeAddress(peer.Device.Address)
	s.peers[peer.Device.Address] = peer
}

// Networks returns the stored network blocks ordered by id.
func (s *Simulator) Networks() []models.NetworkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkListLocked()
}

// ClientList returns the stored client list of netID.
func (s *Simulator) ClientList(netID int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clients[netID]...)
}

func (s *Simulator) record(name string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Name: name, Args: args})
	err := s.failures[name]
	ev := s.opts.Logger.Debug().Str("call", name)
	if err != nil {
		ev = ev.Bool("failed", true)
	}
	ev.Msg("driver call")
	return err
}

func (s *Simulator) emit(events ...Event) {
	if !s.opts.AutoRespond || len(events) == 0 {
		return
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	deliver := func() {
		for _, ev := range events {
			sink(ev)
		}
	}
	if s.opts.Delay <= 0 {
		deliver()
		return
	}
	s.opts.Clock.AfterFunc(s.opts.Delay, deliver)
}

func (s *Simulator) SetInterfaceUp(iface string) error {
	return s.record("SetInterfaceUp", iface)
}

func (s *Simulator) StartMonitoring() error {
	if err := s.record("StartMonitoring"); err != nil {
		return err
	}
	s.emit(SupplicantConnected{})
	return nil
}

func (s *Simulator) StopMonitoring() error {
	if err := s.record("StopMonitoring"); err != nil {
		return err
	}
	s.emit(SupplicantDisconnected{})
	return nil
}

func (s *Simulator) StartDriver() error { return s.record("StartDriver") }
func (s *Simulator) StopDriver() error  { return s.record("StopDriver") }

func (s *Simulator) DeviceAddress() (string, error) {
	if err := s.record("DeviceAddress"); err != nil {
		return "", err
	}
	return s.opts.DeviceAddress, nil
}

func (s *Simulator) SetDeviceName(name string) error {
	return s.record("SetDeviceName", name)
}

func (s *Simulator) SetDeviceType(deviceType string) error {
	return s.record("SetDeviceType", deviceType)
}

func (s *Simulator) SetConfigMethods(methods string) error {
	return s.record("SetConfigMethods", methods)
}

func (s *Simulator) SetPersistentReconnect(enabled bool) error {
	return s.record("SetPersistentReconnect", enabled)
}

func (s *Simulator) SetCountryCode(code string) error {
	return s.record("SetCountryCode", code)
}

func (s *Simulator) SetMultiChannelMode(enabled bool) error {
	return s.record("SetMultiChannelMode", enabled)
}

func (s *Simulator) SetChannel(listen, operating int) error {
	return s.record("SetChannel", listen, operating)
}

func (s *Simulator) ExtListen(enable bool, period, interval time.Duration) error {
	return s.record("ExtListen", enable, period, interval)
}

func (s *Simulator) Find(timeout time.Duration) error {
	if err := s.record("Find", timeout); err != nil {
		return err
	}
	s.emit(s.foundEvents()...)
	return nil
}

func (s *Simulator) StopFind() error {
	if err := s.record("StopFind"); err != nil {
		return err
	}
	s.emit(FindStopped{})
	return nil
}

func (s *Simulator) Flush() error { return s.record("Flush") }

func (s *Simulator) DeviceInfo(addr string) (models.PeerDevice, error) {
	if err := s.record("DeviceInfo", addr); err != nil {
		return models.PeerDevice{}, err
	}
	peer, ok := s.lookupPeer(addr)
	if !ok {
		return models.PeerDevice{}, fmt.Errorf("%w: unknown device %s", ErrCommandFailed, addr)
	}
	return peer.Device, nil
}

func (s *Simulator) GroupCapability(addr string) (int, error) {
	if err := s.record("GroupCapability", addr); err != nil {
		return 0, err
	}
	peer, ok := s.lookupPeer(addr)
	if !ok {
		return 0, fmt.Errorf("%w: unknown device %s", ErrCommandFailed, addr)
	}
	return peer.Device.GroupCapability, nil
}

func (s *Simulator) Connect(cfg models.ConnectionConfig, join bool) (string, error) {
	if err := s.record("Connect", cfg, join); err != nil {
		return "", err
	}
	pin := ""
	if cfg.WPS.Setup == models.WPSDisplay && cfg.WPS.Pin == "" {
		pin = SimulatedPin
	}

	peer, ok := s.lookupPeer(cfg.Address)
	if !ok {
		return pin, nil
	}
	group := s.newGroup(peer, join || peer.GroupOwner || cfg.GroupOwnerIntent == 0)
	s.emit(GoNegotiationSuccess{}, GroupFormationSuccess{}, GroupStarted{Group: group})
	return pin, nil
}

func (s *Simulator) CancelConnect() error { return s.record("CancelConnect") }

func (s *Simulator) ProvisionDiscovery(cfg models.ConnectionConfig) error {
	if err := s.record("ProvisionDiscovery", cfg); err != nil {
		return err
	}
	peer, ok := s.lookupPeer(cfg.Address)
	if !ok {
		s.emit(ProvisionDiscovery{Kind: ProvisionFailure, Device: models.PeerDevice{Address: cfg.Address}})
		return nil
	}
	switch cfg.WPS.Setup {
	case models.WPSKeypad:
		s.emit(ProvisionDiscovery{Kind: ProvisionEnterPin, Device: peer.Device})
	case models.WPSDisplay:
		s.emit(ProvisionDiscovery{Kind: ProvisionShowPin, Device: peer.Device, Pin: SimulatedPin})
	default:
		s.emit(ProvisionDiscovery{Kind: ProvisionPushButtonResponse, Device: peer.Device})
	}
	return nil
}

func (s *Simulator) Reinvoke(netID int, addr string) error {
	if err := s.record("Reinvoke", netID, addr); err != nil {
		return err
	}
	s.mu.Lock()
	network, ok := s.networks[netID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown network %d", ErrCommandFailed, netID)
	}
	peer, ok := s.lookupPeer(addr)
	if !ok {
		return nil
	}

	asClient := models.NormalizeAddress(network.BSSID) == peer.Device.Address
	group := s.newGroup(peer, asClient)
	group.NetworkName = network.SSID
	group.NetworkID = models.PersistentNetID
	s.emit(InvitationResult{Status: StatusSuccess}, GroupStarted{Group: group})
	return nil
}

func (s *Simulator) Invite(group *models.Group, addr string) error {
	if err := s.record("Invite", addr); err != nil {
		return err
	}
	peer, ok := s.lookupPeer(addr)
	if !ok {
		s.emit(InvitationResult{Status: StatusInformationUnavailable})
		return nil
	}
	s.emit(InvitationResult{Status: StatusSuccess}, StationConnected{
		Address:          peer.Device.Address,
		InterfaceAddress: peer.Device.InterfaceAddress,
	})
	return nil
}

func (s *Simulator) GroupAdd(persistent bool) error {
	if err := s.record("GroupAdd", persistent); err != nil {
		return err
	}
	group := s.newOwnedGroup()
	if persistent {
		s.mu.Lock()
		netID := s.nextNetID
		s.nextNetID++
		s.networks[netID] = models.NetworkRecord{
			NetworkID:  netID,
			SSID:       group.NetworkName,
			BSSID:      s.opts.DeviceAddress,
			Persistent: true,
		}
		s.mu.Unlock()
		group.NetworkID = models.PersistentNetID
	}
	s.emit(GroupStarted{Group: group})
	return nil
}

func (s *Simulator) GroupAddNetwork(netID int) error {
	if err := s.record("GroupAddNetwork", netID); err != nil {
		return err
	}
	s.mu.Lock()
	network, ok := s.networks[netID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown network %d", ErrCommandFailed, netID)
	}
	group := s.newOwnedGroup()
	group.NetworkName = network.SSID
	group.NetworkID = models.PersistentNetID
	s.emit(GroupStarted{Group: group})
	return nil
}

func (s *Simulator) GroupRemove(iface string) error {
	if err := s.record("GroupRemove", iface); err != nil {
		return err
	}
	s.emit(GroupRemoved{Status: StatusSuccess})
	return nil
}

func (s *Simulator) SetGroupIdle(iface string, timeout time.Duration) error {
	return s.record("SetGroupIdle", iface, timeout)
}

func (s *Simulator) RemoveClient(iface, addr string) error {
	if err := s.record("RemoveClient", iface, addr); err != nil {
		return err
	}
	s.emit(StationDisconnected{Address: models.NormalizeAddress(addr)})
	return nil
}

func (s *Simulator) SSID(addr string) (string, error) {
	if err := s.record("SSID", addr); err != nil {
		return "", err
	}
	addr = models.NormalizeAddress(addr)
	for _, n := range s.Networks() {
		if models.NormalizeAddress(n.BSSID) == addr {
			return n.SSID, nil
		}
	}
	return "", nil
}

func (s *Simulator) StationInfo(iface, addr string) (models.PeerDevice, error) {
	if err := s.record("StationInfo", iface, addr); err != nil {
		return models.PeerDevice{}, err
	}
	peer, ok := s.lookupPeer(addr)
	if !ok {
		return models.PeerDevice{}, fmt.Errorf("%w: unknown station %s", ErrCommandFailed, addr)
	}
	return peer.Device, nil
}

func (s *Simulator) ListNetworks() ([]models.NetworkRecord, error) {
	if err := s.record("ListNetworks"); err != nil {
		return nil, err
	}
	return s.Networks(), nil
}

func (s *Simulator) RemoveNetwork(netID int) error {
	if err := s.record("RemoveNetwork", netID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.networks, netID)
	delete(s.clients, netID)
	return nil
}

func (s *Simulator) SetClientList(netID int, clients []string) error {
	if err := s.record("SetClientList", netID, clients); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[netID] = append([]string(nil), clients...)
	return nil
}

func (s *Simulator) SaveConfig() error { return s.record("SaveConfig") }

func (s *Simulator) ServiceAdd(info models.ServiceInfo) error {
	return s.record("ServiceAdd", info)
}

func (s *Simulator) ServiceDel(info models.ServiceInfo) error {
	return s.record("ServiceDel", info)
}

func (s *Simulator) ServiceFlush() error { return s.record("ServiceFlush") }

func (s *Simulator) ServiceDiscoveryRequest(addr, query string) (string, error) {
	if err := s.record("ServiceDiscoveryRequest", addr, query); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return fmt.Sprintf("sd-%d", s.requests), nil
}

func (s *Simulator) CancelServiceDiscoveryRequest(id string) error {
	return s.record("CancelServiceDiscoveryRequest", id)
}

func (s *Simulator) StartWPSPushButton(iface string) error {
	return s.record("StartWPSPushButton", iface)
}

func (s *Simulator) StartWPSPinKeypad(iface, pin string) error {
	return s.record("StartWPSPinKeypad", iface, pin)
}

func (s *Simulator) StartWPSPinDisplay(iface string) (string, error) {
	if err := s.record("StartWPSPinDisplay", iface); err != nil {
		return "", err
	}
	return SimulatedPin, nil
}

func (s *Simulator) StartServer(iface, serverAddr string) error {
	return s.record("StartServer", iface, serverAddr)
}

func (s *Simulator) StopServer(iface string) error {
	return s.record("StopServer", iface)
}

func (s *Simulator) StartClient(iface string) error {
	if err := s.record("StartClient", iface); err != nil {
		return err
	}
	s.emit(AddressAssigned{ServerAddress: SimulatedServerAddress, IPAddress: "192.168.49.2"})
	return nil
}

func (s *Simulator) StopClient(iface string) error {
	return s.record("StopClient", iface)
}

func (s *Simulator) ClearAddresses(iface string) error {
	return s.record("ClearAddresses", iface)
}

func (s *Simulator) SetTemporarilyDisconnected(disconnected bool) error {
	if err := s.record("SetTemporarilyDisconnected", disconnected); err != nil {
		return err
	}
	if disconnected {
		s.emit(StationYielded{})
	}
	return nil
}

func (s *Simulator) lookupPeer(addr string) (SimulatedPeer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr = models.NormalizeAddress(addr)
	if peer, ok := s.peers[addr]; ok {
		return peer, true
	}
	for _, peer := range s.peers {
		if models.NormalizeAddress(peer.Device.InterfaceAddress) == addr {
			return peer, true
		}
	}
	return SimulatedPeer{}, false
}

func (s *Simulator) foundEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, 0, len(s.peers))
	for addr := range s.peers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	events := make([]Event, 0, len(addrs))
	for _, addr := range addrs {
		events = append(events, DeviceFound{Device: s.peers[addr].Device})
	}
	return events
}

func (s *Simulator) newGroup(peer SimulatedPeer, asClient bool) models.Group {
	if !asClient {
		return s.newOwnedGroup()
	}
	s.mu.Lock()
	s.groupSeq++
	seq := s.groupSeq
	s.mu.Unlock()
	return models.Group{
		NetworkName: networkName(),
		Owner:       peer.Device,
		Interface:   fmt.Sprintf("p2p-wlan0-%d", seq),
		NetworkID:   models.TemporaryNetID,
		Frequency:   2437,
		IsOwner:     false,
	}
}

func (s *Simulator) newOwnedGroup() models.Group {
	s.mu.Lock()
	s.groupSeq++
	seq := s.groupSeq
	s.mu.Unlock()
	return models.Group{
		NetworkName: networkName(),
		Owner:       models.PeerDevice{Address: s.opts.DeviceAddress},
		Interface:   fmt.Sprintf("p2p-wlan0-%d", seq),
		NetworkID:   models.TemporaryNetID,
		Passphrase:  strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Frequency:   2437,
		IsOwner:     true,
	}
}

func (s *Simulator) networkListLocked() []models.NetworkRecord {
	out := make([]models.NetworkRecord, 0, len(s.networks))
	for _, n := range s.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NetworkID < out[j].NetworkID
	})
	return out
}

func networkName() string {
	return "DIRECT-" + strings.ToUpper(uuid.NewString()[:2])
}
