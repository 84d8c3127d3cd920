package router

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Lifecycle events, gated per name by Options.Events.
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventDeviceReconnected  = "device_reconnected"
	EventNodeConnected      = "node_connected"
	EventNodeDisconnected   = "node_disconnected"
	EventNodeReconnected    = "node_reconnected"
)

// Defaults applied when Options leaves the corresponding value unset.
const (
	DefaultDeviceInterval     = 30 * time.Second
	DefaultSensorInterval     = 30 * time.Second
	DefaultFirmwareInterval   = 6 * time.Hour
	DefaultConsiderHome       = 180 * time.Second
	DefaultMaxLatestConnected = 5
	DefaultRetryDelay         = 5 * time.Second
)

// Options configures a Monitor.
type Options struct {
	Host               string
	Mode               Mode
	TrackDevices       bool
	ConsiderHome       time.Duration
	MaxLatestConnected int
	DeviceInterval     time.Duration
	SensorInterval     time.Duration
	FirmwareInterval   time.Duration
	Events             map[string]bool
}

// ClientsUpdate is delivered after every client reconciliation pass.
type ClientsUpdate struct {
	NewlyAdded []ClientIdentity
	Clients    []ClientView
	Aggregate  ClientsAggregate
	Changed    bool
}

// NodesUpdate is delivered after every AiMesh reconciliation pass.
type NodesUpdate struct {
	NewlyAdded []NodeIdentity
	Aggregate  NodesAggregate
	Changed    bool
}

// ClientView is the read-only per-client state handed to consumers.
type ClientView struct {
	Identity     ClientIdentity
	Connected    bool
	LastActivity time.Time
	RSSI         *int
}

// SensorsUpdate carries the category reports of one sensor pass. Categories
// unavailable in the current mode stay nil.
type SensorsUpdate struct {
	System     *SystemReport
	WAN        *WANReport
	Ports      *PortsReport
	Protection *ProtectionReport
}

// Stats are cumulative pass counters for diagnostics.
type Stats struct {
	DevicePasses   uint64
	SensorPasses   uint64
	FirmwarePasses uint64
}

// Monitor owns the complete per-router state: the tracked client and node
// maps, the latest-connected history, the published aggregate tuples and the
// connect-error streak flag. One Monitor is created per router at startup
// and stopped at shutdown.
type Monitor struct {
	source  Source
	options Options
	logger  *logrus.Logger

	mu        sync.Mutex
	clients   map[string]*TrackedClient
	nodes     map[string]*TrackedNode
	history   *History
	published publishedAggregates

	streakMu     sync.Mutex
	connectError bool

	mode       Mode
	retryDelay time.Duration

	devicePasses   atomic.Uint64
	sensorPasses   atomic.Uint64
	firmwarePasses atomic.Uint64

	onReady    func(Identity)
	onClients  func(ClientsUpdate)
	onNodes    func(NodesUpdate)
	onSensors  func(SensorsUpdate)
	onFirmware func(FirmwareReport)
	eventSink  func(event string, attrs map[string]any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor for one router. Zero interval or bound values
// fall back to the defaults.
func NewMonitor(source Source, options Options, logger *logrus.Logger) *Monitor {
	if options.DeviceInterval <= 0 {
		options.DeviceInterval = DefaultDeviceInterval
	}
	if options.SensorInterval <= 0 {
		options.SensorInterval = DefaultSensorInterval
	}
	if options.FirmwareInterval <= 0 {
		options.FirmwareInterval = DefaultFirmwareInterval
	}
	if options.Mode == "" {
		options.Mode = ModeAuto
	}

	return &Monitor{
		source:     source,
		options:    options,
		logger:     logger,
		clients:    make(map[string]*TrackedClient),
		nodes:      make(map[string]*TrackedNode),
		history:    NewHistory(options.MaxLatestConnected),
		mode:       options.Mode,
		retryDelay: DefaultRetryDelay,
	}
}

// SetOnReady sets the callback fired once the router identity is known and
// the operation mode is resolved, before any poll loop starts.
func (m *Monitor) SetOnReady(callback func(Identity)) { m.onReady = callback }

// SetOnClients sets the callback for client reconciliation results.
func (m *Monitor) SetOnClients(callback func(ClientsUpdate)) { m.onClients = callback }

// SetOnNodes sets the callback for AiMesh reconciliation results.
func (m *Monitor) SetOnNodes(callback func(NodesUpdate)) { m.onNodes = callback }

// SetOnSensors sets the callback for sensor pass results.
func (m *Monitor) SetOnSensors(callback func(SensorsUpdate)) { m.onSensors = callback }

// SetOnFirmware sets the callback for firmware check results.
func (m *Monitor) SetOnFirmware(callback func(FirmwareReport)) { m.onFirmware = callback }

// SetEventSink sets the receiver for lifecycle events. Events fire only when
// enabled in Options.Events.
func (m *Monitor) SetEventSink(callback func(event string, attrs map[string]any)) {
	m.eventSink = callback
}

// SetRetryDelay overrides the wait between identity fetch attempts.
func (m *Monitor) SetRetryDelay(delay time.Duration) { m.retryDelay = delay }

// Mode returns the resolved operation mode. Before the identity fetch
// completes this is the configured mode, possibly still ModeAuto.
func (m *Monitor) Mode() Mode { return m.mode }

// PassStats returns the cumulative pass counters.
func (m *Monitor) PassStats() Stats {
	return Stats{
		DevicePasses:   m.devicePasses.Load(),
		SensorPasses:   m.sensorPasses.Load(),
		FirmwarePasses: m.firmwarePasses.Load(),
	}
}

// Start implements the Service interface: it resolves the router identity
// and launches the poll loops.
func (m *Monitor) Start() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop implements the Service interface.
func (m *Monitor) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Router monitor stopped")
	return nil
}

func (m *Monitor) run() {
	defer m.wg.Done()

	identity, ok := m.awaitIdentity()
	if !ok {
		return
	}

	if m.mode == ModeAuto {
		m.mode = identity.Mode
		if m.mode == ModeAuto {
			m.mode = ModeRouter
		}
	}
	identity.Mode = m.mode

	m.logger.WithFields(logrus.Fields{
		"model":    identity.Model,
		"firmware": identity.Firmware,
		"mode":     string(m.mode),
	}).Infof("Connected to %s", m.options.Host)

	if m.onReady != nil {
		m.onReady(*identity)
	}

	if m.mode.TracksDevices() {
		m.wg.Add(1)
		go m.deviceLoop()
	} else {
		m.logger.Info("Device tracking and AiMesh monitoring disabled in this mode")
	}

	m.wg.Add(1)
	go m.sensorLoop()
	m.wg.Add(1)
	go m.firmwareLoop()
}

func (m *Monitor) awaitIdentity() (*Identity, bool) {
	for {
		identity, err := m.source.Identity(m.ctx)
		if err == nil {
			m.noteSuccess()
			return identity, true
		}
		m.noteFailure("identity", err)

		select {
		case <-m.ctx.Done():
			return nil, false
		case <-time.After(m.retryDelay):
		}
	}
}

func (m *Monitor) deviceLoop() {
	defer m.wg.Done()

	m.updateDevices(m.ctx)

	ticker := time.NewTicker(m.options.DeviceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.updateDevices(m.ctx)
		}
	}
}

func (m *Monitor) sensorLoop() {
	defer m.wg.Done()

	m.updateSensors(m.ctx)

	ticker := time.NewTicker(m.options.SensorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.updateSensors(m.ctx)
		}
	}
}

func (m *Monitor) firmwareLoop() {
	defer m.wg.Done()

	m.updateFirmware(m.ctx)

	ticker := time.NewTicker(m.options.FirmwareInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.updateFirmware(m.ctx)
		}
	}
}

// updateDevices runs one full device pass: clients first, then AiMesh.
func (m *Monitor) updateDevices(ctx context.Context) {
	m.updateClients(ctx)
	m.updateNodes(ctx)
	m.devicePasses.Add(1)
}

func (m *Monitor) updateClients(ctx context.Context) {
	if !m.options.TrackDevices {
		m.logger.Debug("Device tracking is disabled")
		return
	}

	m.logger.Debugf("Updating client list for %s", m.options.Host)

	snapshot, err := m.source.Clients(ctx)
	if err != nil {
		m.noteFailure("device", err)
		return
	}
	m.noteSuccess()

	if m.mode.WiredClientsOnly() {
		snapshot = FilterWired(snapshot)
	}

	now := time.Now()

	m.mu.Lock()
	result := ReconcileClients(m.clients, snapshot, m.options.ConsiderHome, now)
	for _, identity := range result.Connected {
		m.history.Record(identity, now)
	}
	aggregate := AggregateClients(m.clients, m.history)
	changed := m.published.updateClients(aggregate)
	views := m.clientViewsLocked()
	m.mu.Unlock()

	for _, identity := range result.NewlyAdded {
		m.fireEvent(EventDeviceConnected, identity.Attributes())
	}
	for _, identity := range result.Connected {
		if !containsMAC(result.NewlyAdded, identity.MAC) {
			m.fireEvent(EventDeviceReconnected, identity.Attributes())
		}
	}
	for _, identity := range result.Disconnected {
		m.fireEvent(EventDeviceDisconnected, identity.Attributes())
	}

	if m.onClients != nil {
		m.onClients(ClientsUpdate{
			NewlyAdded: result.NewlyAdded,
			Clients:    views,
			Aggregate:  aggregate,
			Changed:    changed,
		})
	}
}

func (m *Monitor) updateNodes(ctx context.Context) {
	m.logger.Debugf("Updating AiMesh status for %s", m.options.Host)

	snapshot, err := m.source.MeshNodes(ctx)
	if err != nil {
		m.noteFailure("AiMesh", err)
		return
	}
	m.noteSuccess()

	m.mu.Lock()
	result := ReconcileNodes(m.nodes, snapshot)
	aggregate := AggregateNodes(m.nodes)
	changed := m.published.updateNodes(aggregate)
	m.mu.Unlock()

	for _, identity := range result.NewlyAdded {
		m.fireEvent(EventNodeConnected, identity.Attributes())
	}
	for _, identity := range result.Connected {
		if !containsNodeMAC(result.NewlyAdded, identity.MAC) {
			m.fireEvent(EventNodeReconnected, identity.Attributes())
		}
	}
	for _, identity := range result.Disconnected {
		m.fireEvent(EventNodeDisconnected, identity.Attributes())
	}

	if m.onNodes != nil {
		m.onNodes(NodesUpdate{
			NewlyAdded: result.NewlyAdded,
			Aggregate:  aggregate,
			Changed:    changed,
		})
	}
}

func (m *Monitor) updateSensors(ctx context.Context) {
	update := SensorsUpdate{}

	if m.mode.HasCategory(CategorySystem) {
		report, err := m.source.System(ctx)
		if err != nil {
			m.noteFailure("system", err)
			return
		}
		update.System = report
	}

	if m.mode.HasCategory(CategoryWAN) {
		report, err := m.source.WAN(ctx)
		if err != nil {
			m.noteFailure("WAN", err)
			return
		}
		update.WAN = report
	}

	if m.mode.HasCategory(CategoryPorts) {
		report, err := m.source.Ports(ctx)
		if err != nil {
			m.noteFailure("ports", err)
			return
		}
		update.Ports = report
	}

	if m.mode.HasCategory(CategoryProtection) {
		report, err := m.source.Protection(ctx)
		if err != nil {
			m.noteFailure("protection", err)
			return
		}
		update.Protection = report
	}

	m.noteSuccess()
	m.sensorPasses.Add(1)

	if m.onSensors != nil {
		m.onSensors(update)
	}
}

func (m *Monitor) updateFirmware(ctx context.Context) {
	report, err := m.source.Firmware(ctx)
	if err != nil {
		m.noteFailure("firmware", err)
		return
	}
	m.noteSuccess()
	m.firmwarePasses.Add(1)

	if m.onFirmware != nil {
		m.onFirmware(*report)
	}
}

// RemoveTrackers drops the given clients from tracking and returns the
// identities actually removed. Aggregates are recomputed immediately; a MAC
// the router still reports reappears as new on the next pass.
func (m *Monitor) RemoveTrackers(macs []string) []ClientIdentity {
	var removed []ClientIdentity

	m.mu.Lock()
	for _, mac := range macs {
		normalized := FormatMAC(mac)
		if client, ok := m.clients[normalized]; ok {
			delete(m.clients, normalized)
			removed = append(removed, client.Identity())
			m.logger.Debugf("Removed tracker for %s", normalized)
		}
	}

	var update ClientsUpdate
	if len(removed) > 0 {
		aggregate := AggregateClients(m.clients, m.history)
		update = ClientsUpdate{
			Clients:   m.clientViewsLocked(),
			Aggregate: aggregate,
			Changed:   m.published.updateClients(aggregate),
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 && m.onClients != nil {
		m.onClients(update)
	}

	return removed
}

func (m *Monitor) clientViewsLocked() []ClientView {
	views := make([]ClientView, 0, len(m.clients))
	for _, client := range m.clients {
		views = append(views, ClientView{
			Identity:     client.Identity(),
			Connected:    client.Connected(),
			LastActivity: client.LastActivity(),
			RSSI:         client.RSSI(),
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Identity.MAC < views[j].Identity.MAC
	})
	return views
}

// noteFailure flags the connect-error streak and logs the first failure of
// the streak; repeats stay silent until a success resets the flag.
func (m *Monitor) noteFailure(what string, err error) {
	m.streakMu.Lock()
	defer m.streakMu.Unlock()

	if m.connectError {
		return
	}
	m.connectError = true
	m.logger.WithError(err).Errorf("Error connecting to %s for %s update", m.options.Host, what)
}

// noteSuccess clears the streak flag, logging the recovery once.
func (m *Monitor) noteSuccess() {
	m.streakMu.Lock()
	defer m.streakMu.Unlock()

	if m.connectError {
		m.connectError = false
		m.logger.Infof("Reconnected to %s", m.options.Host)
	}
}

func (m *Monitor) fireEvent(event string, attrs map[string]any) {
	if !m.options.Events[event] {
		return
	}
	if m.eventSink == nil {
		return
	}
	m.logger.Debugf("Firing event %q", event)
	m.eventSink(event, attrs)
}

func containsMAC(identities []ClientIdentity, mac string) bool {
	for _, identity := range identities {
		if identity.MAC == mac {
			return true
		}
	}
	return false
}

func containsNodeMAC(identities []NodeIdentity, mac string) bool {
	for _, identity := range identities {
		if identity.MAC == mac {
			return true
		}
	}
	return false
}
