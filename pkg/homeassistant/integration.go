package homeassistant

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/mqtt"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	payloadHome    = "home"
	payloadNotHome = "not_home"

	stateOn  = "ON"
	stateOff = "OFF"
)

// requiresTracking marks entities that only exist in device-tracking modes.
const requiresTracking = "tracking"

// routerEntity describes one discovered entity on the router device.
type routerEntity struct {
	Type        string
	Component   string
	Name        string
	Icon        string
	Unit        string
	DeviceClass string
	StateClass  string
	Requires    string
	Diagnostic  bool
}

// routerEntities is the static entity set. Which entries get published
// depends on the operation mode; temperature sensors are discovered
// dynamically because models differ in which radios expose readings.
var routerEntities = []routerEntity{
	{Type: "connected_devices", Component: "sensor", Name: "Connected devices", Icon: "mdi:account-multiple", StateClass: "measurement", Requires: requiresTracking},
	{Type: "aimesh", Component: "sensor", Name: "AiMesh nodes", Icon: "mdi:router-network", StateClass: "measurement", Requires: requiresTracking},
	{Type: "cpu_usage", Component: "sensor", Name: "CPU usage", Icon: "mdi:cpu-32-bit", Unit: "%", StateClass: "measurement", Requires: router.CategorySystem},
	{Type: "ram_usage", Component: "sensor", Name: "RAM usage", Icon: "mdi:memory", Unit: "%", StateClass: "measurement", Requires: router.CategorySystem},
	{Type: "boot_time", Component: "sensor", Name: "Boot time", DeviceClass: "timestamp", Requires: router.CategorySystem, Diagnostic: true},
	{Type: "led", Component: "switch", Name: "LED", Icon: "mdi:led-outline", Requires: router.CategorySystem},
	{Type: "wan", Component: "binary_sensor", Name: "WAN", DeviceClass: "connectivity", Requires: router.CategoryWAN, Diagnostic: true},
	{Type: "wan_ip", Component: "sensor", Name: "WAN IP", Icon: "mdi:ip-outline", Requires: router.CategoryWAN, Diagnostic: true},
	{Type: "wan_download", Component: "sensor", Name: "WAN download", Icon: "mdi:download", Unit: "B", DeviceClass: "data_size", StateClass: "total_increasing", Requires: router.CategoryWAN, Diagnostic: true},
	{Type: "wan_upload", Component: "sensor", Name: "WAN upload", Icon: "mdi:upload", Unit: "B", DeviceClass: "data_size", StateClass: "total_increasing", Requires: router.CategoryWAN, Diagnostic: true},
	{Type: "ports", Component: "sensor", Name: "Connected ports", Icon: "mdi:ethernet", StateClass: "measurement", Requires: router.CategoryPorts, Diagnostic: true},
	{Type: "parental_control", Component: "switch", Name: "Parental control", Icon: "mdi:shield-account", Requires: router.CategoryProtection},
	{Type: "port_forwarding", Component: "switch", Name: "Port forwarding", Icon: "mdi:lan-connect", Requires: router.CategoryProtection},
	{Type: "firmware_update", Component: "binary_sensor", Name: "Firmware update", DeviceClass: "update", Requires: router.CategoryFirmware, Diagnostic: true},
}

// Integration publishes the router surface to Home Assistant via MQTT
// discovery and relays commands coming back from it.
type Integration struct {
	mqtt        *mqtt.Client
	config      *config.HomeAssistantConfig
	topicPrefix string
	logger      *logrus.Logger
	version     string

	mu               sync.Mutex
	routerInfo       *router.Identity
	routerMode       router.Mode
	routerDevice     *DeviceInfo
	trackers         map[string]router.ClientIdentity
	nodes            map[string]router.NodeIdentity
	temperatures     map[string]routerEntity
	connectedClients int
	connectedNodes   int
	eventsPublished  int

	onRemoveTrackers         func(macs []string)
	onLEDCommand             func(enabled bool)
	onParentalControlCommand func(enabled bool)
	onPortForwardingCommand  func(enabled bool)

	bridgeDeviceInfo *DeviceInfo
	bridgeEntities   *BridgeEntityManager
}

// BridgeEntity defines one Home Assistant entity on the bridge device itself.
type BridgeEntity struct {
	EntityType       string
	Name             string
	Icon             string
	GetStatus        func(*Integration) string
	GetAttributes    func(*Integration) map[string]any
	GetShutdownState func(*Integration) string
}

// BridgeEntityManager manages the bridge's own entities.
type BridgeEntityManager struct {
	integration *Integration
	entities    []BridgeEntity
}

// NewIntegration creates the Home Assistant integration layer.
func NewIntegration(mqttClient *mqtt.Client, haConfig *config.HomeAssistantConfig, topicPrefix, version string, logger *logrus.Logger) *Integration {
	integration := &Integration{
		mqtt:         mqttClient,
		config:       haConfig,
		topicPrefix:  topicPrefix,
		logger:       logger,
		version:      version,
		trackers:     make(map[string]router.ClientIdentity),
		nodes:        make(map[string]router.NodeIdentity),
		temperatures: make(map[string]routerEntity),
	}

	integration.bridgeDeviceInfo = &DeviceInfo{
		Identifiers:  []string{integration.bridgeDeviceID()},
		Name:         "HA ASUS Router Bridge",
		Model:        "homeassistant-asusrouter",
		Manufacturer: "miguelangel-nubla",
		SWVersion:    version,
	}

	integration.bridgeEntities = newBridgeEntityManager(integration)

	return integration
}

func newBridgeEntityManager(integration *Integration) *BridgeEntityManager {
	return &BridgeEntityManager{
		integration: integration,
		entities: []BridgeEntity{
			{
				EntityType: "diagnostics",
				Name:       "Diagnostics",
				Icon:       "mdi:stethoscope",
				GetStatus: func(i *Integration) string {
					return i.bridgeStatus()
				},
				GetAttributes: func(i *Integration) map[string]any {
					return i.bridgeAttributes()
				},
				GetShutdownState: func(i *Integration) string {
					return StatusOffline
				},
			},
		},
	}
}

// Start wires up the MQTT callbacks and performs the initial setup if the
// connection is already established.
func (i *Integration) Start() error {
	i.logger.Info("Starting Home Assistant integration")

	i.mqtt.SetOnConnectCallback(i.handleConnect)
	i.mqtt.SetOnDisconnectCallback(i.handleDisconnect)

	if i.mqtt.IsConnected() {
		i.handleConnect()
	}

	return nil
}

// Stop marks the router and the bridge offline while the MQTT connection is
// still up.
func (i *Integration) Stop() error {
	i.logger.Info("Stopping Home Assistant integration")

	if !i.mqtt.IsConnected() {
		return nil
	}

	if i.hasRouterInfo() {
		i.publishRouterAvailability(StatusOffline)
	}

	i.bridgeEntities.publishOfflineStates()

	if err := i.mqtt.Publish(i.bridgeAvailabilityTopic(), StatusOffline, true); err != nil {
		i.logger.WithError(err).Error("Failed to publish bridge offline status")
	}

	return nil
}

// SetOnRemoveTrackers sets the handler for remove_trackers commands.
func (i *Integration) SetOnRemoveTrackers(callback func(macs []string)) { i.onRemoveTrackers = callback }

// SetOnLEDCommand sets the handler for LED switch commands.
func (i *Integration) SetOnLEDCommand(callback func(enabled bool)) { i.onLEDCommand = callback }

// SetOnParentalControlCommand sets the handler for parental control switch commands.
func (i *Integration) SetOnParentalControlCommand(callback func(enabled bool)) {
	i.onParentalControlCommand = callback
}

// SetOnPortForwardingCommand sets the handler for port forwarding switch commands.
func (i *Integration) SetOnPortForwardingCommand(callback func(enabled bool)) {
	i.onPortForwardingCommand = callback
}

// SetRouterInfo registers the monitored router as a Home Assistant device and
// publishes the discovery configs for its entities. The identity carries the
// resolved operation mode, which decides the entity set.
func (i *Integration) SetRouterInfo(identity router.Identity, configURL string) {
	name := identity.Model
	if name == "" {
		name = "ASUS Router"
	}

	i.mu.Lock()
	i.routerInfo = &identity
	i.routerMode = identity.Mode
	i.routerDevice = &DeviceInfo{
		Identifiers:      []string{i.routerDeviceID()},
		Name:             name,
		Model:            identity.Model,
		Manufacturer:     identity.Brand,
		SWVersion:        identity.Firmware,
		SerialNumber:     identity.Serial,
		ConfigurationURL: configURL,
		ViaDevice:        i.bridgeDeviceID(),
	}
	if identity.MAC != "" {
		i.routerDevice.Connections = [][]string{{"mac", identity.MAC}}
	}
	i.mu.Unlock()

	i.logger.Infof("Registering router %s (%s mode) with Home Assistant", name, identity.Mode)

	if i.mqtt.IsConnected() {
		i.publishRouterDiscovery()
		i.publishRouterAvailability(StatusOnline)
		i.subscribeSwitchCommands()
	}
}

// UpdateClients publishes tracker states for every known client and refreshes
// the aggregate sensor when the reconciliation reported a change.
func (i *Integration) UpdateClients(update router.ClientsUpdate) {
	if !i.mqtt.IsConnected() {
		i.logger.Debug("MQTT not connected, skipping client update")
		return
	}

	i.mu.Lock()
	var added []router.ClientIdentity
	for _, view := range update.Clients {
		previous, exists := i.trackers[view.Identity.MAC]
		i.trackers[view.Identity.MAC] = view.Identity
		if !exists || trackerName(previous) != trackerName(view.Identity) {
			added = append(added, view.Identity)
		}
	}
	i.connectedClients = update.Aggregate.ConnectedCount
	i.mu.Unlock()

	for _, identity := range added {
		if err := i.publishClientTrackerDiscovery(identity); err != nil {
			i.logger.WithError(err).Errorf("Failed to publish tracker discovery for %s", identity.MAC)
		}
	}

	for _, view := range update.Clients {
		i.publishClientTrackerState(view)
	}

	if update.Changed {
		i.publishClientsAggregate(update.Aggregate)
	}

	i.bridgeEntities.publishAllStates()
}

// UpdateNodes publishes node tracker states and the AiMesh aggregate sensor.
func (i *Integration) UpdateNodes(update router.NodesUpdate) {
	if !i.mqtt.IsConnected() {
		i.logger.Debug("MQTT not connected, skipping node update")
		return
	}

	i.mu.Lock()
	var added []router.NodeIdentity
	for _, node := range update.Aggregate.Nodes {
		previous, exists := i.nodes[node.MAC]
		i.nodes[node.MAC] = node
		if !exists || nodeName(previous) != nodeName(node) {
			added = append(added, node)
		}
	}
	i.connectedNodes = update.Aggregate.ConnectedCount
	i.mu.Unlock()

	for _, node := range added {
		if err := i.publishNodeTrackerDiscovery(node); err != nil {
			i.logger.WithError(err).Errorf("Failed to publish node discovery for %s", node.MAC)
		}
	}

	for _, node := range update.Aggregate.Nodes {
		i.publishNodeTrackerState(node)
	}

	if update.Changed {
		i.publishNodesAggregate(update.Aggregate)
	}

	i.bridgeEntities.publishAllStates()
}

// UpdateSensors publishes the readings from one sensor pass. Categories the
// pass did not fetch are nil and leave the published states untouched.
func (i *Integration) UpdateSensors(update router.SensorsUpdate) {
	if !i.mqtt.IsConnected() {
		i.logger.Debug("MQTT not connected, skipping sensor update")
		return
	}

	if update.System != nil {
		i.publishSystemSensors(update.System)
	}
	if update.WAN != nil {
		i.publishWANSensors(update.WAN)
	}
	if update.Ports != nil {
		i.publishPortsSensor(update.Ports)
	}
	if update.Protection != nil {
		i.publishProtectionSwitches(update.Protection)
	}
}

// UpdateFirmware publishes the firmware update state.
func (i *Integration) UpdateFirmware(report router.FirmwareReport) {
	if !i.mqtt.IsConnected() {
		i.logger.Debug("MQTT not connected, skipping firmware update")
		return
	}

	attributes := map[string]any{
		"installed_version": report.Current,
	}
	if report.Available != "" {
		attributes["latest_version"] = report.Available
	}
	i.publishRouterState("binary_sensor", "firmware_update", onOffState(report.UpdateAvailable), attributes)
}

// PublishEvent emits one lifecycle event on the event topic tree.
func (i *Integration) PublishEvent(event string, attributes map[string]any) {
	payload := map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range attributes {
		payload[key] = value
	}

	eventJSON, err := json.Marshal(payload)
	if err != nil {
		i.logger.WithError(err).Errorf("Failed to marshal %s event", event)
		return
	}

	if err := i.mqtt.PublishWithRetry(i.eventTopic(event), string(eventJSON), 3, time.Second); err != nil {
		i.logger.WithError(err).Errorf("Failed to publish %s event", event)
		return
	}

	i.mu.Lock()
	i.eventsPublished++
	i.mu.Unlock()
}

// RemoveClientTrackers clears the retained discovery configs of removed
// clients, which deletes their entities from Home Assistant.
func (i *Integration) RemoveClientTrackers(identities []router.ClientIdentity) {
	for _, identity := range identities {
		i.mu.Lock()
		delete(i.trackers, identity.MAC)
		i.mu.Unlock()

		topics := i.clientTrackerTopics(identity.MAC)
		if err := i.mqtt.Publish(topics.ConfigTopic, "", true); err != nil {
			i.logger.WithError(err).Errorf("Failed to clear tracker config for %s", identity.MAC)
			continue
		}
		i.logger.Infof("Removed Home Assistant tracker for %s", identity.MAC)
	}
}

// handleConnect republishes discovery configs and availability after every
// (re)connect. Subscriptions do not survive reconnects with clean sessions,
// so they are redone here as well.
func (i *Integration) handleConnect() {
	i.logger.Info("MQTT connected, publishing Home Assistant discovery")

	if err := i.bridgeEntities.publishAllDiscoveryConfigs(); err != nil {
		i.logger.WithError(err).Error("Failed to publish bridge discovery configs")
	}
	i.bridgeEntities.publishAllStates()

	if i.hasRouterInfo() {
		i.publishRouterDiscovery()
		i.publishRouterAvailability(StatusOnline)
		i.republishTrackerDiscovery()
		i.subscribeSwitchCommands()
	}

	i.subscribeCommands()
}

// handleDisconnect is called when the MQTT connection is lost.
func (i *Integration) handleDisconnect() {
	i.logger.Warn("MQTT disconnected, Home Assistant updates paused")
}

func (i *Integration) hasRouterInfo() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.routerInfo != nil
}

// activeRouterEntities returns the entities the current mode publishes,
// static table entries first, then dynamically discovered temperatures.
func (i *Integration) activeRouterEntities() []routerEntity {
	i.mu.Lock()
	mode := i.routerMode
	dynamic := make([]routerEntity, 0, len(i.temperatures))
	for _, entity := range i.temperatures {
		dynamic = append(dynamic, entity)
	}
	i.mu.Unlock()

	sort.Slice(dynamic, func(a, b int) bool { return dynamic[a].Type < dynamic[b].Type })

	active := make([]routerEntity, 0, len(routerEntities)+len(dynamic))
	for _, entity := range routerEntities {
		if entityActiveInMode(entity, mode) {
			active = append(active, entity)
		}
	}
	return append(active, dynamic...)
}

func entityActiveInMode(entity routerEntity, mode router.Mode) bool {
	if entity.Requires == requiresTracking {
		return mode.TracksDevices()
	}
	return mode.HasCategory(entity.Requires)
}

func (i *Integration) publishRouterDiscovery() {
	for _, entity := range i.activeRouterEntities() {
		if err := i.publishRouterEntityDiscovery(entity); err != nil {
			i.logger.WithError(err).Errorf("Failed to publish discovery config for %s", entity.Type)
		}
	}
}

func (i *Integration) publishRouterEntityDiscovery(entity routerEntity) error {
	i.mu.Lock()
	device := i.routerDevice
	i.mu.Unlock()
	if device == nil {
		return nil
	}

	topics := i.routerEntityTopics(entity)
	entityID := i.routerEntityID(entity.Type)
	objectID := fmt.Sprintf("%s_%s", i.config.InstanceID, entity.Type)
	category := ""
	if entity.Diagnostic {
		category = "diagnostic"
	}

	var payload any
	switch entity.Component {
	case "binary_sensor":
		payload = &BinarySensorConfig{
			Name:             entity.Name,
			ObjectID:         objectID,
			UniqueID:         entityID,
			TildeTopic:       topics.BaseTopic,
			StateTopic:       "~/state",
			AttributesTopic:  "~/attributes",
			Availability:     i.entityAvailability(),
			AvailabilityMode: "all",
			Device:           device,
			Icon:             entity.Icon,
			DeviceClass:      entity.DeviceClass,
			EntityCategory:   category,
		}
	case "switch":
		payload = &SwitchConfig{
			Name:             entity.Name,
			ObjectID:         objectID,
			UniqueID:         entityID,
			TildeTopic:       topics.BaseTopic,
			StateTopic:       "~/state",
			CommandTopic:     "~/set",
			AttributesTopic:  "~/attributes",
			Availability:     i.entityAvailability(),
			AvailabilityMode: "all",
			Device:           device,
			Icon:             entity.Icon,
			EntityCategory:   category,
		}
	default:
		payload = &SensorConfig{
			Name:              entity.Name,
			ObjectID:          objectID,
			UniqueID:          entityID,
			TildeTopic:        topics.BaseTopic,
			StateTopic:        "~/state",
			AttributesTopic:   "~/attributes",
			Availability:      i.entityAvailability(),
			AvailabilityMode:  "all",
			Device:            device,
			Icon:              entity.Icon,
			UnitOfMeasurement: entity.Unit,
			DeviceClass:       entity.DeviceClass,
			StateClass:        entity.StateClass,
			EntityCategory:    category,
		}
	}

	configJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s discovery config: %w", entity.Type, err)
	}

	return i.mqtt.Publish(topics.ConfigTopic, string(configJSON), true)
}

func (i *Integration) publishRouterAvailability(status string) {
	if err := i.mqtt.Publish(i.routerAvailabilityTopic(), status, true); err != nil {
		i.logger.WithError(err).Error("Failed to publish router availability")
	}
}

// publishRouterState publishes one entity state and, when given, its
// attribute document.
func (i *Integration) publishRouterState(component, entityType, state string, attributes map[string]any) {
	topics := i.entityTopics(component, i.routerEntityID(entityType))
	if err := i.mqtt.Publish(topics.StateTopic, state, false); err != nil {
		i.logger.WithError(err).Errorf("Failed to publish %s state", entityType)
		return
	}
	if attributes != nil {
		i.publishAttributes(topics.AttributesTopic, attributes, entityType)
	}
}

func (i *Integration) publishAttributes(topic string, attributes map[string]any, what string) {
	attributesJSON, err := json.Marshal(attributes)
	if err != nil {
		i.logger.WithError(err).Errorf("Failed to marshal %s attributes", what)
		return
	}
	if err := i.mqtt.Publish(topic, string(attributesJSON), false); err != nil {
		i.logger.WithError(err).Errorf("Failed to publish %s attributes", what)
	}
}

func (i *Integration) publishClientTrackerDiscovery(identity router.ClientIdentity) error {
	topics := i.clientTrackerTopics(identity.MAC)
	entityID := i.clientTrackerID(identity.MAC)
	name := trackerName(identity)

	device := &DeviceInfo{
		Identifiers:  []string{entityID},
		Connections:  [][]string{{"mac", identity.MAC}},
		Name:         name,
		Manufacturer: identity.Vendor,
		ViaDevice:    i.routerDeviceID(),
	}

	trackerConfig := &DeviceTrackerConfig{
		Name:             name,
		ObjectID:         fmt.Sprintf("%s_tracker_%s", i.config.InstanceID, macSlug(identity.MAC)),
		UniqueID:         entityID,
		TildeTopic:       topics.BaseTopic,
		StateTopic:       "~/state",
		AttributesTopic:  "~/attributes",
		Availability:     i.entityAvailability(),
		AvailabilityMode: "all",
		PayloadHome:      payloadHome,
		PayloadNotHome:   payloadNotHome,
		SourceType:       "router",
		Device:           device,
	}

	configJSON, err := json.Marshal(trackerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal tracker config for %s: %w", identity.MAC, err)
	}

	i.logger.Debugf("Publishing tracker discovery for %s", identity.MAC)
	return i.mqtt.Publish(topics.ConfigTopic, string(configJSON), true)
}

func (i *Integration) publishClientTrackerState(view router.ClientView) {
	topics := i.clientTrackerTopics(view.Identity.MAC)

	state := payloadNotHome
	if view.Connected {
		state = payloadHome
	}
	if err := i.mqtt.Publish(topics.StateTopic, state, false); err != nil {
		i.logger.WithError(err).Errorf("Failed to publish tracker state for %s", view.Identity.MAC)
		return
	}

	attributes := view.Identity.Attributes()
	if view.RSSI != nil {
		attributes["rssi"] = *view.RSSI
	}
	if !view.LastActivity.IsZero() {
		attributes["last_activity"] = view.LastActivity.UTC().Format(time.RFC3339)
	}
	i.publishAttributes(topics.AttributesTopic, attributes, fmt.Sprintf("tracker %s", view.Identity.MAC))
}

func (i *Integration) publishClientsAggregate(aggregate router.ClientsAggregate) {
	devices := make([]map[string]any, 0, len(aggregate.ConnectedList))
	for _, identity := range aggregate.ConnectedList {
		devices = append(devices, identity.Attributes())
	}
	latest := make([]map[string]any, 0, len(aggregate.LatestConnected))
	for _, identity := range aggregate.LatestConnected {
		latest = append(latest, identity.Attributes())
	}

	attributes := map[string]any{
		"devices":          devices,
		"latest_connected": latest,
	}
	if !aggregate.LatestConnectedAt.IsZero() {
		attributes["latest_connected_at"] = aggregate.LatestConnectedAt.UTC().Format(time.RFC3339)
	}
	i.publishRouterState("sensor", "connected_devices", strconv.Itoa(aggregate.ConnectedCount), attributes)
}

func (i *Integration) publishNodeTrackerDiscovery(node router.NodeIdentity) error {
	topics := i.nodeTrackerTopics(node.MAC)
	entityID := i.nodeTrackerID(node.MAC)
	name := nodeName(node)

	device := &DeviceInfo{
		Identifiers:  []string{entityID},
		Connections:  [][]string{{"mac", node.MAC}},
		Name:         name,
		Model:        node.Model,
		Manufacturer: "ASUSTek",
		SWVersion:    node.Firmware,
		ViaDevice:    i.routerDeviceID(),
	}

	trackerConfig := &DeviceTrackerConfig{
		Name:             name,
		ObjectID:         fmt.Sprintf("%s_node_%s", i.config.InstanceID, macSlug(node.MAC)),
		UniqueID:         entityID,
		TildeTopic:       topics.BaseTopic,
		StateTopic:       "~/state",
		AttributesTopic:  "~/attributes",
		Availability:     i.entityAvailability(),
		AvailabilityMode: "all",
		PayloadHome:      payloadHome,
		PayloadNotHome:   payloadNotHome,
		SourceType:       "router",
		Device:           device,
		Icon:             "mdi:router-wireless",
	}

	configJSON, err := json.Marshal(trackerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal node config for %s: %w", node.MAC, err)
	}

	i.logger.Debugf("Publishing node discovery for %s", node.MAC)
	return i.mqtt.Publish(topics.ConfigTopic, string(configJSON), true)
}

func (i *Integration) publishNodeTrackerState(node router.NodeIdentity) {
	topics := i.nodeTrackerTopics(node.MAC)

	state := payloadNotHome
	if node.Connected {
		state = payloadHome
	}
	if err := i.mqtt.Publish(topics.StateTopic, state, false); err != nil {
		i.logger.WithError(err).Errorf("Failed to publish node state for %s", node.MAC)
		return
	}

	i.publishAttributes(topics.AttributesTopic, node.Attributes(), fmt.Sprintf("node %s", node.MAC))
}

func (i *Integration) publishNodesAggregate(aggregate router.NodesAggregate) {
	nodes := make([]map[string]any, 0, len(aggregate.Nodes))
	for _, node := range aggregate.Nodes {
		nodes = append(nodes, node.Attributes())
	}
	i.publishRouterState("sensor", "aimesh", strconv.Itoa(aggregate.ConnectedCount), map[string]any{"nodes": nodes})
}

func (i *Integration) publishSystemSensors(report *router.SystemReport) {
	if report.CPUUsage != nil {
		i.publishRouterState("sensor", "cpu_usage", formatFloat(*report.CPUUsage), nil)
	}
	if report.RAMUsage != nil {
		var attributes map[string]any
		if report.RAMTotal != nil && report.RAMUsed != nil {
			attributes = map[string]any{
				"total_bytes": *report.RAMTotal,
				"used_bytes":  *report.RAMUsed,
			}
		}
		i.publishRouterState("sensor", "ram_usage", formatFloat(*report.RAMUsage), attributes)
	}
	if report.BootTime != nil {
		var attributes map[string]any
		if report.Uptime != nil {
			attributes = map[string]any{"uptime_seconds": int64(report.Uptime.Seconds())}
		}
		i.publishRouterState("sensor", "boot_time", report.BootTime.UTC().Format(time.RFC3339), attributes)
	}
	if report.LED != nil {
		i.publishRouterState("switch", "led", onOffState(*report.LED), nil)
	}
	for label, value := range report.Temperatures {
		entity := i.ensureTemperatureEntity(label)
		i.publishRouterState("sensor", entity.Type, formatFloat(value), nil)
	}
}

func (i *Integration) publishWANSensors(report *router.WANReport) {
	if report.Connected != nil {
		i.publishRouterState("binary_sensor", "wan", onOffState(*report.Connected), nil)
	}
	if report.IP != nil {
		var attributes map[string]any
		if report.Gateway != nil || report.Type != nil {
			attributes = map[string]any{}
			if report.Gateway != nil {
				attributes["gateway"] = *report.Gateway
			}
			if report.Type != nil {
				attributes["connection_type"] = *report.Type
			}
		}
		i.publishRouterState("sensor", "wan_ip", *report.IP, attributes)
	}
	if report.RxBytes != nil {
		i.publishRouterState("sensor", "wan_download", strconv.FormatUint(*report.RxBytes, 10), nil)
	}
	if report.TxBytes != nil {
		i.publishRouterState("sensor", "wan_upload", strconv.FormatUint(*report.TxBytes, 10), nil)
	}
}

func (i *Integration) publishPortsSensor(report *router.PortsReport) {
	ports := make(map[string]any, len(report.Ports))
	for label, link := range report.Ports {
		ports[label] = map[string]any{
			"connected":  link.Connected,
			"speed_mbps": link.SpeedMbps,
		}
	}
	i.publishRouterState("sensor", "ports", strconv.Itoa(report.ConnectedCount()), map[string]any{"ports": ports})
}

func (i *Integration) publishProtectionSwitches(report *router.ProtectionReport) {
	if report.ParentalControl != nil {
		var attributes map[string]any
		if report.ParentalControlRules != nil {
			attributes = map[string]any{"rules": *report.ParentalControlRules}
		}
		i.publishRouterState("switch", "parental_control", onOffState(*report.ParentalControl), attributes)
	}
	if report.PortForwarding != nil {
		var attributes map[string]any
		if report.PortForwardingRules != nil {
			attributes = map[string]any{"rules": *report.PortForwardingRules}
		}
		i.publishRouterState("switch", "port_forwarding", onOffState(*report.PortForwarding), attributes)
	}
}

// ensureTemperatureEntity lazily discovers one temperature sensor per label
// the firmware reports.
func (i *Integration) ensureTemperatureEntity(label string) routerEntity {
	entityType := "temperature_" + slugify(label)

	i.mu.Lock()
	entity, exists := i.temperatures[entityType]
	if !exists {
		entity = routerEntity{
			Type:        entityType,
			Component:   "sensor",
			Name:        fmt.Sprintf("Temperature %s", label),
			Unit:        "°C",
			DeviceClass: "temperature",
			StateClass:  "measurement",
			Requires:    router.CategorySystem,
			Diagnostic:  true,
		}
		i.temperatures[entityType] = entity
	}
	i.mu.Unlock()

	if !exists {
		if err := i.publishRouterEntityDiscovery(entity); err != nil {
			i.logger.WithError(err).Errorf("Failed to publish discovery config for %s", entityType)
		}
	}
	return entity
}

// republishTrackerDiscovery restores the retained tracker configs after a
// reconnect in case the broker lost them.
func (i *Integration) republishTrackerDiscovery() {
	i.mu.Lock()
	clients := make([]router.ClientIdentity, 0, len(i.trackers))
	for _, identity := range i.trackers {
		clients = append(clients, identity)
	}
	nodes := make([]router.NodeIdentity, 0, len(i.nodes))
	for _, node := range i.nodes {
		nodes = append(nodes, node)
	}
	i.mu.Unlock()

	for _, identity := range clients {
		if err := i.publishClientTrackerDiscovery(identity); err != nil {
			i.logger.WithError(err).Errorf("Failed to republish tracker discovery for %s", identity.MAC)
		}
	}
	for _, node := range nodes {
		if err := i.publishNodeTrackerDiscovery(node); err != nil {
			i.logger.WithError(err).Errorf("Failed to republish node discovery for %s", node.MAC)
		}
	}
}

func (i *Integration) subscribeCommands() {
	if err := i.mqtt.Subscribe(i.commandTopic(), i.handleCommand); err != nil {
		i.logger.WithError(err).Error("Failed to subscribe to command topic")
	}
}

func (i *Integration) subscribeSwitchCommands() {
	for _, entity := range i.activeRouterEntities() {
		if entity.Component != "switch" {
			continue
		}
		entityType := entity.Type
		topics := i.routerEntityTopics(entity)
		handler := func(topic string, payload []byte) {
			i.handleSwitchCommand(entityType, strings.TrimSpace(string(payload)))
		}
		if err := i.mqtt.Subscribe(topics.CommandTopic, handler); err != nil {
			i.logger.WithError(err).Errorf("Failed to subscribe to %s command topic", entityType)
		}
	}
}

// handleCommand processes bridge commands published on the command topic.
func (i *Integration) handleCommand(topic string, payload []byte) {
	var command struct {
		Command string   `json:"command"`
		MACs    []string `json:"macs"`
	}
	if err := json.Unmarshal(payload, &command); err != nil {
		i.logger.WithError(err).Warn("Ignoring malformed command payload")
		return
	}

	switch command.Command {
	case "remove_trackers":
		i.logger.Infof("Received remove_trackers command for %d devices", len(command.MACs))
		if i.onRemoveTrackers != nil {
			i.onRemoveTrackers(command.MACs)
		}
	default:
		i.logger.Warnf("Ignoring unknown command %q", command.Command)
	}
}

// handleSwitchCommand relays an ON/OFF command to the registered handler and
// restates the commanded value until the next sensor pass confirms it.
func (i *Integration) handleSwitchCommand(entityType, payload string) {
	enabled := strings.EqualFold(payload, stateOn)
	if !enabled && !strings.EqualFold(payload, stateOff) {
		i.logger.Warnf("Ignoring unexpected %s command payload %q", entityType, payload)
		return
	}

	i.logger.Infof("Received %s command: %s", entityType, payload)

	var callback func(bool)
	switch entityType {
	case "led":
		callback = i.onLEDCommand
	case "parental_control":
		callback = i.onParentalControlCommand
	case "port_forwarding":
		callback = i.onPortForwardingCommand
	}
	if callback == nil {
		return
	}
	callback(enabled)

	i.publishRouterState("switch", entityType, onOffState(enabled), nil)
}

func (i *Integration) bridgeStatus() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.routerInfo == nil {
		return "connecting"
	}
	return "connected"
}

func (i *Integration) bridgeAttributes() map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()

	attributes := map[string]any{
		"version":           i.version,
		"tracked_clients":   len(i.trackers),
		"connected_clients": i.connectedClients,
		"aimesh_nodes":      len(i.nodes),
		"connected_nodes":   i.connectedNodes,
		"events_published":  i.eventsPublished,
	}
	if i.routerInfo != nil {
		attributes["router_model"] = i.routerInfo.Model
		attributes["router_firmware"] = i.routerInfo.Firmware
		attributes["mode"] = string(i.routerMode)
	}
	return attributes
}

// publishAllDiscoveryConfigs publishes discovery configs for all bridge entities.
func (bem *BridgeEntityManager) publishAllDiscoveryConfigs() error {
	for _, entity := range bem.entities {
		if err := bem.publishDiscoveryConfig(entity); err != nil {
			return err
		}
	}
	return nil
}

func (bem *BridgeEntityManager) publishDiscoveryConfig(entity BridgeEntity) error {
	i := bem.integration
	entityID := fmt.Sprintf("%s-%s", i.bridgeDeviceID(), entity.EntityType)
	topics := i.entityTopics("sensor", entityID)

	sensorConfig := &SensorConfig{
		Name:             entity.Name,
		ObjectID:         fmt.Sprintf("%s_bridge_%s", i.config.InstanceID, entity.EntityType),
		UniqueID:         entityID,
		TildeTopic:       topics.BaseTopic,
		StateTopic:       "~/state",
		AttributesTopic:  "~/attributes",
		Availability:     []AvailabilityConfig{{Topic: i.bridgeAvailabilityTopic()}},
		AvailabilityMode: "all",
		Device:           i.bridgeDeviceInfo,
		Icon:             entity.Icon,
		EntityCategory:   "diagnostic",
	}

	configJSON, err := json.Marshal(sensorConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge %s config: %w", entity.EntityType, err)
	}

	return i.mqtt.Publish(topics.ConfigTopic, string(configJSON), true)
}

// publishAllStates publishes the current state of all bridge entities.
func (bem *BridgeEntityManager) publishAllStates() {
	for _, entity := range bem.entities {
		bem.publishEntityState(entity, entity.GetStatus(bem.integration), entity.GetAttributes(bem.integration))
	}
}

func (bem *BridgeEntityManager) publishEntityState(entity BridgeEntity, state string, attributes map[string]any) {
	i := bem.integration
	entityID := fmt.Sprintf("%s-%s", i.bridgeDeviceID(), entity.EntityType)
	topics := i.entityTopics("sensor", entityID)

	if err := i.mqtt.Publish(topics.StateTopic, state, false); err != nil {
		i.logger.WithError(err).Errorf("Failed to publish bridge %s state", entity.EntityType)
		return
	}
	if attributes != nil {
		i.publishAttributes(topics.AttributesTopic, attributes, fmt.Sprintf("bridge %s", entity.EntityType))
	}
}

// publishOfflineStates publishes shutdown states for bridge entities that
// define one.
func (bem *BridgeEntityManager) publishOfflineStates() {
	for _, entity := range bem.entities {
		if entity.GetShutdownState == nil {
			continue
		}
		bem.publishEntityState(entity, entity.GetShutdownState(bem.integration), nil)
	}
}

// GenerateBridgeAvailabilityTopic returns the bridge availability topic for
// the given configuration. The app uses it as the MQTT will topic before the
// integration exists.
func GenerateBridgeAvailabilityTopic(haConfig *config.HomeAssistantConfig) string {
	return fmt.Sprintf("%s/sensor/%s/availability", haConfig.DiscoveryPrefix, generateBridgeDeviceID(haConfig))
}

func generateBridgeDeviceID(haConfig *config.HomeAssistantConfig) string {
	return fmt.Sprintf("ha-asusrouter-bridge-%s", haConfig.InstanceID)
}

func (i *Integration) bridgeDeviceID() string {
	return generateBridgeDeviceID(i.config)
}

func (i *Integration) bridgeAvailabilityTopic() string {
	return GenerateBridgeAvailabilityTopic(i.config)
}

func (i *Integration) routerDeviceID() string {
	return fmt.Sprintf("%s-router", i.bridgeDeviceID())
}

func (i *Integration) routerAvailabilityTopic() string {
	return fmt.Sprintf("%s/sensor/%s/availability", i.config.DiscoveryPrefix, i.routerDeviceID())
}

func (i *Integration) routerEntityID(entityType string) string {
	return fmt.Sprintf("%s-%s", i.routerDeviceID(), entityType)
}

func (i *Integration) routerEntityTopics(entity routerEntity) *EntityTopics {
	return i.entityTopics(entity.Component, i.routerEntityID(entity.Type))
}

func (i *Integration) clientTrackerID(mac string) string {
	return fmt.Sprintf("%s-tracker-%s", i.bridgeDeviceID(), macSlug(mac))
}

func (i *Integration) clientTrackerTopics(mac string) *EntityTopics {
	return i.entityTopics("device_tracker", i.clientTrackerID(mac))
}

func (i *Integration) nodeTrackerID(mac string) string {
	return fmt.Sprintf("%s-node-%s", i.bridgeDeviceID(), macSlug(mac))
}

func (i *Integration) nodeTrackerTopics(mac string) *EntityTopics {
	return i.entityTopics("device_tracker", i.nodeTrackerID(mac))
}

// entityAvailability is the availability chain shared by all router-device
// entities: both the bridge and the router have to be up.
func (i *Integration) entityAvailability() []AvailabilityConfig {
	return []AvailabilityConfig{
		{Topic: i.routerAvailabilityTopic()},
		{Topic: i.bridgeAvailabilityTopic()},
	}
}

// entityTopics derives the topic set of one entity under the discovery prefix.
func (i *Integration) entityTopics(component, entityID string) *EntityTopics {
	base := fmt.Sprintf("%s/%s/%s", i.config.DiscoveryPrefix, component, entityID)
	return &EntityTopics{
		BaseTopic:       base,
		ConfigTopic:     base + "/config",
		StateTopic:      base + "/state",
		AttributesTopic: base + "/attributes",
		CommandTopic:    base + "/set",
	}
}

func (i *Integration) commandTopic() string {
	return fmt.Sprintf("%s/%s/command", i.topicPrefix, i.config.InstanceID)
}

func (i *Integration) eventTopic(event string) string {
	return fmt.Sprintf("%s/%s/event/%s", i.topicPrefix, i.config.InstanceID, event)
}

func trackerName(identity router.ClientIdentity) string {
	if identity.Name != "" {
		return identity.Name
	}
	return identity.MAC
}

func nodeName(node router.NodeIdentity) string {
	if node.Alias != "" {
		return node.Alias
	}
	if node.Model != "" {
		return node.Model
	}
	return node.MAC
}

func macSlug(mac string) string {
	return strings.ReplaceAll(router.FormatMAC(mac), ":", "")
}

func slugify(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64)
}

func onOffState(on bool) string {
	if on {
		return stateOn
	}
	return stateOff
}
