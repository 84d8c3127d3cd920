package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

type Config struct {
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Router        RouterConfig        `yaml:"router"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	Intervals     IntervalsConfig     `yaml:"intervals"`
	Events        map[string]bool     `yaml:"events,omitempty"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type MQTTConfig struct {
	BrokerURL          string `yaml:"broker_url"`
	Username           string `yaml:"username,omitempty"`
	Password           string `yaml:"password,omitempty"`
	ClientID           string `yaml:"client_id"`
	TopicPrefix        string `yaml:"topic_prefix"`
	QoS                byte   `yaml:"qos"`
	KeepAlive          int    `yaml:"keep_alive"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type RouterConfig struct {
	Host               string `yaml:"host"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password,omitempty"`
	Port               int    `yaml:"port,omitempty"`
	UseSSL             bool   `yaml:"use_ssl"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Mode               string `yaml:"mode,omitempty"`
}

// TrackingConfig uses pointers so that an explicit zero survives parsing:
// consider_home 0 disconnects absent clients immediately and
// max_latest_connected 0 keeps no history at all.
type TrackingConfig struct {
	Enabled            *bool `yaml:"enabled,omitempty"`
	ConsiderHome       *int  `yaml:"consider_home,omitempty"`
	MaxLatestConnected *int  `yaml:"max_latest_connected,omitempty"`
}

// IntervalsConfig holds the poll intervals in seconds.
type IntervalsConfig struct {
	Devices  int `yaml:"devices"`
	Sensors  int `yaml:"sensors"`
	Firmware int `yaml:"firmware"`
}

type HomeAssistantConfig struct {
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	InstanceID      string `yaml:"instance_id,omitempty"` // Unique identifier for this instance
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (m *MQTTConfig) IsSecure() bool {
	return strings.HasPrefix(m.BrokerURL, "mqtts://") || strings.HasPrefix(m.BrokerURL, "wss://")
}

var knownEvents = []string{
	router.EventDeviceConnected,
	router.EventDeviceReconnected,
	router.EventDeviceDisconnected,
	router.EventNodeConnected,
	router.EventNodeReconnected,
	router.EventNodeDisconnected,
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// MonitorOptions assembles the per-router monitor options from the tracking,
// intervals and events sections. Call after LoadConfig has validated.
func (c *Config) MonitorOptions() router.Options {
	mode, _ := router.ParseMode(c.Router.Mode)

	return router.Options{
		Host:               c.Router.Host,
		Mode:               mode,
		TrackDevices:       *c.Tracking.Enabled,
		ConsiderHome:       time.Duration(*c.Tracking.ConsiderHome) * time.Second,
		MaxLatestConnected: *c.Tracking.MaxLatestConnected,
		DeviceInterval:     time.Duration(c.Intervals.Devices) * time.Second,
		SensorInterval:     time.Duration(c.Intervals.Sensors) * time.Second,
		FirmwareInterval:   time.Duration(c.Intervals.Firmware) * time.Second,
		Events:             c.Events,
	}
}

func (c *Config) setDefaults() {
	c.setMQTTDefaults()
	c.setRouterDefaults()
	c.setTrackingDefaults()
	c.setIntervalsDefaults()
	c.setEventsDefaults()
	c.setHomeAssistantDefaults()
	c.setLoggingDefaults()
}

func (c *Config) setMQTTDefaults() {
	if c.MQTT.BrokerURL == "" {
		c.MQTT.BrokerURL = "mqtt://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ha-asusrouter-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "asusrouter"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
	if c.MQTT.Password == "" {
		c.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}
}

func (c *Config) setRouterDefaults() {
	if c.Router.Username == "" {
		c.Router.Username = "admin"
	}
	if c.Router.Password == "" {
		c.Router.Password = os.Getenv("ROUTER_PASSWORD")
	}
}

func (c *Config) setTrackingDefaults() {
	if c.Tracking.Enabled == nil {
		enabled := true
		c.Tracking.Enabled = &enabled
	}
	if c.Tracking.ConsiderHome == nil {
		seconds := int(router.DefaultConsiderHome / time.Second)
		c.Tracking.ConsiderHome = &seconds
	}
	if c.Tracking.MaxLatestConnected == nil {
		limit := router.DefaultMaxLatestConnected
		c.Tracking.MaxLatestConnected = &limit
	}
}

func (c *Config) setIntervalsDefaults() {
	if c.Intervals.Devices == 0 {
		c.Intervals.Devices = int(router.DefaultDeviceInterval / time.Second)
	}
	if c.Intervals.Sensors == 0 {
		c.Intervals.Sensors = int(router.DefaultSensorInterval / time.Second)
	}
	if c.Intervals.Firmware == 0 {
		c.Intervals.Firmware = int(router.DefaultFirmwareInterval / time.Second)
	}
}

func (c *Config) setEventsDefaults() {
	if c.Events == nil {
		c.Events = map[string]bool{}
	}

	defaults := map[string]bool{
		router.EventDeviceConnected:    true,
		router.EventDeviceReconnected:  false,
		router.EventDeviceDisconnected: false,
		router.EventNodeConnected:      true,
		router.EventNodeReconnected:    false,
		router.EventNodeDisconnected:   false,
	}
	for name, enabled := range defaults {
		if _, ok := c.Events[name]; !ok {
			c.Events[name] = enabled
		}
	}
}

func (c *Config) setHomeAssistantDefaults() {
	if c.HomeAssistant.DiscoveryPrefix == "" {
		c.HomeAssistant.DiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) setLoggingDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if err := c.validateMQTT(); err != nil {
		return err
	}
	if err := c.validateRouter(); err != nil {
		return err
	}
	if err := c.validateTracking(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateHomeAssistant(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateMQTT() error {
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}

	if _, err := url.Parse(c.MQTT.BrokerURL); err != nil {
		return fmt.Errorf("invalid mqtt.broker_url '%s': %w", c.MQTT.BrokerURL, err)
	}

	validSchemes := []string{"mqtt://", "mqtts://", "ws://", "wss://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(c.MQTT.BrokerURL, scheme) {
			return c.validateMQTTParams()
		}
	}

	return fmt.Errorf("mqtt.broker_url '%s' must use one of: %s", c.MQTT.BrokerURL, strings.Join(validSchemes, ", "))
}

func (c *Config) validateMQTTParams() error {
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2 (got %d)", c.MQTT.QoS)
	}
	if c.MQTT.KeepAlive < 10 {
		return fmt.Errorf("mqtt.keep_alive must be at least 10 seconds (got %d)", c.MQTT.KeepAlive)
	}
	return nil
}

func (c *Config) validateRouter() error {
	if c.Router.Host == "" {
		return fmt.Errorf("router.host is required")
	}
	if c.Router.Password == "" {
		return fmt.Errorf("router.password is required (set it in the config file or via ROUTER_PASSWORD)")
	}
	if c.Router.Port < 0 || c.Router.Port > 65535 {
		return fmt.Errorf("router.port must be between 1 and 65535 (got %d)", c.Router.Port)
	}
	if _, err := router.ParseMode(c.Router.Mode); err != nil {
		return fmt.Errorf("router.mode: %w", err)
	}
	return nil
}

func (c *Config) validateTracking() error {
	if *c.Tracking.ConsiderHome < 0 {
		return fmt.Errorf("tracking.consider_home must be 0 or more seconds (got %d)", *c.Tracking.ConsiderHome)
	}
	if *c.Tracking.MaxLatestConnected < 0 {
		return fmt.Errorf("tracking.max_latest_connected must be 0 or more (got %d)", *c.Tracking.MaxLatestConnected)
	}
	return nil
}

func (c *Config) validateIntervals() error {
	if c.Intervals.Devices < 5 {
		return fmt.Errorf("intervals.devices must be at least 5 seconds (got %d)", c.Intervals.Devices)
	}
	if c.Intervals.Sensors < 5 {
		return fmt.Errorf("intervals.sensors must be at least 5 seconds (got %d)", c.Intervals.Sensors)
	}
	if c.Intervals.Firmware < 60 {
		return fmt.Errorf("intervals.firmware must be at least 60 seconds (got %d)", c.Intervals.Firmware)
	}
	return nil
}

func (c *Config) validateEvents() error {
	for name := range c.Events {
		if !slices.Contains(knownEvents, name) {
			return fmt.Errorf("events.%s is not a known event (valid events: %s)",
				name, strings.Join(knownEvents, ", "))
		}
	}
	return nil
}

func (c *Config) validateHomeAssistant() error {
	if c.HomeAssistant.DiscoveryPrefix == "" {
		return fmt.Errorf("homeassistant.discovery_prefix is required")
	}

	if c.HomeAssistant.InstanceID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = uuid.NewString()
		}
		c.HomeAssistant.InstanceID = hostname
	}

	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := []string{"debug", "info", "warn", "warning", "error", "fatal", "panic"}
	logLevel := strings.ToLower(c.Logging.Level)
	if !slices.Contains(validLogLevels, logLevel) {
		return fmt.Errorf("logging.level '%s' must be one of: %s",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"text", "json"}
	logFormat := strings.ToLower(c.Logging.Format)
	if !slices.Contains(validLogFormats, logFormat) {
		return fmt.Errorf("logging.format '%s' must be one of: %s",
			c.Logging.Format, strings.Join(validLogFormats, ", "))
	}

	return nil
}
