package homeassistant

// MQTT discovery payloads. Field names follow the Home Assistant discovery
// schema; the tilde topic abbreviates the per-entity base topic.

type DeviceInfo struct {
	Identifiers      []string   `json:"identifiers,omitempty"`
	Connections      [][]string `json:"connections,omitempty"`
	Name             string     `json:"name"`
	Model            string     `json:"model,omitempty"`
	Manufacturer     string     `json:"manufacturer,omitempty"`
	SWVersion        string     `json:"sw_version,omitempty"`
	SerialNumber     string     `json:"serial_number,omitempty"`
	ConfigurationURL string     `json:"configuration_url,omitempty"`
	ViaDevice        string     `json:"via_device,omitempty"`
}

type AvailabilityConfig struct {
	Topic string `json:"topic"`
}

type SensorConfig struct {
	Name              string               `json:"name"`
	ObjectID          string               `json:"object_id,omitempty"`
	UniqueID          string               `json:"unique_id"`
	TildeTopic        string               `json:"~,omitempty"`
	StateTopic        string               `json:"state_topic"`
	AttributesTopic   string               `json:"json_attributes_topic,omitempty"`
	Availability      []AvailabilityConfig `json:"availability,omitempty"`
	AvailabilityMode  string               `json:"availability_mode,omitempty"`
	Device            *DeviceInfo          `json:"device,omitempty"`
	Icon              string               `json:"icon,omitempty"`
	UnitOfMeasurement string               `json:"unit_of_measurement,omitempty"`
	DeviceClass       string               `json:"device_class,omitempty"`
	StateClass        string               `json:"state_class,omitempty"`
	ForceUpdate       bool                 `json:"force_update,omitempty"`
	EntityCategory    string               `json:"entity_category,omitempty"`
}

type BinarySensorConfig struct {
	Name             string               `json:"name"`
	ObjectID         string               `json:"object_id,omitempty"`
	UniqueID         string               `json:"unique_id"`
	TildeTopic       string               `json:"~,omitempty"`
	StateTopic       string               `json:"state_topic"`
	AttributesTopic  string               `json:"json_attributes_topic,omitempty"`
	Availability     []AvailabilityConfig `json:"availability,omitempty"`
	AvailabilityMode string               `json:"availability_mode,omitempty"`
	Device           *DeviceInfo          `json:"device,omitempty"`
	Icon             string               `json:"icon,omitempty"`
	DeviceClass      string               `json:"device_class,omitempty"`
	EntityCategory   string               `json:"entity_category,omitempty"`
}

type DeviceTrackerConfig struct {
	Name             string               `json:"name"`
	ObjectID         string               `json:"object_id,omitempty"`
	UniqueID         string               `json:"unique_id"`
	TildeTopic       string               `json:"~,omitempty"`
	StateTopic       string               `json:"state_topic"`
	AttributesTopic  string               `json:"json_attributes_topic,omitempty"`
	Availability     []AvailabilityConfig `json:"availability,omitempty"`
	AvailabilityMode string               `json:"availability_mode,omitempty"`
	PayloadHome      string               `json:"payload_home,omitempty"`
	PayloadNotHome   string               `json:"payload_not_home,omitempty"`
	SourceType       string               `json:"source_type,omitempty"`
	Device           *DeviceInfo          `json:"device,omitempty"`
	Icon             string               `json:"icon,omitempty"`
}

type SwitchConfig struct {
	Name             string               `json:"name"`
	ObjectID         string               `json:"object_id,omitempty"`
	UniqueID         string               `json:"unique_id"`
	TildeTopic       string               `json:"~,omitempty"`
	StateTopic       string               `json:"state_topic,omitempty"`
	CommandTopic     string               `json:"command_topic"`
	AttributesTopic  string               `json:"json_attributes_topic,omitempty"`
	Availability     []AvailabilityConfig `json:"availability,omitempty"`
	AvailabilityMode string               `json:"availability_mode,omitempty"`
	Device           *DeviceInfo          `json:"device,omitempty"`
	Icon             string               `json:"icon,omitempty"`
	EntityCategory   string               `json:"entity_category,omitempty"`
}

// EntityTopics groups the MQTT topics belonging to one discovered entity.
type EntityTopics struct {
	BaseTopic       string
	ConfigTopic     string
	StateTopic      string
	AttributesTopic string
	CommandTopic    string
}
