package asuswrt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

// flexString tolerates the firmware's habit of emitting the same field as a
// quoted string on one model and a bare number on another.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexString(value)
		return nil
	}
	*s = flexString(data)
	return nil
}

func (s flexString) String() string {
	return strings.TrimSpace(string(s))
}

func (s flexString) Int() (int, bool) {
	value, err := strconv.Atoi(s.String())
	if err != nil {
		return 0, false
	}
	return value, true
}

func (s flexString) Uint() (uint64, bool) {
	value, err := strconv.ParseUint(s.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func (s flexString) Bool() bool {
	value := s.String()
	return value != "" && value != "0"
}

type clientEntry struct {
	Name        flexString `json:"name"`
	NickName    flexString `json:"nickName"`
	IP          flexString `json:"ip"`
	MAC         flexString `json:"mac"`
	Vendor      flexString `json:"vendor"`
	IsOnline    flexString `json:"isOnline"`
	IsWL        flexString `json:"isWL"`
	IsGuest     flexString `json:"isGuest"`
	RSSI        flexString `json:"rssi"`
	ConnectTime flexString `json:"wlConnectTime"`
	ParentAPMAC flexString `json:"amesh_papMac"`
}

// Keys in the client list object that are metadata, not client entries.
var clientListMetaKeys = map[string]bool{
	"maclist":        true,
	"ClientAPILevel": true,
}

// parseClientList turns a get_clientlist result into snapshots keyed by
// normalized MAC. Entries that fail to decode are skipped rather than
// failing the whole list.
func parseClientList(raw json.RawMessage, now time.Time) (map[string]router.ClientSnapshot, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty client list", ErrUnexpectedResponse)
	}

	entries := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: client list: %s", ErrUnexpectedResponse, summarize(raw))
	}

	snapshots := make(map[string]router.ClientSnapshot, len(entries))
	for key, message := range entries {
		if clientListMetaKeys[key] {
			continue
		}

		var entry clientEntry
		if err := json.Unmarshal(message, &entry); err != nil {
			continue
		}

		mac := router.FormatMAC(entry.MAC.String())
		if mac == "" {
			mac = router.FormatMAC(key)
		}
		if mac == "" {
			continue
		}

		snapshot := router.ClientSnapshot{
			MAC:        mac,
			Connection: connectionFromWL(entry.IsWL.String()),
			Connected:  entry.IsOnline.Bool(),
		}

		if name := pickName(entry.NickName.String(), entry.Name.String(), entry.Vendor.String()); name != "" {
			snapshot.Name = &name
		}
		if ip := entry.IP.String(); ip != "" {
			snapshot.IP = &ip
		}
		if vendor := entry.Vendor.String(); vendor != "" {
			snapshot.Vendor = &vendor
		}
		if entry.ParentAPMAC.String() != "" {
			node := router.FormatMAC(entry.ParentAPMAC.String())
			snapshot.Node = &node
		}
		if rssi, ok := entry.RSSI.Int(); ok && snapshot.Connection != router.ConnectionWired {
			snapshot.RSSI = &rssi
		}
		if entry.IsGuest.String() != "" {
			guest := entry.IsGuest.Bool()
			snapshot.Guest = &guest
		}
		if snapshot.Connected && snapshot.Connection != router.ConnectionWired {
			if connectedAt, ok := parseWLConnectTime(entry.ConnectTime.String(), now); ok {
				snapshot.ConnectedAt = &connectedAt
			}
		}

		snapshots[mac] = snapshot
	}
	return snapshots, nil
}

func pickName(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// connectionFromWL maps the firmware's isWL codes: 0 wired, 1 2.4GHz, 2 and
// 3 the 5GHz bands, 4 6GHz.
func connectionFromWL(value string) router.ConnectionType {
	switch strings.TrimSpace(value) {
	case "0":
		return router.ConnectionWired
	case "1":
		return router.ConnectionWireless2G
	case "2", "3":
		return router.ConnectionWireless5G
	case "4":
		return router.ConnectionWireless6G
	default:
		return router.ConnectionUnknown
	}
}

var connectTimePattern = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})$`)

// parseWLConnectTime converts the firmware's "hours:minutes:seconds since
// association" counter into an absolute time.
func parseWLConnectTime(value string, now time.Time) (time.Time, bool) {
	matches := connectTimePattern.FindStringSubmatch(strings.TrimSpace(value))
	if matches == nil {
		return time.Time{}, false
	}

	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])
	elapsed := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second

	return now.Add(-elapsed).Truncate(time.Second), true
}

type meshEntry struct {
	Alias       flexString `json:"alias"`
	ModelName   flexString `json:"model_name"`
	UIModelName flexString `json:"ui_model_name"`
	ProductID   flexString `json:"product_id"`
	Firmware    flexString `json:"fwver"`
	IP          flexString `json:"ip"`
	MAC         flexString `json:"mac"`
	Online      flexString `json:"online"`
	Level       flexString `json:"level"`
	Parent2G    flexString `json:"pap2g"`
	Parent5G    flexString `json:"pap5g"`
}

// parseMeshNodes turns a get_cfg_clientlist result into snapshots keyed by
// normalized MAC. The router itself appears as the level 0 entry.
func parseMeshNodes(raw json.RawMessage) (map[string]router.NodeSnapshot, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty AiMesh list", ErrUnexpectedResponse)
	}

	var entries []meshEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: AiMesh list: %s", ErrUnexpectedResponse, summarize(raw))
	}

	snapshots := make(map[string]router.NodeSnapshot, len(entries))
	for _, entry := range entries {
		mac := router.FormatMAC(entry.MAC.String())
		if mac == "" {
			continue
		}

		snapshot := router.NodeSnapshot{
			MAC:       mac,
			Connected: entry.Online.Bool(),
		}

		if alias := entry.Alias.String(); alias != "" {
			snapshot.Alias = &alias
		}
		if model := pickName(entry.UIModelName.String(), entry.ModelName.String()); model != "" {
			snapshot.Model = &model
		}
		if productID := entry.ProductID.String(); productID != "" {
			snapshot.ProductID = &productID
		}
		if firmware := entry.Firmware.String(); firmware != "" {
			snapshot.Firmware = &firmware
		}
		if ip := entry.IP.String(); ip != "" {
			snapshot.IP = &ip
		}
		if level, ok := entry.Level.Int(); ok {
			snapshot.Level = &level
		}
		if parent := pickName(entry.Parent2G.String(), entry.Parent5G.String()); parent != "" {
			formatted := router.FormatMAC(parent)
			snapshot.Parent = &formatted
		}

		snapshots[mac] = snapshot
	}
	return snapshots, nil
}

// cpuSample is the sum of cumulative jiffies over all cores.
type cpuSample struct {
	total uint64
	usage uint64
}

func parseCPUSample(raw json.RawMessage) (cpuSample, error) {
	values := map[string]flexString{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return cpuSample{}, fmt.Errorf("%w: cpu_usage: %s", ErrUnexpectedResponse, summarize(raw))
	}

	sample := cpuSample{}
	for key, value := range values {
		number, ok := value.Uint()
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(key, "_total"):
			sample.total += number
		case strings.HasSuffix(key, "_usage"):
			sample.usage += number
		}
	}
	return sample, nil
}

func fillMemory(report *router.SystemReport, raw json.RawMessage) error {
	var values struct {
		Total flexString `json:"mem_total"`
		Free  flexString `json:"mem_free"`
		Used  flexString `json:"mem_used"`
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("%w: memory_usage: %s", ErrUnexpectedResponse, summarize(raw))
	}

	total, totalOK := values.Total.Uint()
	used, usedOK := values.Used.Uint()

	// Reported in KB.
	if totalOK && total > 0 {
		totalBytes := total * 1024
		report.RAMTotal = &totalBytes
	}
	if usedOK {
		usedBytes := used * 1024
		report.RAMUsed = &usedBytes
	}
	if totalOK && usedOK && total > 0 {
		usage := math.Round(float64(used)/float64(total)*1000) / 10
		report.RAMUsage = &usage
	}
	return nil
}

var uptimePattern = regexp.MustCompile(`(\d+) secs since boot`)

// parseUptime extracts the boot counter from the uptime() hook, whose body
// is a prose timestamp rather than JSON.
func parseUptime(body []byte) (time.Duration, error) {
	matches := uptimePattern.FindSubmatch(body)
	if matches == nil {
		return 0, fmt.Errorf("%w: uptime: %s", ErrUnexpectedResponse, summarize(body))
	}

	seconds, err := strconv.ParseUint(string(matches[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: uptime: %s", ErrUnexpectedResponse, summarize(body))
	}
	return time.Duration(seconds) * time.Second, nil
}

var (
	coreTempPattern = regexp.MustCompile(`curr_coreTmp_(\w+?)(?:_raw)?\s*=\s*"(-?[0-9.]+)`)
	cpuTempPattern  = regexp.MustCompile(`curr_cpuTemp\s*=\s*"(-?[0-9.]+)`)
)

// Radio suffixes vary between firmware generations.
var temperatureLabels = map[string]string{
	"2":   "2.4GHz",
	"5":   "5GHz",
	"52":  "5GHz2",
	"cpu": "CPU",
	"wl0": "2.4GHz",
	"wl1": "5GHz",
	"wl2": "5GHz2",
	"wl3": "6GHz",
}

// parseTemperatures scrapes the ajax_coretmp.asp page, which is a set of
// JavaScript assignments rather than JSON.
func parseTemperatures(body []byte) map[string]float64 {
	temperatures := map[string]float64{}

	for _, matches := range coreTempPattern.FindAllSubmatch(body, -1) {
		value, err := strconv.ParseFloat(string(matches[2]), 64)
		if err != nil {
			continue
		}
		label := temperatureLabels[string(matches[1])]
		if label == "" {
			label = string(matches[1])
		}
		temperatures[label] = value
	}

	for _, matches := range cpuTempPattern.FindAllSubmatch(body, -1) {
		if value, err := strconv.ParseFloat(string(matches[1]), 64); err == nil {
			temperatures["CPU"] = value
		}
	}
	return temperatures
}

// Firmware encodes link state as a letter code per port; X means no link.
var portSpeeds = map[string]int{
	"M": 100,
	"G": 1000,
	"Q": 2500,
	"T": 10000,
}

func parsePortSpeeds(raw json.RawMessage) (*router.PortsReport, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty port list", ErrUnexpectedResponse)
	}

	ports := map[string]string{}
	var wrapped struct {
		PortSpeed map[string]string `json:"portSpeed"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.PortSpeed != nil {
		ports = wrapped.PortSpeed
	} else if err := json.Unmarshal(raw, &ports); err != nil {
		return nil, fmt.Errorf("%w: port list: %s", ErrUnexpectedResponse, summarize(raw))
	}

	report := &router.PortsReport{Ports: make(map[string]router.PortLink, len(ports))}
	for name, code := range ports {
		link := router.PortLink{}
		if speed, ok := portSpeeds[strings.TrimSpace(code)]; ok {
			link.Connected = true
			link.SpeedMbps = speed
		}
		report.Ports[strings.TrimSpace(name)] = link
	}
	return report, nil
}

func fillWANLink(report *router.WANReport, raw json.RawMessage) error {
	var values struct {
		Status  flexString `json:"wanlink_status"`
		Type    flexString `json:"wanlink_type"`
		IP      flexString `json:"wanlink_ipaddr"`
		Gateway flexString `json:"wanlink_gateway"`
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("%w: wanlink_state: %s", ErrUnexpectedResponse, summarize(raw))
	}

	if values.Status.String() != "" {
		connected := values.Status.String() == "1"
		report.Connected = &connected
	}
	if wanType := values.Type.String(); wanType != "" {
		report.Type = &wanType
	}
	if ip := values.IP.String(); ip != "" && ip != "0.0.0.0" {
		report.IP = &ip
	}
	if gateway := values.Gateway.String(); gateway != "" && gateway != "0.0.0.0" {
		report.Gateway = &gateway
	}
	return nil
}

// fillWANCounters reads the INTERNET interface counters from netdev; older
// firmware labels them WAN.
func fillWANCounters(report *router.WANReport, raw json.RawMessage) {
	values := map[string]flexString{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return
	}

	if rx, ok := hexCounter(values, "INTERNET_rx", "WAN_rx"); ok {
		report.RxBytes = &rx
	}
	if tx, ok := hexCounter(values, "INTERNET_tx", "WAN_tx"); ok {
		report.TxBytes = &tx
	}
}

func hexCounter(values map[string]flexString, names ...string) (uint64, bool) {
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			continue
		}
		text := strings.TrimPrefix(value.String(), "0x")
		if number, err := strconv.ParseUint(text, 16, 64); err == nil {
			return number, true
		}
	}
	return 0, false
}

// countListEntries counts non-empty chunks in the firmware's separator
// packed rule lists.
func countListEntries(value, separator string) int {
	count := 0
	for _, chunk := range strings.Split(value, separator) {
		if strings.TrimSpace(chunk) != "" {
			count++
		}
	}
	return count
}

// formatFirmware joins the nvram pieces into the display form, for example
// 3.0.0.4.388_24609.
func formatFirmware(firmver, buildno, extendno string) string {
	parts := []string{}
	if firmver != "" {
		parts = append(parts, firmver)
	}
	if buildno != "" {
		parts = append(parts, buildno)
	}

	version := strings.Join(parts, ".")
	if extendno != "" {
		if version != "" {
			version += "_" + extendno
		} else {
			version = extendno
		}
	}
	return version
}

// formatAvailableFirmware normalizes webs_state_info, which packs the
// version as 3004_388_24609-g..., into the same display form.
func formatAvailableFirmware(info string) string {
	info = strings.TrimSpace(info)
	if info == "" {
		return ""
	}

	parts := strings.SplitN(info, "_", 3)
	if len(parts) < 3 {
		return info
	}

	major := parts[0]
	if len(major) == 4 && !strings.Contains(major, ".") {
		major = strings.Join(strings.Split(major, ""), ".")
	}
	return major + "." + parts[1] + "_" + parts[2]
}

// modeFromNVRAM resolves the operation mode: re_mode marks an AiMesh node,
// otherwise sw_mode selects the base mode.
func modeFromNVRAM(swMode, reMode string) router.Mode {
	if strings.TrimSpace(reMode) == "1" {
		return router.ModeAiMeshNode
	}

	switch strings.TrimSpace(swMode) {
	case "1":
		return router.ModeRouter
	case "2":
		return router.ModeRepeater
	case "3":
		return router.ModeAccessPoint
	case "4":
		return router.ModeMediaBridge
	default:
		return router.ModeAuto
	}
}
