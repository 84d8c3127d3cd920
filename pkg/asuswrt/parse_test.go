package asuswrt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

func TestParseClientList(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"maclist": ["AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02", "AA:BB:CC:DD:EE:03"],
		"ClientAPILevel": "3",
		"AA:BB:CC:DD:EE:01": {
			"name": "desktop",
			"nickName": "",
			"ip": "192.168.1.10",
			"mac": "AA:BB:CC:DD:EE:01",
			"vendor": "Intel",
			"isOnline": "1",
			"isWL": "0",
			"isGuest": "0",
			"rssi": "0"
		},
		"AA:BB:CC:DD:EE:02": {
			"name": "android-phone",
			"nickName": "Johns Phone",
			"ip": "192.168.1.11",
			"mac": "AA:BB:CC:DD:EE:02",
			"vendor": "Samsung",
			"isOnline": 1,
			"isWL": "2",
			"isGuest": "1",
			"rssi": -58,
			"wlConnectTime": "1:02:03",
			"amesh_papMac": "11:22:33:44:55:66"
		},
		"AA:BB:CC:DD:EE:03": {
			"name": "",
			"ip": "",
			"mac": "AA:BB:CC:DD:EE:03",
			"vendor": "Espressif",
			"isOnline": "0",
			"isWL": "1",
			"rssi": ""
		}
	}`)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshots, err := parseClientList(raw, now)
	require.NoError(t, err)
	require.Len(t, snapshots, 3)

	desktop := snapshots["aa:bb:cc:dd:ee:01"]
	assert.Equal(t, "aa:bb:cc:dd:ee:01", desktop.MAC)
	assert.True(t, desktop.Connected)
	assert.Equal(t, router.ConnectionWired, desktop.Connection)
	require.NotNil(t, desktop.Name)
	assert.Equal(t, "desktop", *desktop.Name)
	assert.Nil(t, desktop.RSSI, "wired clients carry no signal strength")
	assert.Nil(t, desktop.ConnectedAt)

	phone := snapshots["aa:bb:cc:dd:ee:02"]
	assert.True(t, phone.Connected)
	assert.Equal(t, router.ConnectionWireless5G, phone.Connection)
	require.NotNil(t, phone.Name)
	assert.Equal(t, "Johns Phone", *phone.Name, "nickname wins over hostname")
	require.NotNil(t, phone.RSSI)
	assert.Equal(t, -58, *phone.RSSI)
	require.NotNil(t, phone.Guest)
	assert.True(t, *phone.Guest)
	require.NotNil(t, phone.Node)
	assert.Equal(t, "11:22:33:44:55:66", *phone.Node)
	require.NotNil(t, phone.ConnectedAt)
	assert.Equal(t, now.Add(-(time.Hour + 2*time.Minute + 3*time.Second)), *phone.ConnectedAt)

	sensor := snapshots["aa:bb:cc:dd:ee:03"]
	assert.False(t, sensor.Connected)
	require.NotNil(t, sensor.Name)
	assert.Equal(t, "Espressif", *sensor.Name, "vendor is the last name fallback")
	assert.Nil(t, sensor.RSSI)
	assert.Nil(t, sensor.ConnectedAt, "offline clients carry no connection time")
}

func TestParseClientListFallsBackToKeyMAC(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"AA:BB:CC:DD:EE:01": {"isOnline": "1", "isWL": "0"}
	}`)

	snapshots, err := parseClientList(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Contains(t, snapshots, "aa:bb:cc:dd:ee:01")
}

func TestParseClientListSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"queryTime": "1709294400",
		"AA:BB:CC:DD:EE:01": {"isOnline": "1", "isWL": "0"}
	}`)

	snapshots, err := parseClientList(raw, time.Now())
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestParseClientListRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseClientList(nil, time.Now())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = parseClientList(json.RawMessage(`<html>login</html>`), time.Now())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestConnectionFromWL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value    string
		expected router.ConnectionType
	}{
		{"0", router.ConnectionWired},
		{"1", router.ConnectionWireless2G},
		{"2", router.ConnectionWireless5G},
		{"3", router.ConnectionWireless5G},
		{"4", router.ConnectionWireless6G},
		{"", router.ConnectionUnknown},
		{"9", router.ConnectionUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, connectionFromWL(tt.value), "isWL %q", tt.value)
	}
}

func TestParseWLConnectTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	connectedAt, ok := parseWLConnectTime("123:04:05", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-(123*time.Hour + 4*time.Minute + 5*time.Second)), connectedAt)

	_, ok = parseWLConnectTime("1:2:3", now)
	assert.False(t, ok)

	_, ok = parseWLConnectTime("", now)
	assert.False(t, ok)
}

func TestParseMeshNodes(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`[
		{
			"alias": "Living Room",
			"model_name": "RT-AX88U",
			"ui_model_name": "",
			"product_id": "RT-AX88U",
			"fwver": "3.0.0.4.388_24609",
			"ip": "192.168.1.1",
			"mac": "AA:BB:CC:DD:EE:00",
			"online": "1",
			"level": "0"
		},
		{
			"alias": "Bedroom",
			"model_name": "RT-AX58U",
			"ui_model_name": "RT-AX58U v2",
			"fwver": "3.0.0.4.388_24000",
			"ip": "192.168.1.2",
			"mac": "11:22:33:44:55:66",
			"online": "0",
			"level": "1",
			"pap5g": "AA:BB:CC:DD:EE:00"
		}
	]`)

	snapshots, err := parseMeshNodes(raw)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	root := snapshots["aa:bb:cc:dd:ee:00"]
	assert.True(t, root.Connected)
	require.NotNil(t, root.Level)
	assert.Equal(t, 0, *root.Level)
	assert.Nil(t, root.Parent)

	bedroom := snapshots["11:22:33:44:55:66"]
	assert.False(t, bedroom.Connected)
	require.NotNil(t, bedroom.Model)
	assert.Equal(t, "RT-AX58U v2", *bedroom.Model, "UI model name wins")
	require.NotNil(t, bedroom.Parent)
	assert.Equal(t, "aa:bb:cc:dd:ee:00", *bedroom.Parent)
}

func TestParseMeshNodesRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseMeshNodes(nil)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, err = parseMeshNodes(json.RawMessage(`{"not":"a list"}`))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestParseCPUSample(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{
		"cpu1_total": "12000",
		"cpu1_usage": "3000",
		"cpu2_total": 8000,
		"cpu2_usage": 1000,
		"cpu_note": "ignored"
	}`)

	sample, err := parseCPUSample(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(20000), sample.total)
	assert.Equal(t, uint64(4000), sample.usage)
}

func TestFillMemory(t *testing.T) {
	t.Parallel()

	report := &router.SystemReport{}
	err := fillMemory(report, json.RawMessage(`{
		"mem_total": "1024",
		"mem_free": "691",
		"mem_used": "333"
	}`))
	require.NoError(t, err)

	require.NotNil(t, report.RAMTotal)
	assert.Equal(t, uint64(1024*1024), *report.RAMTotal, "values are reported in KB")
	require.NotNil(t, report.RAMUsed)
	assert.Equal(t, uint64(333*1024), *report.RAMUsed)
	require.NotNil(t, report.RAMUsage)
	assert.InDelta(t, 32.5, *report.RAMUsage, 0.001)
}

func TestFillMemoryPartial(t *testing.T) {
	t.Parallel()

	report := &router.SystemReport{}
	err := fillMemory(report, json.RawMessage(`{"mem_total": "1024"}`))
	require.NoError(t, err)

	assert.NotNil(t, report.RAMTotal)
	assert.Nil(t, report.RAMUsed)
	assert.Nil(t, report.RAMUsage)
}

func TestParseUptime(t *testing.T) {
	t.Parallel()

	body := []byte(`uptime();
Sat, 01 Mar 2025 12:00:00 +0100(1234567 secs since boot)`)

	uptime, err := parseUptime(body)
	require.NoError(t, err)
	assert.Equal(t, 1234567*time.Second, uptime)

	_, err = parseUptime([]byte("nonsense"))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestParseTemperatures(t *testing.T) {
	t.Parallel()

	body := []byte(`
curr_coreTmp_2_raw = "44.0&deg;C";
curr_coreTmp_5_raw = "disabled";
curr_coreTmp_wl3_raw = "51";
curr_cpuTemp = "65.5";
`)

	temperatures := parseTemperatures(body)

	assert.Equal(t, map[string]float64{
		"2.4GHz": 44.0,
		"6GHz":   51,
		"CPU":    65.5,
	}, temperatures)
}

func TestParsePortSpeeds(t *testing.T) {
	t.Parallel()

	wrapped := json.RawMessage(`{"portSpeed": {"WAN 0": "G", "LAN 1": "X", "LAN 2": "M", "LAN 3": "Q"}}`)
	report, err := parsePortSpeeds(wrapped)
	require.NoError(t, err)

	assert.Equal(t, 3, report.ConnectedCount())
	assert.Equal(t, router.PortLink{Connected: true, SpeedMbps: 1000}, report.Ports["WAN 0"])
	assert.Equal(t, router.PortLink{}, report.Ports["LAN 1"])
	assert.Equal(t, router.PortLink{Connected: true, SpeedMbps: 100}, report.Ports["LAN 2"])
	assert.Equal(t, router.PortLink{Connected: true, SpeedMbps: 2500}, report.Ports["LAN 3"])

	// Older firmware answers without the wrapper object.
	flat := json.RawMessage(`{"WAN 0": "G"}`)
	report, err = parsePortSpeeds(flat)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ConnectedCount())
}

func TestFillWANLink(t *testing.T) {
	t.Parallel()

	report := &router.WANReport{}
	err := fillWANLink(report, json.RawMessage(`{
		"wanlink_status": 1,
		"wanlink_type": "dhcp",
		"wanlink_ipaddr": "203.0.113.5",
		"wanlink_gateway": "0.0.0.0"
	}`))
	require.NoError(t, err)

	require.NotNil(t, report.Connected)
	assert.True(t, *report.Connected)
	require.NotNil(t, report.Type)
	assert.Equal(t, "dhcp", *report.Type)
	require.NotNil(t, report.IP)
	assert.Equal(t, "203.0.113.5", *report.IP)
	assert.Nil(t, report.Gateway, "placeholder addresses are dropped")
}

func TestFillWANCounters(t *testing.T) {
	t.Parallel()

	report := &router.WANReport{}
	fillWANCounters(report, json.RawMessage(`{
		"INTERNET_rx": "0x1A2B",
		"INTERNET_tx": "3C4D",
		"BRIDGE_rx": "0xFF"
	}`))

	require.NotNil(t, report.RxBytes)
	assert.Equal(t, uint64(0x1A2B), *report.RxBytes)
	require.NotNil(t, report.TxBytes)
	assert.Equal(t, uint64(0x3C4D), *report.TxBytes)

	// Older firmware labels the uplink WAN instead of INTERNET.
	legacy := &router.WANReport{}
	fillWANCounters(legacy, json.RawMessage(`{"WAN_rx": "0x10", "WAN_tx": "0x20"}`))
	require.NotNil(t, legacy.RxBytes)
	assert.Equal(t, uint64(16), *legacy.RxBytes)
}

func TestCountListEntries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, countListEntries(">aa:bb:cc:dd:ee:01>aa:bb:cc:dd:ee:02", ">"))
	assert.Equal(t, 3, countListEntries("<a<b<c", "<"))
	assert.Equal(t, 0, countListEntries("", "<"))
	assert.Equal(t, 1, countListEntries("single", ">"))
}

func TestFormatFirmware(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3.0.0.4.388_24609", formatFirmware("3.0.0.4", "388", "24609"))
	assert.Equal(t, "3.0.0.4.388", formatFirmware("3.0.0.4", "388", ""))
	assert.Equal(t, "388_24609", formatFirmware("", "388", "24609"))
	assert.Equal(t, "", formatFirmware("", "", ""))
}

func TestFormatAvailableFirmware(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3.0.0.4.388_24609", formatAvailableFirmware("3004_388_24609"))
	assert.Equal(t, "3.0.0.4.388_25000-g12345", formatAvailableFirmware("3004_388_25000-g12345"))
	assert.Equal(t, "9.0.0.4.388_24609", formatAvailableFirmware("9.0.0.4_388_24609"))
	assert.Equal(t, "388_24609", formatAvailableFirmware("388_24609"))
	assert.Equal(t, "", formatAvailableFirmware(""))
}

func TestModeFromNVRAM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		swMode   string
		reMode   string
		expected router.Mode
	}{
		{"1", "0", router.ModeRouter},
		{"2", "0", router.ModeRepeater},
		{"3", "0", router.ModeAccessPoint},
		{"4", "0", router.ModeMediaBridge},
		{"1", "1", router.ModeAiMeshNode},
		{"", "", router.ModeAuto},
		{"99", "0", router.ModeAuto},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, modeFromNVRAM(tt.swMode, tt.reMode),
			"sw_mode %q re_mode %q", tt.swMode, tt.reMode)
	}
}
