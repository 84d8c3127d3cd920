package asuswrt

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/common"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

// Web API endpoints shared by all ASUSWRT firmware generations.
const (
	loginPath       = "/login.cgi"
	logoutPath      = "/Logout.asp"
	hookPath        = "/appGet.cgi"
	applyPath       = "/applyapp.cgi"
	temperaturePath = "/ajax_coretmp.asp"
)

// Config describes how to reach one router.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseSSL             bool
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to the ASUSWRT web API of a single router and exposes the
// results as snapshots and reports. Safe for concurrent use.
type Client struct {
	config  Config
	baseURL string
	logger  *logrus.Logger

	httpClient *http.Client

	sessionMu sync.Mutex
	token     string

	cpuMu   sync.Mutex
	prevCPU *cpuSample
}

var _ router.Source = (*Client)(nil)

// NewClient creates a client for one router. The session is established
// lazily on the first request.
func NewClient(config Config, logger *logrus.Logger) *Client {
	scheme := "http"
	port := config.Port
	if config.UseSSL {
		scheme = "https"
		if port == 0 {
			port = 8443
		}
	} else if port == 0 {
		port = 80
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	transport := &http.Transport{}
	if config.UseSSL && config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		config:  config,
		baseURL: scheme + "://" + net.JoinHostPort(config.Host, strconv.Itoa(port)),
		logger:  logger,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			// Expired sessions answer with a redirect to the login page;
			// keeping the raw 3xx lets us detect that instead of following it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Identity implements router.Source.
func (c *Client) Identity(ctx context.Context) (*router.Identity, error) {
	values, err := c.nvram(ctx,
		"productid", "odmpid", "lan_hwaddr", "serial_no",
		"firmver", "buildno", "extendno", "sw_mode", "re_mode",
	)
	if err != nil {
		return nil, err
	}

	model := values["odmpid"]
	if model == "" {
		model = values["productid"]
	}

	return &router.Identity{
		Model:     model,
		ProductID: values["productid"],
		Brand:     "ASUSTek",
		Firmware:  formatFirmware(values["firmver"], values["buildno"], values["extendno"]),
		MAC:       router.FormatMAC(values["lan_hwaddr"]),
		Serial:    values["serial_no"],
		Mode:      modeFromNVRAM(values["sw_mode"], values["re_mode"]),
	}, nil
}

// Clients implements router.Source.
func (c *Client) Clients(ctx context.Context) (map[string]router.ClientSnapshot, error) {
	raw, err := c.hook(ctx, "get_clientlist()")
	if err != nil {
		return nil, err
	}
	return parseClientList(hookObject(raw, "get_clientlist"), time.Now())
}

// MeshNodes implements router.Source.
func (c *Client) MeshNodes(ctx context.Context) (map[string]router.NodeSnapshot, error) {
	raw, err := c.hook(ctx, "get_cfg_clientlist()")
	if err != nil {
		return nil, err
	}
	return parseMeshNodes(hookObject(raw, "get_cfg_clientlist"))
}

// System implements router.Source.
func (c *Client) System(ctx context.Context) (*router.SystemReport, error) {
	raw, err := c.hook(ctx, "cpu_usage(appobj);memory_usage(appobj);nvram_get(led_val)")
	if err != nil {
		return nil, err
	}

	report := &router.SystemReport{}

	if message, ok := raw["cpu_usage"]; ok {
		sample, err := parseCPUSample(message)
		if err != nil {
			return nil, err
		}
		report.CPUUsage = c.cpuPercent(sample)
	}

	if message, ok := raw["memory_usage"]; ok {
		if err := fillMemory(report, message); err != nil {
			return nil, err
		}
	}

	if message, ok := raw["led_val"]; ok {
		var value string
		if err := json.Unmarshal(message, &value); err == nil && value != "" {
			led := value != "0"
			report.LED = &led
		}
	}

	uptime, err := c.uptime(ctx)
	if err != nil {
		return nil, err
	}
	if uptime > 0 {
		boot := time.Now().Add(-uptime).Truncate(time.Second)
		report.Uptime = &uptime
		report.BootTime = &boot
	}

	// Not every model exposes temperature sensors.
	temperatures, err := c.temperatures(ctx)
	if err != nil {
		c.logger.Debugf("Temperature readout unavailable: %v", err)
	} else {
		report.Temperatures = temperatures
	}

	return report, nil
}

// WAN implements router.Source.
func (c *Client) WAN(ctx context.Context) (*router.WANReport, error) {
	raw, err := c.hook(ctx, "wanlink_state(appobj);netdev(appobj)")
	if err != nil {
		return nil, err
	}

	report := &router.WANReport{}
	if message, ok := raw["wanlink_state"]; ok {
		if err := fillWANLink(report, message); err != nil {
			return nil, err
		}
	}
	if message, ok := raw["netdev"]; ok {
		fillWANCounters(report, message)
	}
	return report, nil
}

// Ports implements router.Source.
func (c *Client) Ports(ctx context.Context) (*router.PortsReport, error) {
	raw, err := c.hook(ctx, "get_ethernet_ports()")
	if err != nil {
		return nil, err
	}
	return parsePortSpeeds(hookObject(raw, "get_ethernet_ports"))
}

// Protection implements router.Source.
func (c *Client) Protection(ctx context.Context) (*router.ProtectionReport, error) {
	values, err := c.nvram(ctx, "MULTIFILTER_ALL", "MULTIFILTER_MAC", "vts_enable_x", "vts_rulelist")
	if err != nil {
		return nil, err
	}

	report := &router.ProtectionReport{}
	if value, ok := values["MULTIFILTER_ALL"]; ok && value != "" {
		enabled := value != "0"
		rules := countListEntries(values["MULTIFILTER_MAC"], ">")
		report.ParentalControl = &enabled
		report.ParentalControlRules = &rules
	}
	if value, ok := values["vts_enable_x"]; ok && value != "" {
		enabled := value != "0"
		rules := countListEntries(values["vts_rulelist"], "<")
		report.PortForwarding = &enabled
		report.PortForwardingRules = &rules
	}
	return report, nil
}

// Firmware implements router.Source.
func (c *Client) Firmware(ctx context.Context) (*router.FirmwareReport, error) {
	values, err := c.nvram(ctx, "firmver", "buildno", "extendno", "webs_state_info", "webs_state_flag")
	if err != nil {
		return nil, err
	}

	flag := values["webs_state_flag"]
	return &router.FirmwareReport{
		Current:         formatFirmware(values["firmver"], values["buildno"], values["extendno"]),
		Available:       formatAvailableFirmware(values["webs_state_info"]),
		UpdateAvailable: flag == "1" || flag == "2",
	}, nil
}

// SetLED switches the router LEDs and restarts the LED service.
func (c *Client) SetLED(ctx context.Context, enabled bool) error {
	return c.apply(ctx, "restart_leds", url.Values{"led_val": {boolValue(enabled)}})
}

// SetParentalControl toggles parental control and reloads the firewall.
func (c *Client) SetParentalControl(ctx context.Context, enabled bool) error {
	return c.apply(ctx, "restart_firewall", url.Values{"MULTIFILTER_ALL": {boolValue(enabled)}})
}

// SetPortForwarding toggles port forwarding and reloads the firewall.
func (c *Client) SetPortForwarding(ctx context.Context, enabled bool) error {
	return c.apply(ctx, "restart_firewall", url.Values{"vts_enable_x": {boolValue(enabled)}})
}

// Close logs out of the router session. Best effort; the token is dropped
// either way.
func (c *Client) Close() error {
	c.sessionMu.Lock()
	token := c.token
	c.token = ""
	c.sessionMu.Unlock()

	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+logoutPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", common.UserAgent())
	req.AddCookie(&http.Cookie{Name: "asus_token", Value: token})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.logger.Debugf("Logged out of %s", c.config.Host)
	return nil
}

func (c *Client) uptime(ctx context.Context) (time.Duration, error) {
	body, err := c.request(ctx, http.MethodGet, hookPath+"?hook="+url.QueryEscape("uptime()"), nil)
	if err != nil {
		return 0, err
	}
	return parseUptime(body)
}

func (c *Client) temperatures(ctx context.Context) (map[string]float64, error) {
	body, err := c.request(ctx, http.MethodGet, temperaturePath, nil)
	if err != nil {
		return nil, err
	}
	return parseTemperatures(body), nil
}

// cpuPercent converts cumulative jiffies into a usage percentage against
// the previous sample. The first sample has no baseline and yields nil, as
// does a counter reset after a router reboot.
func (c *Client) cpuPercent(sample cpuSample) *float64 {
	c.cpuMu.Lock()
	defer c.cpuMu.Unlock()

	previous := c.prevCPU
	c.prevCPU = &sample

	if previous == nil || sample.total <= previous.total || sample.usage < previous.usage {
		return nil
	}

	usage := float64(sample.usage-previous.usage) / float64(sample.total-previous.total) * 100
	if usage > 100 {
		usage = 100
	}
	rounded := math.Round(usage*10) / 10
	return &rounded
}

// hook runs one or more semicolon-joined appGet hooks and returns the
// decoded top-level object.
func (c *Client) hook(ctx context.Context, hooks string) (map[string]json.RawMessage, error) {
	path := hookPath + "?hook=" + url.QueryEscape(hooks)
	body, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	result := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: hook %q: %s", ErrUnexpectedResponse, hooks, summarize(body))
	}
	return result, nil
}

// nvram fetches the named nvram variables in a single round trip.
func (c *Client) nvram(ctx context.Context, names ...string) (map[string]string, error) {
	hooks := make([]string, 0, len(names))
	for _, name := range names {
		hooks = append(hooks, fmt.Sprintf("nvram_get(%s)", name))
	}

	raw, err := c.hook(ctx, strings.Join(hooks, ";"))
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		if message, ok := raw[name]; ok {
			var value string
			if err := json.Unmarshal(message, &value); err == nil {
				values[name] = value
			}
		}
	}
	return values, nil
}

func (c *Client) apply(ctx context.Context, service string, settings url.Values) error {
	form := url.Values{}
	form.Set("action_mode", "apply")
	form.Set("rc_service", service)
	for name, values := range settings {
		for _, value := range values {
			form.Add(name, value)
		}
	}

	body, err := c.request(ctx, http.MethodPost, applyPath, form)
	if err != nil {
		return err
	}
	if bytes.Contains(body, []byte("error_status")) {
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, summarize(body))
	}

	c.logger.Debugf("Applied %s on %s", service, c.config.Host)
	return nil
}

// request performs one authorized call, logging in on first use and once
// more when the router reports the session expired.
func (c *Client) request(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.token == "" {
		if err := c.loginLocked(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.requestLocked(ctx, method, path, form)
	if errors.Is(err, ErrSessionExpired) {
		c.logger.Debugf("Session with %s expired, logging in again", c.config.Host)
		c.token = ""
		if err := c.loginLocked(ctx); err != nil {
			return nil, err
		}
		body, err = c.requestLocked(ctx, method, path, form)
	}
	return body, err
}

func (c *Client) requestLocked(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", common.UserAgent())
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.AddCookie(&http.Cookie{Name: "asus_token", Value: c.token})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if sessionExpired(resp.StatusCode, body) {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrUnexpectedResponse, resp.StatusCode, path)
	}
	return body, nil
}

// loginLocked authenticates and stores the session token. Callers hold
// sessionMu.
func (c *Client) loginLocked(ctx context.Context) error {
	authorization := base64.StdEncoding.EncodeToString([]byte(c.config.Username + ":" + c.config.Password))
	form := url.Values{"login_authorization": {authorization}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", common.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var result struct {
		Token       string `json:"asus_token"`
		ErrorStatus string `json:"error_status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, summarize(body))
	}

	switch result.ErrorStatus {
	case "":
	case "3":
		return ErrInvalidCredentials
	case "7":
		return ErrLoginBlocked
	default:
		return fmt.Errorf("%w: login error status %s", ErrUnexpectedResponse, result.ErrorStatus)
	}
	if result.Token == "" {
		return fmt.Errorf("%w: login response carried no token", ErrUnexpectedResponse)
	}

	c.token = result.Token
	c.logger.Debugf("Authenticated against %s", c.config.Host)
	return nil
}

// sessionExpired detects the firmware's ways of refusing a stale token: a
// redirect to the login page or an error_status body.
func sessionExpired(status int, body []byte) bool {
	if status == http.StatusFound || status == http.StatusSeeOther {
		return true
	}
	if bytes.Contains(body, []byte("Main_Login.asp")) {
		return true
	}
	return bytes.Contains(body, []byte(`"error_status":"2"`))
}

// hookObject extracts the named hook result, falling back to the whole
// response for firmware generations that skip the wrapper object.
func hookObject(raw map[string]json.RawMessage, name string) json.RawMessage {
	if message, ok := raw[name]; ok {
		return message
	}
	whole, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return whole
}

// summarize trims a response body for inclusion in error messages.
func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	if text == "" {
		return "empty body"
	}
	return text
}

func boolValue(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}
