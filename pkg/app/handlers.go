package app

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/asuswrt"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/homeassistant"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

// commandTimeout bounds router control calls triggered from Home Assistant.
const commandTimeout = 30 * time.Second

// EventHandlers manages all event handling logic
type EventHandlers struct {
	logger *logrus.Logger
}

// NewEventHandlers creates a new event handlers instance
func NewEventHandlers(logger *logrus.Logger) *EventHandlers {
	return &EventHandlers{
		logger: logger,
	}
}

// SetupHandlers wires the monitor's results into the Home Assistant
// integration and Home Assistant commands back into the router.
func (h *EventHandlers) SetupHandlers(
	services *ServiceManager,
	haManager *homeassistant.Integration,
	monitor *router.Monitor,
	control *asuswrt.Client,
	routerCfg *config.RouterConfig,
) {
	monitor.SetOnReady(h.createReadyHandler(haManager, routerCfg))
	monitor.SetOnClients(h.createClientsHandler(haManager))
	monitor.SetOnNodes(h.createNodesHandler(haManager))
	monitor.SetOnSensors(h.createSensorsHandler(haManager))
	monitor.SetOnFirmware(h.createFirmwareHandler(haManager))
	monitor.SetEventSink(h.createEventHandler(haManager))

	haManager.SetOnRemoveTrackers(h.createRemoveTrackersHandler(services, haManager))
	haManager.SetOnLEDCommand(h.createSwitchHandler("LED", control.SetLED))
	haManager.SetOnParentalControlCommand(h.createSwitchHandler("parental control", control.SetParentalControl))
	haManager.SetOnPortForwardingCommand(h.createSwitchHandler("port forwarding", control.SetPortForwarding))
}

// createReadyHandler registers the router with Home Assistant once its
// identity is known.
func (h *EventHandlers) createReadyHandler(
	haManager *homeassistant.Integration,
	routerCfg *config.RouterConfig,
) func(router.Identity) {
	return func(identity router.Identity) {
		h.logger.WithFields(logrus.Fields{
			"model":    identity.Model,
			"firmware": identity.Firmware,
			"mac":      identity.MAC,
		}).Info("Router identity resolved")

		haManager.SetRouterInfo(identity, routerConfigURL(routerCfg))
	}
}

// createClientsHandler creates a handler for client reconciliation results
func (h *EventHandlers) createClientsHandler(haManager *homeassistant.Integration) func(router.ClientsUpdate) {
	return func(update router.ClientsUpdate) {
		if len(update.NewlyAdded) > 0 {
			h.logger.WithField("count", len(update.NewlyAdded)).Info("Discovered new devices")
		}
		haManager.UpdateClients(update)
	}
}

// createNodesHandler creates a handler for AiMesh reconciliation results
func (h *EventHandlers) createNodesHandler(haManager *homeassistant.Integration) func(router.NodesUpdate) {
	return func(update router.NodesUpdate) {
		if len(update.NewlyAdded) > 0 {
			h.logger.WithField("count", len(update.NewlyAdded)).Info("Discovered new AiMesh nodes")
		}
		haManager.UpdateNodes(update)
	}
}

// createSensorsHandler creates a handler for sensor pass results
func (h *EventHandlers) createSensorsHandler(haManager *homeassistant.Integration) func(router.SensorsUpdate) {
	return func(update router.SensorsUpdate) {
		haManager.UpdateSensors(update)
	}
}

// createFirmwareHandler creates a handler for firmware check results
func (h *EventHandlers) createFirmwareHandler(haManager *homeassistant.Integration) func(router.FirmwareReport) {
	return func(report router.FirmwareReport) {
		if report.UpdateAvailable {
			h.logger.WithField("available", report.Available).Info("Firmware update available")
		}
		haManager.UpdateFirmware(report)
	}
}

// createEventHandler forwards monitor lifecycle events to MQTT
func (h *EventHandlers) createEventHandler(haManager *homeassistant.Integration) func(string, map[string]any) {
	return func(event string, attributes map[string]any) {
		haManager.PublishEvent(event, attributes)
	}
}

// createRemoveTrackersHandler creates a handler for remove_trackers commands
// arriving from Home Assistant.
func (h *EventHandlers) createRemoveTrackersHandler(
	services *ServiceManager,
	haManager *homeassistant.Integration,
) func([]string) {
	return func(macs []string) {
		monitor := services.GetMonitor()
		if monitor == nil {
			h.logger.Error("Monitor service not available in remove_trackers handler")
			return
		}

		removed := monitor.RemoveTrackers(macs)
		if len(removed) == 0 {
			h.logger.Warn("remove_trackers command matched no tracked devices")
			return
		}
		haManager.RemoveClientTrackers(removed)
	}
}

// createSwitchHandler creates a handler that applies a Home Assistant switch
// command to the router.
func (h *EventHandlers) createSwitchHandler(what string, apply func(context.Context, bool) error) func(bool) {
	return func(enabled bool) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := apply(ctx, enabled); err != nil {
			h.logger.WithError(err).Errorf("Failed to apply %s command", what)
			return
		}
		h.logger.WithField("enabled", enabled).Infof("Applied %s command", what)
	}
}

// routerConfigURL builds the device configuration link shown in Home
// Assistant.
func routerConfigURL(cfg *config.RouterConfig) string {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	if cfg.Port == 0 {
		return fmt.Sprintf("%s://%s/", scheme, cfg.Host)
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}
