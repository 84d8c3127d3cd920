package app

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/asuswrt"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/homeassistant"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/mqtt"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

type Application struct {
	config   *config.Config
	logger   *logrus.Logger
	version  string
	services *ServiceManager
	handlers *EventHandlers
	control  *asuswrt.Client
}

func NewApplication(cfg *config.Config, logger *logrus.Logger, version string) *Application {
	app := &Application{
		config:  cfg,
		logger:  logger,
		version: version,
	}

	app.services = NewServiceManager(logger)
	app.handlers = NewEventHandlers(logger)

	return app
}

func (app *Application) Initialize() error {
	app.logger.Info("Initializing application components...")

	bridgeAvailabilityTopic := homeassistant.GenerateBridgeAvailabilityTopic(&app.config.HomeAssistant)

	mqttClient, err := mqtt.NewClient(
		&app.config.MQTT,
		bridgeAvailabilityTopic,
		app.logger,
	)
	if err != nil {
		return err
	}

	haManager := homeassistant.NewIntegration(
		mqttClient,
		&app.config.HomeAssistant,
		app.config.MQTT.TopicPrefix,
		app.version,
		app.logger,
	)

	app.control = asuswrt.NewClient(asuswrt.Config{
		Host:               app.config.Router.Host,
		Port:               app.config.Router.Port,
		Username:           app.config.Router.Username,
		Password:           app.config.Router.Password,
		UseSSL:             app.config.Router.UseSSL,
		InsecureSkipVerify: app.config.Router.InsecureSkipVerify,
	}, app.logger)

	monitor := router.NewMonitor(app.control, app.config.MonitorOptions(), app.logger)
	monitor.SetRetryDelay(5 * time.Second)

	app.services.Register("mqtt", mqttClient)
	app.services.Register("homeassistant", haManager)
	app.services.Register("monitor", monitor)

	app.handlers.SetupHandlers(app.services, haManager, monitor, app.control, &app.config.Router)

	return nil
}

func (app *Application) Start() error {
	return app.services.StartAll()
}

func (app *Application) Stop() error {
	err := app.services.StopAll()

	if app.control != nil {
		if closeErr := app.control.Close(); closeErr != nil {
			app.logger.WithError(closeErr).Debug("Router session logout failed")
		}
	}

	return err
}
