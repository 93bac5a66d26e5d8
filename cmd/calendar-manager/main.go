package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log" // Standard log for initial bootstrap
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/api"
	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
	"github.com/wenjunxiao/trade-calendar/go_src/database"
	"github.com/wenjunxiao/trade-calendar/go_src/holiday_source"
	"github.com/wenjunxiao/trade-calendar/go_src/logging_helper"
	"github.com/wenjunxiao/trade-calendar/go_src/metrics"
	"github.com/wenjunxiao/trade-calendar/go_src/mq_events"
	"github.com/wenjunxiao/trade-calendar/go_src/scheduler"
	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

const (
	appName           = "calendar-manager"
	configPathEnvVar  = "TRADE_CALENDAR_CONFIG_PATH"
	defaultConfigPath = "./config/config.yaml"
	defaultServerAddr = ":8080"
)

// services holds the connections shared by every calendar.
type services struct {
	db      *database.CalendarDB
	redis   holiday_source.RedisClient
	closers []io.Closer
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logrus.Warnf("Error while closing %T: %v", s.closers[i], err)
		}
	}
}

func (s *services) dependencies() holiday_source.Dependencies {
	deps := holiday_source.Dependencies{Redis: s.redis}
	if s.db != nil {
		deps.Store = database.NewHolidayManager(s.db)
	}
	return deps
}

// openServices connects the database and redis when the configuration uses them.
func openServices(ctx context.Context, cfg *configuration.Config) (*services, error) {
	s := &services{}
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database.Driver, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.closers = append(s.closers, db)
		if err := database.NewHolidayManager(db).CreateSchemaHolidays(); err != nil {
			s.Close()
			return nil, err
		}
		logrus.Infof("Holiday store opened (%s at %s).", db.Driver(), cfg.Database.Path)
	}
	if cfg.Redis.Addr != "" {
		client, err := holiday_source.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = client
		s.closers = append(s.closers, client)
		logrus.Infof("Redis holiday cache connected at %s.", cfg.Redis.Addr)
	}
	return s, nil
}

// eventSinks builds the configured event consumers, each counted by m.
func eventSinks(cfg *configuration.Config, svc *services, hub *api.Hub, m *metrics.Metrics) ([]calendar_manager.EventSink, error) {
	var sinks []calendar_manager.EventSink
	if cfg.Database.Enabled && cfg.Database.Journal && svc.db != nil {
		journal := database.NewEventJournal(svc.db)
		if err := journal.CreateSchemaEvents(); err != nil {
			return nil, err
		}
		sinks = append(sinks, m.CountFailures("journal", journal))
	}
	if cfg.RabbitMQ.Enabled {
		publisher, err := mq_events.DialRabbit(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, publisher)
		sinks = append(sinks, m.CountFailures("rabbitmq", publisher))
	}
	if cfg.Kafka.Enabled {
		publisher := mq_events.NewKafkaPublisher(mq_events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.MaxAttempts), cfg.Kafka.Topic)
		svc.closers = append(svc.closers, publisher)
		sinks = append(sinks, m.CountFailures("kafka", publisher))
	}
	if hub != nil {
		sinks = append(sinks, m.CountFailures("websocket", hub))
	}
	sinks = append(sinks, calendar_manager.EventSinkFunc(func(ctx context.Context, ev calendar_manager.Event) error {
		logrus.WithField("calendar", ev.Calendar).Info(ev.String())
		return nil
	}))
	return sinks, nil
}

// startCalendars builds and starts every configured calendar. A configuration
// error stops startup; a calendar whose first resolution fails is logged and skipped.
func startCalendars(ctx context.Context, cfg *configuration.Config, mgr *calendar_manager.Manager, svc *services) (int, error) {
	sessions := cfg.CalendarConfigs()
	started := 0
	for _, settings := range cfg.Calendars {
		session := sessions[settings.Name]
		src, err := holiday_source.FromSettings(settings, session, svc.dependencies())
		if err != nil {
			return started, err
		}
		cal, err := calendar.New(session, src, calendar.WithName(settings.Name))
		if err != nil {
			return started, fmt.Errorf("calendar %s: %w", settings.Name, err)
		}
		if err := mgr.Start(ctx, settings.Name, cal); err != nil {
			if trade_exceptions.IsConfigurationError(err) {
				return started, err
			}
			logrus.Errorf("Calendar %s: failed to start: %v", settings.Name, err)
			continue
		}
		started++
	}
	return started, nil
}

func heartbeat(mgr *calendar_manager.Manager) func() {
	return func() {
		for _, name := range mgr.Names() {
			st, ok := mgr.State(name)
			if !ok {
				continue
			}
			entry := logrus.WithFields(logrus.Fields{
				"calendar":   name,
				"trade_date": st.TradeDate,
				"next":       st.NextTradeDate,
				"pending":    len(st.Pending),
			})
			if st.Retrying {
				entry.Warnf("Heartbeat: retrying after error: %s", st.LastError)
			} else {
				entry.Info("Heartbeat")
			}
		}
	}
}

func main() {
	stdlog.Printf("Starting %s application...", appName)

	configuration.LoadDotEnv()
	configPath := os.Getenv(configPathEnvVar)
	if configPath == "" {
		stdlog.Printf("Environment variable %s not set, using default config path: %s", configPathEnvVar, defaultConfigPath)
		configPath = defaultConfigPath
	}
	cfg, err := configuration.LoadConfig(configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration from %s: %v", configPath, err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}
	aead, err := cfg.SecretsCipher()
	if err != nil {
		stdlog.Fatalf("Failed to initialize secrets cipher: %v", err)
	}
	if err := cfg.DecryptSecrets(aead); err != nil {
		stdlog.Fatalf("Failed to decrypt configuration secrets: %v", err)
	}
	stdlog.Println("Configuration loaded successfully.")

	logCloser, err := logging_helper.SetupLogging(cfg.Logging, appName)
	if err != nil {
		stdlog.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	logrus.Info("Logging has been initialized.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := openServices(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to open services: %v", err)
	}
	defer svc.Close()

	host, err := scheduler.NewHost(scheduler.WithLocation(calendar.LoadLocation(cfg.Scheduler.DefaultTimezone)))
	if err != nil {
		logrus.Fatalf("Failed to create scheduler: %v", err)
	}

	m := metrics.New("trade_calendar")
	var hub *api.Hub
	if cfg.Server.Enabled {
		hub = api.NewHub()
	}
	sinks, err := eventSinks(cfg, svc, hub, m)
	if err != nil {
		logrus.Fatalf("Failed to create event sinks: %v", err)
	}

	mgr := calendar_manager.New(host,
		calendar_manager.WithSink(sinks...),
		calendar_manager.WithRecorder(m),
		calendar_manager.WithRetryInterval(configuration.Duration(cfg.Scheduler.RetryInterval, calendar_manager.DefaultRetryInterval)),
		calendar_manager.WithResolveTimeout(configuration.Duration(cfg.Scheduler.ResolveTimeout, calendar_manager.DefaultResolveTimeout)),
	)
	host.Start()
	logrus.Info("Scheduler started.")

	started, err := startCalendars(ctx, cfg, mgr, svc)
	if err != nil {
		logrus.Fatalf("Invalid calendar configuration: %v", err)
	}
	if started == 0 {
		logrus.Fatalf("No calendar could be started")
	}

	if _, err := host.Every("Heartbeat", configuration.Duration(cfg.Scheduler.HeartbeatInterval, time.Minute), heartbeat(mgr)); err != nil {
		logrus.Errorf("Failed to schedule heartbeat: %v", err)
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		addr := cfg.Server.Addr
		if addr == "" {
			addr = defaultServerAddr
		}
		srv = &http.Server{Addr: addr, Handler: api.NewServer(mgr, hub, m.Handler()), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("HTTP server error: %v", err)
			}
		}()
		logrus.Infof("HTTP API listening on %s.", addr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutdown signal received...")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("HTTP server shutdown error: %v", err)
		}
		shutdownCancel()
		hub.Close()
	}
	mgr.StopAll()
	if err := host.Shutdown(); err != nil {
		logrus.Errorf("Scheduler shutdown error: %v", err)
	}
	logrus.Info("Calendar manager shut down gracefully.")
}
