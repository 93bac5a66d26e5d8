package main

import (
	"context"
	"crypto/cipher"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
	"github.com/wenjunxiao/trade-calendar/go_src/database"
	"github.com/wenjunxiao/trade-calendar/go_src/holiday_source"
	"github.com/wenjunxiao/trade-calendar/go_src/logging_helper"
	"github.com/wenjunxiao/trade-calendar/go_src/secrets"
)

const (
	appName           = "calendar-query"
	configPathEnvVar  = "TRADE_CALENDAR_CONFIG_PATH"
	defaultConfigPath = "./config/config.yaml"
	queryTimeout      = 30 * time.Second
)

const usage = `usage: calendar-query <command> [args]

  timeinfo <calendar> [date] [direction]      trade date and sessions in calendar time
  realtimeinfo <calendar> [date] [direction]  same, in real time
  today <calendar>                            current calendar time and date
  boundaries <calendar> [date]                session boundaries of a trade date
  holidays <calendar> <from> <to>             holidays between two dates
  config-get <key>                            print a configuration value
  encrypt <value>                             encrypt a value for the configuration`

// query runs one command against cfg. store may be nil when the database is disabled.
type query struct {
	cfg   *configuration.Config
	aead  cipher.AEAD
	store holiday_source.HolidayStore
	out   io.Writer
}

func (q *query) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(q.out, string(data))
	return err
}

func (q *query) calendar(name string) (*calendar.Calendar, calendar.HolidaySource, error) {
	settings, ok := q.cfg.Calendar(name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown calendar %s", name)
	}
	session := q.cfg.CalendarConfigs()[name]
	src, err := holiday_source.FromSettings(settings, session, holiday_source.Dependencies{Store: q.store})
	if err != nil {
		return nil, nil, err
	}
	cal, err := calendar.New(session, src, calendar.WithName(name))
	if err != nil {
		return nil, nil, err
	}
	return cal, src, nil
}

// dateArgs reads the optional [date] [direction] arguments.
func dateArgs(cal *calendar.Calendar, args []string) (int, int, error) {
	date, direction := cal.Today(), 1
	if len(args) > 0 {
		d, err := calendar.ParseTradeDateString(args[0])
		if err != nil {
			return 0, 0, err
		}
		date = d
	}
	if len(args) > 1 {
		d, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, fmt.Errorf("direction must be an integer: %w", err)
		}
		direction = d
	}
	return date, direction, nil
}

func (q *query) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "config-get":
		if len(args) != 1 {
			return fmt.Errorf("config-get needs a key\n%s", usage)
		}
		v, err := q.cfg.GetConfigValue(args[0])
		if err != nil {
			return err
		}
		return q.print(v)
	case "encrypt":
		if len(args) != 1 {
			return fmt.Errorf("encrypt needs a value\n%s", usage)
		}
		if q.aead == nil {
			return fmt.Errorf("no secret configured: set the secret environment variable")
		}
		enc, err := secrets.EncryptValue(q.aead, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(q.out, enc)
		return err
	case "timeinfo", "realtimeinfo", "today", "boundaries", "holidays":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	if len(args) == 0 {
		return fmt.Errorf("%s needs a calendar name\n%s", cmd, usage)
	}
	cal, src, err := q.calendar(args[0])
	if err != nil {
		return err
	}
	args = args[1:]

	switch cmd {
	case "timeinfo", "realtimeinfo":
		date, direction, err := dateArgs(cal, args)
		if err != nil {
			return err
		}
		var info calendar.TimeInfo
		if cmd == "timeinfo" {
			info, err = cal.TimeInfo(ctx, date, direction)
		} else {
			info, err = cal.RealTimeInfo(ctx, date, direction)
		}
		if err != nil {
			return err
		}
		return q.print(cal.FormatTimeInfo(info))
	case "today":
		return q.print(map[string]interface{}{
			"trade_date": cal.Today(),
			"now":        cal.Moment(cal.Now()).Format("2006-01-02 15:04:05.000 MST"),
		})
	case "boundaries":
		date, _, err := dateArgs(cal, args)
		if err != nil {
			return err
		}
		out := map[string]string{}
		for name, fn := range map[string]func(int) (int64, error){
			"before_market_start": cal.BeforeMarketStart,
			"market_open":         cal.MarketOpen,
			"market_close":        cal.MarketClose,
			"after_market_end":    cal.AfterMarketEnd,
		} {
			ts, err := fn(date)
			if err != nil {
				return err
			}
			out[name] = cal.Moment(ts).Format("2006-01-02 15:04:05.000 MST")
		}
		return q.print(out)
	default: // holidays
		if len(args) != 2 {
			return fmt.Errorf("holidays needs <from> <to>\n%s", usage)
		}
		return q.holidays(ctx, cal, src, args[0], args[1])
	}
}

// holidays lists the holidays of cal from the start of fromArg to the end of toArg.
func (q *query) holidays(ctx context.Context, cal *calendar.Calendar, src calendar.HolidaySource, fromArg, toArg string) error {
	bounds := make([]int64, 2)
	for i, arg := range []string{fromArg, toArg} {
		date, err := calendar.ParseTradeDateString(arg)
		if err != nil {
			return err
		}
		day, err := calendar.ParseTradeDate(date, cal.Location())
		if err != nil {
			return err
		}
		if i == 1 {
			day = day.AddDate(0, 0, 1)
		}
		bounds[i] = day.UnixMilli()
	}
	intervals, err := src.Fetch(ctx, bounds[0], bounds[1])
	if err != nil {
		return err
	}
	out := make([]calendar.FormattedPeriod, 0, len(intervals))
	for _, h := range calendar.NormalizeHolidays(intervals) {
		out = append(out, calendar.FormattedPeriod{
			Start: cal.Moment(h.Start).Format("2006-01-02 15:04:05.000 MST"),
			End:   cal.Moment(h.End).Format("2006-01-02 15:04:05.000 MST"),
		})
	}
	return q.print(out)
}

func main() {
	configuration.LoadDotEnv()
	configPath := os.Getenv(configPathEnvVar)
	if configPath == "" {
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

	cfg.Logging.ConsoleOutput = false
	logCloser, err := logging_helper.SetupLogging(cfg.Logging, appName)
	if err != nil {
		stdlog.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	q := &query{cfg: cfg, aead: aead, out: os.Stdout}
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database.Driver, cfg.Database.Path)
		if err != nil {
			stdlog.Fatalf("Failed to open holiday store: %v", err)
		}
		defer db.Close()
		q.store = database.NewHolidayManager(db)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := q.run(ctx, os.Args[1:]); err != nil {
		stdlog.Printf("%s: %v", appName, err)
		cancel()
		logCloser.Close()
		os.Exit(1)
	}
}
