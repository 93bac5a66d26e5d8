package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
	"github.com/wenjunxiao/trade-calendar/go_src/database"
	"github.com/wenjunxiao/trade-calendar/go_src/holiday_source"
	"github.com/wenjunxiao/trade-calendar/go_src/logging_helper"
)

const (
	appName           = "holiday-import"
	configPathEnvVar  = "TRADE_CALENDAR_CONFIG_PATH"
	defaultConfigPath = "./config/config.yaml"
	localTimeLayout   = "2006-01-02 15:04"
)

const usage = `usage: holiday-import <command> [args]

  file <holidays.json>                  import holidays from a JSON file
  alpaca <calendar> <from> <to>         import closures reported by the Alpaca calendar
  list <calendar>                       list stored holidays
  delete <id>                           delete a stored holiday`

// newAlpacaCalendar is swapped in tests.
var newAlpacaCalendar = func(key, secret, baseURL string) holiday_source.AlpacaCalendar {
	return holiday_source.NewAlpacaClient(key, secret, baseURL)
}

// holidayFile is the import format. Each entry is either a full local day
// ("date") or a local "start"/"end" pair in "2006-01-02 15:04".
type holidayFile struct {
	Holidays []holidayEntry `json:"holidays"`
}

type holidayEntry struct {
	Calendar string `json:"calendar"`
	Date     string `json:"date,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type importer struct {
	cfg *configuration.Config
	hm  *database.HolidayManager
	out io.Writer
}

func (im *importer) location(name string) (*time.Location, error) {
	session, ok := im.cfg.CalendarConfigs()[name]
	if !ok {
		return nil, fmt.Errorf("unknown calendar %s", name)
	}
	return calendar.LoadLocation(session.Timezone), nil
}

// interval converts an entry to epoch milliseconds in the calendar timezone.
func (e holidayEntry) interval(loc *time.Location) (int64, int64, error) {
	if e.Date != "" {
		date, err := calendar.ParseTradeDateString(e.Date)
		if err != nil {
			return 0, 0, err
		}
		day, err := calendar.ParseTradeDate(date, loc)
		if err != nil {
			return 0, 0, err
		}
		return day.UnixMilli(), day.AddDate(0, 0, 1).UnixMilli(), nil
	}
	start, err := time.ParseInLocation(localTimeLayout, e.Start, loc)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start %q: %w", e.Start, err)
	}
	end, err := time.ParseInLocation(localTimeLayout, e.End, loc)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end %q: %w", e.End, err)
	}
	return start.UnixMilli(), end.UnixMilli(), nil
}

// importFile validates every entry, then inserts them all or none.
func (im *importer) importFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read holiday file %s: %w", path, err)
	}
	var file holidayFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse holiday file %s: %w", path, err)
	}

	records := make([]*database.HolidayRecord, 0, len(file.Holidays))
	for i, e := range file.Holidays {
		loc, err := im.location(e.Calendar)
		if err != nil {
			return 0, fmt.Errorf("holiday %d: %w", i, err)
		}
		start, end, err := e.interval(loc)
		if err != nil {
			return 0, fmt.Errorf("holiday %d (%s): %w", i, e.Calendar, err)
		}
		if end <= start {
			return 0, fmt.Errorf("holiday %d (%s): end must be after start", i, e.Calendar)
		}
		records = append(records, &database.HolidayRecord{Calendar: e.Calendar, Start: start, End: end, Reason: e.Reason})
	}
	return im.insert(ctx, records)
}

// insert stores records in a single transaction.
func (im *importer) insert(ctx context.Context, records []*database.HolidayRecord) (int, error) {
	if err := im.hm.InsertHolidays(ctx, records); err != nil {
		return 0, err
	}
	for _, r := range records {
		logrus.Debugf("Imported holiday %s for %s [%d, %d)", r.ID, r.Calendar, r.Start, r.End)
	}
	return len(records), nil
}

// importAlpaca stores the closures the broker calendar reports between two dates.
func (im *importer) importAlpaca(ctx context.Context, name, fromArg, toArg string) (int, error) {
	settings, ok := im.cfg.Calendar(name)
	if !ok {
		return 0, fmt.Errorf("unknown calendar %s", name)
	}
	session := im.cfg.CalendarConfigs()[name]
	loc := calendar.LoadLocation(session.Timezone)
	regularClose := session.End
	if settings.Holidays.AlpacaRegularClose != "" {
		tp, err := calendar.ParseTimePoint(settings.Holidays.AlpacaRegularClose)
		if err != nil {
			return 0, err
		}
		regularClose = tp
	}

	var bounds [2]int64
	for i, arg := range []string{fromArg, toArg} {
		date, err := calendar.ParseTradeDateString(arg)
		if err != nil {
			return 0, err
		}
		day, err := calendar.ParseTradeDate(date, loc)
		if err != nil {
			return 0, err
		}
		if i == 1 {
			day = day.AddDate(0, 0, 1)
		}
		bounds[i] = day.UnixMilli()
	}

	client := newAlpacaCalendar(settings.Holidays.AlpacaKey, settings.Holidays.AlpacaSecret, settings.Holidays.AlpacaBaseURL)
	intervals, err := holiday_source.NewAlpacaSource(client, loc, regularClose).Fetch(ctx, bounds[0], bounds[1])
	if err != nil {
		return 0, err
	}
	records := make([]*database.HolidayRecord, 0, len(intervals))
	for _, h := range intervals {
		records = append(records, &database.HolidayRecord{Calendar: name, Start: h.Start, End: h.End, Reason: "alpaca"})
	}
	return im.insert(ctx, records)
}

func (im *importer) list(ctx context.Context, name string) error {
	loc, err := im.location(name)
	if err != nil {
		return err
	}
	records, err := im.hm.ListHolidays(ctx, name)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(im.out, "%s  %s  %s  %s\n", r.ID,
			time.UnixMilli(r.Start).In(loc).Format(localTimeLayout),
			time.UnixMilli(r.End).In(loc).Format(localTimeLayout),
			r.Reason)
	}
	return nil
}

func (im *importer) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}
	switch args[0] {
	case "file":
		if len(args) != 2 {
			return fmt.Errorf("file needs a path\n%s", usage)
		}
		n, err := im.importFile(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(im.out, "Imported %d holidays from %s\n", n, args[1])
	case "alpaca":
		if len(args) != 4 {
			return fmt.Errorf("alpaca needs <calendar> <from> <to>\n%s", usage)
		}
		n, err := im.importAlpaca(ctx, args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Fprintf(im.out, "Imported %d closures for %s\n", n, args[1])
	case "list":
		if len(args) != 2 {
			return fmt.Errorf("list needs a calendar\n%s", usage)
		}
		return im.list(ctx, args[1])
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("delete needs an id\n%s", usage)
		}
		if err := im.hm.DeleteHoliday(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(im.out, "Deleted holiday %s\n", args[1])
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	return nil
}

func main() {
	stdlog.Printf("Starting %s utility...", appName)

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
	if !cfg.Database.Enabled {
		stdlog.Fatalf("database.enabled is false: nothing to import into")
	}
	aead, err := cfg.SecretsCipher()
	if err != nil {
		stdlog.Fatalf("Failed to initialize secrets cipher: %v", err)
	}
	if err := cfg.DecryptSecrets(aead); err != nil {
		stdlog.Fatalf("Failed to decrypt configuration secrets: %v", err)
	}

	logCloser, err := logging_helper.SetupLogging(cfg.Logging, appName+"-cli")
	if err != nil {
		stdlog.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		stdlog.Fatalf("Failed to open holiday store: %v", err)
	}
	defer db.Close()
	hm := database.NewHolidayManager(db)
	if err := hm.CreateSchemaHolidays(); err != nil {
		stdlog.Fatalf("Failed to create holiday schema: %v", err)
	}

	im := &importer{cfg: cfg, hm: hm, out: os.Stdout}
	if err := im.run(context.Background(), os.Args[1:]); err != nil {
		stdlog.Printf("%s failed: %v", strings.Join(os.Args[1:], " "), err)
		db.Close()
		logCloser.Close()
		os.Exit(1)
	}
}
