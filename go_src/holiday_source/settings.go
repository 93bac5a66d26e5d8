package holiday_source

import (
	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
	"github.com/wenjunxiao/trade-calendar/go_src/trade_exceptions"
)

// Dependencies are the shared connections a configured source may need.
// Either may be nil when the configuration does not use it.
type Dependencies struct {
	Store HolidayStore
	Redis RedisClient
}

// FromSettings builds the holiday source of one configured calendar: the union
// of its sources ("static" when none is listed), optionally cached in redis,
// bounded by the configured timeout. Every error is a ConfigurationError.
func FromSettings(settings configuration.CalendarSettings, session calendar.Config, deps Dependencies) (calendar.HolidaySource, error) {
	loc := calendar.LoadLocation(session.Timezone)
	h := settings.Holidays
	key := "calendars." + settings.Name + ".holidays"
	kinds := h.Sources
	if len(kinds) == 0 {
		kinds = []string{"static"}
	}

	var sources []calendar.HolidaySource
	for _, kind := range kinds {
		switch kind {
		case "static":
			static, err := NewStatic(settings.ClosedDates, nil, loc)
			if err != nil {
				return nil, trade_exceptions.NewConfigurationError("calendars."+settings.Name+".closed_dates", "%v", err)
			}
			sources = append(sources, static)
		case "database":
			if deps.Store == nil {
				return nil, trade_exceptions.NewConfigurationError(key+".sources", "calendar %s: database holidays require database.enabled", settings.Name)
			}
			sources = append(sources, NewDatabase(deps.Store, settings.Name))
		case "http":
			var opts []HTTPOption
			if h.HTTPRatePerSecond > 0 {
				opts = append(opts, WithRateLimit(h.HTTPRatePerSecond, 1))
			}
			if h.HTTPAPIKey != "" {
				opts = append(opts, WithHeader("Authorization", "Bearer "+h.HTTPAPIKey))
			}
			sources = append(sources, NewHTTPSource(h.HTTPURL, settings.Name, loc, opts...))
		case "alpaca":
			regularClose := session.End
			if h.AlpacaRegularClose != "" {
				tp, err := calendar.ParseTimePoint(h.AlpacaRegularClose)
				if err != nil {
					return nil, trade_exceptions.NewConfigurationError(key+".alpaca_regular_close", "calendar %s: %v", settings.Name, err)
				}
				regularClose = tp
			}
			sources = append(sources, NewAlpacaSource(NewAlpacaClient(h.AlpacaKey, h.AlpacaSecret, h.AlpacaBaseURL), loc, regularClose))
		default:
			return nil, trade_exceptions.NewConfigurationError(key+".sources", "calendar %s: unknown holiday source %q", settings.Name, kind)
		}
	}

	src := Multi(sources...)
	if h.Cache && deps.Redis != nil {
		src = NewRedisCache(deps.Redis, src, settings.Name, configuration.Duration(h.CacheTTL, DefaultCacheTTL))
	}
	return Bounded(src, configuration.Duration(h.Timeout, 0)), nil
}
