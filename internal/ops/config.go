// Package ops loads the node configuration: a JSON file, overridden by
// TRADECORE_ prefixed environment variables and an optional .env file.
package ops

import (
	"math"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/internal/book"
	"tradecore/internal/execution"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus/stream"
	"tradecore/internal/network"
	"tradecore/internal/order"
	"tradecore/internal/ratelimit"
	"tradecore/internal/risk"
	"tradecore/pkg/conn"
	"tradecore/pkg/exception"
)

// FileConfig mirrors the JSON config layout. Scalars use the unit in their
// key; pointers tell an explicit false from an absent key.
type FileConfig struct {
	Environment string `json:"environment"`
	TraderID    string `json:"trader_id"`

	HTTPTimeoutSecs       int `json:"http_timeout_secs"`
	MaxRetries            int `json:"max_retries"`
	RetryDelayInitialMs   int `json:"retry_delay_initial_ms"`
	RetryDelayMaxMs       int `json:"retry_delay_max_ms"`
	HeartbeatIntervalSecs int `json:"heartbeat_interval_secs"`
	RecvWindowMs          int `json:"recv_window_ms"`

	Reconciliation                 string   `json:"reconciliation"`
	ReconciliationLookbackMins     int      `json:"reconciliation_lookback_mins"`
	ReconciliationStartupDelaySecs int      `json:"reconciliation_startup_delay_secs"`
	InflightCheckIntervalMs        int      `json:"inflight_check_interval_ms"`
	InflightCheckThresholdMs       int      `json:"inflight_check_threshold_ms"`
	InflightCheckRetries           int      `json:"inflight_check_retries"`
	OpenCheckIntervalSecs          int      `json:"open_check_interval_secs"`
	OpenCheckThresholdMs           int      `json:"open_check_threshold_ms"`
	OpenCheckMissingRetries        int      `json:"open_check_missing_retries"`
	OpenCheckOpenOnly              *bool    `json:"open_check_open_only"`
	GenerateMissingOrders          *bool    `json:"generate_missing_orders"`
	FilterUnclaimedExternalOrders  *bool    `json:"filter_unclaimed_external_orders"`
	FilteredClientOrderIDs         []string `json:"filtered_client_order_ids"`

	Venues      []VenueConfig      `json:"venues"`
	Instruments []InstrumentConfig `json:"instruments"`
	RateLimits  RateLimitConfig    `json:"rate_limits"`
	Risk        risk.Config        `json:"risk"`
	Gateway     order.Config       `json:"gateway"`
	Book        BookConfig         `json:"book"`
	Cache       CacheConfig        `json:"cache"`
	Stream      stream.Config      `json:"stream"`
	RecorderDir string             `json:"recorder_dir"`
	StatusAddr  string             `json:"status_addr"`
}

// VenueConfig describes a venue entry. Credentials never live in the file;
// they come from TRADECORE_<NAME>_API_KEY and TRADECORE_<NAME>_API_SECRET.
type VenueConfig struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	UserData  bool   `json:"user_data"`
}

// InstrumentConfig describes an instrument entry.
type InstrumentConfig struct {
	ID             string   `json:"id"`
	RawSymbol      string   `json:"raw_symbol"`
	Kind           string   `json:"kind"`
	Base           string   `json:"base"`
	Quote          string   `json:"quote"`
	PricePrecision uint8    `json:"price_precision"`
	SizePrecision  uint8    `json:"size_precision"`
	MakerFee       string   `json:"maker_fee"`
	TakerFee       string   `json:"taker_fee"`
	Topics         []string `json:"topics"`
}

type QuotaConfig struct {
	Key      string `json:"key"`
	MaxBurst uint32 `json:"max_burst"`
	PeriodMs int    `json:"period_ms"`
}

type RateLimitConfig struct {
	Default QuotaConfig   `json:"default"`
	Keys    []QuotaConfig `json:"keys"`
}

type BookConfig struct {
	BookType    string `json:"book_type"`
	MaxBuffered int    `json:"max_buffered"`
}

// CacheConfig selects the durable backing: memory, pebble or postgres.
type CacheConfig struct {
	Backing    string        `json:"backing"`
	Path       string        `json:"path"`
	Postgres   conn.Postgres `json:"postgres"`
	WriteLimit int           `json:"write_limit"`
}

// Venue is a resolved venue with its credentials.
type Venue struct {
	Name      model.Venue
	AccountID model.AccountID
	BaseURL   string
	StreamURL string
	UserData  bool
	APIKey    string
	APISecret string
}

// Subscription is one market data topic of an instrument.
type Subscription struct {
	Instrument model.InstrumentID
	Topic      enum.Topic
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Environment enum.Environment
	TraderID    model.TraderID

	HTTPTimeout time.Duration
	Retry       network.RetryConfig
	Heartbeat   time.Duration
	RecvWindow  time.Duration

	Reconciliation   bool
	Lookback         time.Duration
	StartupDelay     time.Duration
	InflightInterval time.Duration
	OpenInterval     time.Duration
	Execution        execution.Config

	Registry      *model.Registry
	Venues        []Venue
	Instruments   []model.Instrument
	Subscriptions []Subscription
	DefaultQuota  ratelimit.Quota
	Quotas        map[string]ratelimit.Quota

	Risk        risk.Config
	Gateway     order.Config
	Book        book.Config
	Cache       CacheConfig
	Stream      stream.Config
	RecorderDir string
	StatusAddr  string
}

// Testnet reports whether venues should use their test endpoints.
func (l Loaded) Testnet() bool {
	return l.Environment != enum.EnvironmentMainnet
}

// Default returns the file config every key falls back to.
func Default() FileConfig {
	return FileConfig{
		Environment:                    enum.EnvironmentMainnet.String(),
		TraderID:                       "TRADER-001",
		HTTPTimeoutSecs:                10,
		MaxRetries:                     3,
		RetryDelayInitialMs:            1_000,
		RetryDelayMaxMs:                10_000,
		HeartbeatIntervalSecs:          30,
		RecvWindowMs:                   5_000,
		Reconciliation:                 "on",
		ReconciliationLookbackMins:     60,
		ReconciliationStartupDelaySecs: 10,
		InflightCheckIntervalMs:        2_000,
		InflightCheckThresholdMs:       5_000,
		InflightCheckRetries:           5,
		OpenCheckIntervalSecs:          10,
		OpenCheckThresholdMs:           5_000,
		OpenCheckMissingRetries:        5,
		OpenCheckOpenOnly:              ptr(true),
		GenerateMissingOrders:          ptr(true),
		FilterUnclaimedExternalOrders:  ptr(false),
		RateLimits: RateLimitConfig{
			Default: QuotaConfig{MaxBurst: 10, PeriodMs: 1_000},
		},
		Book:       BookConfig{BookType: enum.BookTypeL2MBP.String()},
		Cache:      CacheConfig{Backing: "memory"},
		StatusAddr: ":8080",
	}
}

// Load reads the JSON file at path, applies environment overrides from the
// process and from envPath (optional, may be empty) and resolves the result.
func Load(path, envPath string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg := Default()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrapf(err, "parse config %s", path)
	}
	env, err := readEnv(envPath)
	if err != nil {
		return Loaded{}, err
	}
	if err := env.apply(&cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg, env)
}

// Resolve validates cfg and builds the registry, instruments and component
// configs. env supplies venue credentials and may be nil.
func Resolve(cfg FileConfig, env Env) (Loaded, error) {
	environment, ok := enum.ParseEnvironment(cfg.Environment)
	if !ok {
		return Loaded{}, errors.Wrapf(exception.ErrConfigEnvironment, "%q", cfg.Environment)
	}
	reconcile, err := parseSwitch(cfg.Reconciliation)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateRanges(cfg); err != nil {
		return Loaded{}, err
	}

	out := Loaded{
		Environment: environment,
		TraderID:    model.TraderID(cfg.TraderID),
		HTTPTimeout: seconds(cfg.HTTPTimeoutSecs),
		Retry: network.RetryConfig{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: millis(cfg.RetryDelayInitialMs),
			MaxDelay:     millis(cfg.RetryDelayMaxMs),
			Factor:       2,
			Jitter:       0.1,
		},
		Heartbeat:        seconds(cfg.HeartbeatIntervalSecs),
		RecvWindow:       millis(cfg.RecvWindowMs),
		Reconciliation:   reconcile,
		Lookback:         time.Duration(cfg.ReconciliationLookbackMins) * time.Minute,
		StartupDelay:     seconds(cfg.ReconciliationStartupDelaySecs),
		InflightInterval: millis(cfg.InflightCheckIntervalMs),
		OpenInterval:     seconds(cfg.OpenCheckIntervalSecs),
		Execution: execution.Config{
			InflightThreshold:       millis(cfg.InflightCheckThresholdMs),
			InflightMaxRetries:      cfg.InflightCheckRetries,
			OpenCheckThreshold:      millis(cfg.OpenCheckThresholdMs),
			OpenCheckMissingRetries: cfg.OpenCheckMissingRetries,
			OpenCheckOpenOnly:       deref(cfg.OpenCheckOpenOnly),
			GenerateMissingOrders:   deref(cfg.GenerateMissingOrders),
			FilterUnclaimedExternal: deref(cfg.FilterUnclaimedExternalOrders),
		},
		Risk:        cfg.Risk,
		Gateway:     cfg.Gateway,
		Stream:      cfg.Stream,
		RecorderDir: cfg.RecorderDir,
		StatusAddr:  cfg.StatusAddr,
	}
	for _, id := range cfg.FilteredClientOrderIDs {
		out.Execution.FilteredClientOrderIDs = append(out.Execution.FilteredClientOrderIDs, model.ClientOrderID(id))
	}
	if out.Gateway.Retry == (network.RetryConfig{}) {
		out.Gateway.Retry = out.Retry
	}

	if out.Registry, out.Venues, err = buildVenues(cfg.Venues, env); err != nil {
		return Loaded{}, err
	}
	if out.Instruments, out.Subscriptions, err = buildInstruments(cfg.Instruments, out.Registry); err != nil {
		return Loaded{}, err
	}
	if out.DefaultQuota, out.Quotas, err = buildQuotas(cfg.RateLimits); err != nil {
		return Loaded{}, err
	}
	if out.Book, err = buildBook(cfg.Book); err != nil {
		return Loaded{}, err
	}
	if out.Cache, err = validateCache(cfg.Cache); err != nil {
		return Loaded{}, err
	}
	return out, nil
}

func buildVenues(venues []VenueConfig, env Env) (*model.Registry, []Venue, error) {
	reg := model.NewRegistry()
	out := make([]Venue, 0, len(venues))
	for _, v := range venues {
		name := model.Venue(strings.ToUpper(v.Name))
		if _, err := reg.AddVenue(name); err != nil {
			return nil, nil, errors.Wrapf(err, "venue %q", v.Name)
		}
		prefix := string(name) + "_"
		out = append(out, Venue{
			Name:      name,
			AccountID: model.AccountID(v.AccountID),
			BaseURL:   v.BaseURL,
			StreamURL: v.StreamURL,
			UserData:  v.UserData,
			APIKey:    env.lookup(prefix + "API_KEY"),
			APISecret: env.lookup(prefix + "API_SECRET"),
		})
	}
	return reg, out, nil
}

func buildInstruments(list []InstrumentConfig, reg *model.Registry) ([]model.Instrument, []Subscription, error) {
	instruments := make([]model.Instrument, 0, len(list))
	var subs []Subscription
	for _, c := range list {
		inst, err := resolveInstrument(c, reg)
		if err != nil {
			return nil, nil, err
		}
		if _, err := reg.AddInstrument(inst.ID); err != nil {
			return nil, nil, errors.Wrapf(err, "instrument %s", inst.ID)
		}
		for _, t := range c.Topics {
			topic, ok := parseTopic(t)
			if !ok {
				return nil, nil, errors.Wrapf(exception.ErrConfigInstrument, "%s: topic %q", inst.ID, t)
			}
			subs = append(subs, Subscription{Instrument: inst.ID, Topic: topic})
		}
		instruments = append(instruments, inst)
	}
	return instruments, subs, nil
}

func resolveInstrument(c InstrumentConfig, reg *model.Registry) (model.Instrument, error) {
	id, err := model.ParseInstrumentID(c.ID)
	if err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "id %q", c.ID)
	}
	if !reg.HasVenue(id.Venue) {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigVenue, "%s", id)
	}
	kind := enum.InstrumentCurrencyPair
	if c.Kind != "" {
		var ok bool
		if kind, ok = enum.ParseInstrumentKind(strings.ToUpper(c.Kind)); !ok {
			return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: kind %q", id, c.Kind)
		}
	}
	base, err := model.CurrencyFromCode(c.Base)
	if err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: base %q", id, c.Base)
	}
	quote, err := model.CurrencyFromCode(c.Quote)
	if err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: quote %q", id, c.Quote)
	}
	raw := c.RawSymbol
	if raw == "" {
		raw = string(id.Symbol)
	}

	inst := model.Instrument{
		ID:             id,
		RawSymbol:      model.Symbol(raw),
		Kind:           kind,
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		PricePrecision: c.PricePrecision,
		SizePrecision:  c.SizePrecision,
	}
	// Increments default to one unit of the last displayed digit.
	if inst.PriceIncrement, err = model.NewPrice(math.Pow10(-int(c.PricePrecision)), c.PricePrecision); err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: price precision %d", id, c.PricePrecision)
	}
	if inst.SizeIncrement, err = model.NewQuantity(math.Pow10(-int(c.SizePrecision)), c.SizePrecision); err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: size precision %d", id, c.SizePrecision)
	}
	if inst.MakerFee, err = parseFee(c.MakerFee); err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: maker fee %q", id, c.MakerFee)
	}
	if inst.TakerFee, err = parseFee(c.TakerFee); err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: taker fee %q", id, c.TakerFee)
	}
	if err := inst.Validate(); err != nil {
		return model.Instrument{}, errors.Wrapf(exception.ErrConfigInstrument, "%s: %v", id, err)
	}
	return inst, nil
}

func buildQuotas(c RateLimitConfig) (ratelimit.Quota, map[string]ratelimit.Quota, error) {
	def := quota(c.Default)
	if err := def.Validate(); err != nil {
		return ratelimit.Quota{}, nil, errors.Wrapf(exception.ErrConfigQuota, "default: %v", err)
	}
	keys := make(map[string]ratelimit.Quota, len(c.Keys))
	for _, k := range c.Keys {
		q := quota(k)
		if k.Key == "" {
			return ratelimit.Quota{}, nil, errors.Wrap(exception.ErrConfigQuota, "empty key")
		}
		if err := q.Validate(); err != nil {
			return ratelimit.Quota{}, nil, errors.Wrapf(exception.ErrConfigQuota, "%s: %v", k.Key, err)
		}
		keys[k.Key] = q
	}
	return def, keys, nil
}

func buildBook(c BookConfig) (book.Config, error) {
	out := book.DefaultConfig()
	if c.BookType != "" {
		t, ok := enum.ParseBookType(c.BookType)
		if !ok {
			return book.Config{}, errors.Wrapf(exception.ErrConfigRange, "book type %q", c.BookType)
		}
		out.BookType = t
	}
	if c.MaxBuffered > 0 {
		out.MaxBuffered = c.MaxBuffered
	}
	return out, nil
}

func validateCache(c CacheConfig) (CacheConfig, error) {
	c.Backing = strings.ToLower(c.Backing)
	switch c.Backing {
	case "", "memory":
		c.Backing = "memory"
	case "pebble":
		if c.Path == "" {
			return CacheConfig{}, errors.Wrap(exception.ErrConfigCache, "pebble needs a path")
		}
	case "postgres":
		if c.Postgres.DSN == "" && c.Postgres.Database == "" {
			return CacheConfig{}, errors.Wrap(exception.ErrConfigCache, "postgres needs a dsn or database")
		}
	default:
		return CacheConfig{}, errors.Wrapf(exception.ErrConfigCache, "backing %q", c.Backing)
	}
	return c, nil
}

func validateRanges(cfg FileConfig) error {
	checks := []struct {
		key   string
		value int
		min   int
	}{
		{"http_timeout_secs", cfg.HTTPTimeoutSecs, 1},
		{"max_retries", cfg.MaxRetries, 0},
		{"retry_delay_initial_ms", cfg.RetryDelayInitialMs, 0},
		{"retry_delay_max_ms", cfg.RetryDelayMaxMs, cfg.RetryDelayInitialMs},
		{"heartbeat_interval_secs", cfg.HeartbeatIntervalSecs, 1},
		{"recv_window_ms", cfg.RecvWindowMs, 1},
		{"reconciliation_lookback_mins", cfg.ReconciliationLookbackMins, 0},
		{"reconciliation_startup_delay_secs", cfg.ReconciliationStartupDelaySecs, 0},
		{"inflight_check_interval_ms", cfg.InflightCheckIntervalMs, 1},
		{"inflight_check_threshold_ms", cfg.InflightCheckThresholdMs, 0},
		{"inflight_check_retries", cfg.InflightCheckRetries, 0},
		{"open_check_interval_secs", cfg.OpenCheckIntervalSecs, 1},
		{"open_check_threshold_ms", cfg.OpenCheckThresholdMs, 0},
		{"open_check_missing_retries", cfg.OpenCheckMissingRetries, 0},
	}
	for _, c := range checks {
		if c.value < c.min {
			return errors.Wrapf(exception.ErrConfigRange, "%s = %d, want >= %d", c.key, c.value, c.min)
		}
	}
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, errors.Wrapf(exception.ErrConfigRange, "reconciliation %q", s)
	}
}

func parseTopic(s string) (enum.Topic, bool) {
	for _, t := range []enum.Topic{enum.TopicDepth, enum.TopicTrade, enum.TopicQuote} {
		if strings.EqualFold(t.String(), s) {
			return t, true
		}
	}
	return 0, false
}

func quota(c QuotaConfig) ratelimit.Quota {
	return ratelimit.Quota{MaxBurst: c.MaxBurst, Period: millis(c.PeriodMs)}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func ptr[T any](v T) *T { return &v }

func deref(b *bool) bool { return b != nil && *b }
