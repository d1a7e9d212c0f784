package ops

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRADECORE_"

// Env resolves overrides: the process environment wins over the .env file.
type Env map[string]string

// readEnv loads the .env file at path. A missing file is not an error.
func readEnv(path string) (Env, error) {
	if path == "" {
		return Env{}, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Env{}, nil
		}
		return nil, errors.Wrapf(err, "read env %s", path)
	}
	return Env(vals), nil
}

// lookup returns TRADECORE_<key> from the process or the file.
func (e Env) lookup(key string) string {
	name := EnvPrefix + strings.ToUpper(key)
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return e[name]
}

func (e Env) apply(cfg *FileConfig) error {
	strs := map[string]*string{
		"environment":    &cfg.Environment,
		"trader_id":      &cfg.TraderID,
		"reconciliation": &cfg.Reconciliation,
		"recorder_dir":   &cfg.RecorderDir,
		"status_addr":    &cfg.StatusAddr,
		"cache_backing":  &cfg.Cache.Backing,
		"cache_path":     &cfg.Cache.Path,
		"postgres_dsn":   &cfg.Cache.Postgres.DSN,
	}
	for key, dst := range strs {
		if v := e.lookup(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"http_timeout_secs":                 &cfg.HTTPTimeoutSecs,
		"max_retries":                       &cfg.MaxRetries,
		"retry_delay_initial_ms":            &cfg.RetryDelayInitialMs,
		"retry_delay_max_ms":                &cfg.RetryDelayMaxMs,
		"heartbeat_interval_secs":           &cfg.HeartbeatIntervalSecs,
		"recv_window_ms":                    &cfg.RecvWindowMs,
		"reconciliation_lookback_mins":      &cfg.ReconciliationLookbackMins,
		"reconciliation_startup_delay_secs": &cfg.ReconciliationStartupDelaySecs,
		"inflight_check_interval_ms":        &cfg.InflightCheckIntervalMs,
		"inflight_check_threshold_ms":       &cfg.InflightCheckThresholdMs,
		"inflight_check_retries":            &cfg.InflightCheckRetries,
		"open_check_interval_secs":          &cfg.OpenCheckIntervalSecs,
		"open_check_threshold_ms":           &cfg.OpenCheckThresholdMs,
		"open_check_missing_retries":        &cfg.OpenCheckMissingRetries,
	}
	for key, dst := range ints {
		v := e.lookup(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(exception.ErrConfigRange, "%s%s = %q", EnvPrefix, strings.ToUpper(key), v)
		}
		*dst = n
	}

	bools := map[string]**bool{
		"open_check_open_only":             &cfg.OpenCheckOpenOnly,
		"generate_missing_orders":          &cfg.GenerateMissingOrders,
		"filter_unclaimed_external_orders": &cfg.FilterUnclaimedExternalOrders,
	}
	for key, dst := range bools {
		v := e.lookup(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(exception.ErrConfigRange, "%s%s = %q", EnvPrefix, strings.ToUpper(key), v)
		}
		*dst = ptr(b)
	}

	if v := e.lookup("filtered_client_order_ids"); v != "" {
		cfg.FilteredClientOrderIDs = cfg.FilteredClientOrderIDs[:0]
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.FilteredClientOrderIDs = append(cfg.FilteredClientOrderIDs, id)
			}
		}
	}
	return nil
}

func parseFee(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
