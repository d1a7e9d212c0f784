package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

const _sampleConfig = `{
	"environment": "testnet",
	"max_retries": 5,
	"open_check_open_only": false,
	"filtered_client_order_ids": ["O-9"],
	"venues": [{"name": "binance", "account_id": "BINANCE-001", "user_data": true}],
	"instruments": [{
		"id": "BTCUSDT.BINANCE",
		"base": "BTC",
		"quote": "USDT",
		"price_precision": 2,
		"size_precision": 5,
		"taker_fee": "0.001",
		"topics": ["depth", "trade"]
	}],
	"rate_limits": {
		"default": {"max_burst": 20, "period_ms": 1000},
		"keys": [{"key": "binance:orders", "max_burst": 50, "period_ms": 10000}]
	},
	"cache": {"backing": "pebble", "path": "/var/lib/tradecore"}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "config.json", _sampleConfig)
	t.Setenv("TRADECORE_BINANCE_API_KEY", "key")
	envPath := writeFile(t, ".env", "TRADECORE_BINANCE_API_SECRET=secret\nTRADECORE_INFLIGHT_CHECK_RETRIES=7\n")

	cfg, err := Load(path, envPath)
	require.NoError(t, err)

	assert.Equal(t, enum.EnvironmentTestnet, cfg.Environment)
	assert.True(t, cfg.Testnet())
	assert.True(t, cfg.Reconciliation)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, cfg.Retry, cfg.Gateway.Retry)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Second, cfg.RecvWindow)
	assert.Equal(t, time.Hour, cfg.Lookback)
	assert.Equal(t, 10*time.Second, cfg.StartupDelay)
	assert.Equal(t, 2*time.Second, cfg.InflightInterval)
	assert.Equal(t, 10*time.Second, cfg.OpenInterval)

	assert.Equal(t, 5*time.Second, cfg.Execution.InflightThreshold)
	assert.Equal(t, 7, cfg.Execution.InflightMaxRetries, "from .env")
	assert.False(t, cfg.Execution.OpenCheckOpenOnly, "explicit false")
	assert.True(t, cfg.Execution.GenerateMissingOrders)
	assert.False(t, cfg.Execution.FilterUnclaimedExternal)
	assert.Equal(t, []model.ClientOrderID{"O-9"}, cfg.Execution.FilteredClientOrderIDs)

	require.Len(t, cfg.Venues, 1)
	v := cfg.Venues[0]
	assert.Equal(t, model.Venue("BINANCE"), v.Name)
	assert.Equal(t, model.AccountID("BINANCE-001"), v.AccountID)
	assert.Equal(t, "key", v.APIKey, "process env")
	assert.Equal(t, "secret", v.APISecret, ".env file")
	assert.True(t, v.UserData)

	require.Len(t, cfg.Instruments, 1)
	inst := cfg.Instruments[0]
	assert.Equal(t, model.MustInstrumentID("BTCUSDT.BINANCE"), inst.ID)
	assert.Equal(t, model.Symbol("BTCUSDT"), inst.RawSymbol)
	assert.Equal(t, enum.InstrumentCurrencyPair, inst.Kind)
	assert.Equal(t, model.USDT, inst.QuoteCurrency)
	assert.Equal(t, "0.01", inst.PriceIncrement.String())
	assert.Equal(t, "0.001", inst.TakerFee.String())
	assert.Equal(t, []Subscription{
		{Instrument: inst.ID, Topic: enum.TopicDepth},
		{Instrument: inst.ID, Topic: enum.TopicTrade},
	}, cfg.Subscriptions)
	_, ok := cfg.Registry.InstrumentCode(inst.ID)
	assert.True(t, ok)

	assert.Equal(t, uint32(20), cfg.DefaultQuota.MaxBurst)
	assert.Equal(t, 10*time.Second, cfg.Quotas["binance:orders"].Period)
	assert.Equal(t, enum.BookTypeL2MBP, cfg.Book.BookType)
	assert.Equal(t, "pebble", cfg.Cache.Backing)
	assert.Equal(t, ":8080", cfg.StatusAddr)
}

func TestLoadMissingEnvFile(t *testing.T) {
	path := writeFile(t, "config.json", `{}`)
	cfg, err := Load(path, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, enum.EnvironmentMainnet, cfg.Environment)
	assert.Equal(t, "memory", cfg.Cache.Backing)
	assert.True(t, cfg.Execution.OpenCheckOpenOnly)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.json", `{}`)
	t.Setenv("TRADECORE_RECONCILIATION", "off")
	t.Setenv("TRADECORE_FILTERED_CLIENT_ORDER_IDS", "A-1, B-2,")
	t.Setenv("TRADECORE_GENERATE_MISSING_ORDERS", "false")
	t.Setenv("TRADECORE_OPEN_CHECK_INTERVAL_SECS", "3")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.False(t, cfg.Reconciliation)
	assert.False(t, cfg.Execution.GenerateMissingOrders)
	assert.Equal(t, 3*time.Second, cfg.OpenInterval)
	assert.Equal(t, []model.ClientOrderID{"A-1", "B-2"}, cfg.Execution.FilteredClientOrderIDs)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		desc   string
		config string
		env    map[string]string
		err    error
	}{
		{
			desc:   "unknown environment",
			config: `{"environment": "sandbox"}`,
			err:    exception.ErrConfigEnvironment,
		},
		{
			desc:   "bad reconciliation switch",
			config: `{"reconciliation": "maybe"}`,
			err:    exception.ErrConfigRange,
		},
		{
			desc:   "retry max below initial",
			config: `{"retry_delay_initial_ms": 5000, "retry_delay_max_ms": 100}`,
			err:    exception.ErrConfigRange,
		},
		{
			desc:   "non numeric env override",
			config: `{}`,
			env:    map[string]string{"TRADECORE_MAX_RETRIES": "many"},
			err:    exception.ErrConfigRange,
		},
		{
			desc:   "instrument on unknown venue",
			config: `{"instruments": [{"id": "BTCUSDT.OKX", "base": "BTC", "quote": "USDT", "price_precision": 2, "size_precision": 3}]}`,
			err:    exception.ErrConfigVenue,
		},
		{
			desc:   "unknown currency",
			config: `{"venues": [{"name": "BINANCE"}], "instruments": [{"id": "ABCUSDT.BINANCE", "base": "ABC", "quote": "USDT"}]}`,
			err:    exception.ErrConfigInstrument,
		},
		{
			desc:   "unknown topic",
			config: `{"venues": [{"name": "BINANCE"}], "instruments": [{"id": "BTCUSDT.BINANCE", "base": "BTC", "quote": "USDT", "price_precision": 2, "size_precision": 3, "topics": ["candles"]}]}`,
			err:    exception.ErrConfigInstrument,
		},
		{
			desc:   "empty quota",
			config: `{"rate_limits": {"default": {"max_burst": 0, "period_ms": 1000}}}`,
			err:    exception.ErrConfigQuota,
		},
		{
			desc:   "pebble without path",
			config: `{"cache": {"backing": "pebble"}}`,
			err:    exception.ErrConfigCache,
		},
		{
			desc:   "unknown backing",
			config: `{"cache": {"backing": "redis"}}`,
			err:    exception.ErrConfigCache,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, "config.json", tc.config), "")
			assert.ErrorIs(t, err, tc.err)
		})
	}
}
