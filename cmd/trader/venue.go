package main

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/decode"
	bdecode "tradecore/internal/decode/binance"
	"tradecore/internal/ingest"
	"tradecore/internal/live"
	"tradecore/internal/model"
	"tradecore/internal/msgbus"
	"tradecore/internal/network"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/order"
	obinance "tradecore/internal/order/binance"
	"tradecore/internal/ratelimit"
	"tradecore/internal/recorder"
)

type venueDeps struct {
	runner   *msgbus.Runner
	limiter  *ratelimit.Limiter[string]
	recorder *recorder.Writer
	metrics  *obs.Metrics
}

type namedService struct {
	name string
	run  func(ctx context.Context) error
}

type venueSet struct {
	data       []live.DataClient
	delegators []order.Delegator
	services   []namedService
}

// buildVenues creates the data client of every configured venue, plus its
// delegator and user stream when credentials are present.
func buildVenues(loaded ops.Loaded, deps venueDeps) (venueSet, error) {
	var set venueSet
	for _, v := range loaded.Venues {
		var list []model.Instrument
		for _, inst := range loaded.Instruments {
			if inst.ID.Venue == v.Name {
				list = append(list, inst)
			}
		}

		switch v.Name {
		case bdecode.Venue:
			if err := buildBinance(&set, loaded, v, list, deps); err != nil {
				return venueSet{}, errors.Wrapf(err, "venue %s", v.Name)
			}
		default:
			logs.Warnf("trader: venue %s has no adapter, skipped", v.Name)
		}
	}
	return set, nil
}

func buildBinance(set *venueSet, loaded ops.Loaded, v ops.Venue, list []model.Instrument, deps venueDeps) error {
	testnet := loaded.Testnet()
	baseURL := v.BaseURL
	if baseURL == "" {
		baseURL = obinance.BaseURL(testnet)
	}
	streamURL := v.StreamURL
	if streamURL == "" {
		streamURL = ingest.BinanceStreamURL(testnet)
	}
	instruments := decode.NewInstruments(v.Name, list...)
	httpCfg := network.HTTPConfig{BaseURL: baseURL, Timeout: loaded.HTTPTimeout, Retry: loaded.Retry}
	ingestCfg := ingest.Config{
		Socket:        network.SocketConfig{URL: streamURL, PingInterval: loaded.Heartbeat},
		SnapshotRetry: loaded.Retry,
	}
	clientOpts := []ingest.Option{ingest.WithMetrics(deps.metrics)}
	if deps.recorder != nil {
		clientOpts = append(clientOpts, ingest.WithRecorder(deps.recorder))
	}

	rest := network.NewHTTPClient("binance market", httpCfg,
		network.WithLimiter(deps.limiter),
		network.WithHTTPMetrics(deps.metrics),
	)
	client, err := ingest.NewClient(ingestCfg, ingest.NewBinance(bdecode.New(instruments), rest), deps.runner, clientOpts...)
	if err != nil {
		return err
	}
	set.data = append(set.data, client)

	if v.APIKey == "" || v.APISecret == "" {
		logs.Warnf("trader: %s has no credentials, market data only", v.Name)
		return nil
	}
	delegator, err := obinance.NewDelegator(obinance.Config{
		BaseURL:    baseURL,
		APIKey:     v.APIKey,
		APISecret:  v.APISecret,
		AccountID:  v.AccountID,
		RecvWindow: loaded.RecvWindow,
		Timeout:    loaded.HTTPTimeout,
	}, instruments, obinance.WithMetrics(deps.metrics))
	if err != nil {
		return err
	}
	set.delegators = append(set.delegators, delegator)

	if !v.UserData {
		return nil
	}
	userRest := network.NewHTTPClient("binance user", httpCfg,
		network.WithLimiter(deps.limiter),
		network.WithHTTPMetrics(deps.metrics),
		network.WithHeader(obinance.APIKeyHeader, v.APIKey),
	)
	decoderOpts := []bdecode.Option{}
	if v.AccountID != "" {
		decoderOpts = append(decoderOpts, bdecode.WithAccount(v.AccountID))
	}
	user, err := ingest.NewBinanceUserStream(ingestCfg, userRest, bdecode.New(instruments, decoderOpts...), deps.runner, ingest.WithMetrics(deps.metrics))
	if err != nil {
		return err
	}
	set.services = append(set.services, namedService{name: "binance user stream", run: user.Run})
	return nil
}
