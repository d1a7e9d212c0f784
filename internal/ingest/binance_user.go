package ingest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/decode"
	bdecode "tradecore/internal/decode/binance"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/msgbus"
	"tradecore/internal/network"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const (
	_binanceListenKeyPath = "/api/v3/userDataStream"

	defaultKeepAlive = 30 * time.Minute
)

// binanceUser is the venue of a user data socket: no subscriptions, only
// execution reports.
type binanceUser struct {
	decoder *bdecode.Decoder
}

func (binanceUser) Name() model.Venue { return bdecode.Venue }

func (u binanceUser) Decoder() decode.Decoder { return u.decoder }

func (binanceUser) Stream(model.Instrument, enum.Topic) (string, error) {
	return "", errors.Wrap(exception.ErrIngestInvalidRequest, "binance user stream has no topics")
}

func (binanceUser) EncodeSubscribe(...string) ([]byte, error) {
	return nil, exception.ErrIngestInvalidRequest
}

func (binanceUser) EncodeUnsubscribe(...string) ([]byte, error) {
	return nil, exception.ErrIngestInvalidRequest
}

// BinanceUserStream opens a listen key, keeps it alive and feeds the
// account's execution reports to the reconciler.
type BinanceUserStream struct {
	cfg     Config
	rest    *network.HTTPClient
	decoder *bdecode.Decoder
	runner  *msgbus.Runner
	opts    []Option
	clock   clock.Clock
}

// NewBinanceUserStream needs a REST client carrying the API key header.
// cfg.Socket.URL is the stream root; the listen key is appended per run.
func NewBinanceUserStream(cfg Config, rest *network.HTTPClient, decoder *bdecode.Decoder, runner *msgbus.Runner, opts ...Option) (*BinanceUserStream, error) {
	if rest == nil || decoder == nil || runner == nil {
		return nil, errors.Wrap(exception.ErrIngestInvalidRequest, "binance user stream dependencies")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	return &BinanceUserStream{
		cfg:     cfg,
		rest:    rest,
		decoder: decoder,
		runner:  runner,
		opts:    opts,
		clock:   clock.Real(),
	}, nil
}

// Run blocks until ctx is done. The listen key is closed on the way out.
func (s *BinanceUserStream) Run(ctx context.Context) error {
	key, err := s.listenKey(ctx)
	if err != nil {
		return err
	}
	defer s.closeKey(key)

	cfg := s.cfg
	cfg.Socket.URL = strings.TrimSuffix(cfg.Socket.URL, "/") + "/" + key
	client, err := NewClient(cfg, binanceUser{decoder: s.decoder}, s.runner, s.opts...)
	if err != nil {
		return err
	}
	logs.Infof("ingest: binance user stream opened")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return client.Run(egCtx) })
	eg.Go(func() error {
		for {
			if err := clock.Sleep(egCtx, s.clock, s.cfg.KeepAlive); err != nil {
				return nil
			}
			if _, err := s.rest.Do(egCtx, s.keyRequest(http.MethodPut, key)); err != nil {
				logs.Errorf("ingest: binance listen key keepalive, err: %+v", err)
			}
		}
	})
	err = eg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *BinanceUserStream) listenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := s.rest.JSON(ctx, network.Request{Method: http.MethodPost, Path: _binanceListenKeyPath}, &resp); err != nil {
		return "", errors.Wrap(err, "binance listen key")
	}
	if resp.ListenKey == "" {
		return "", errors.Wrap(exception.ErrIngestInvalidRequest, "binance returned an empty listen key")
	}
	return resp.ListenKey, nil
}

func (s *BinanceUserStream) closeKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.rest.Do(ctx, s.keyRequest(http.MethodDelete, key)); err != nil {
		logs.Warnf("ingest: close binance listen key, err: %+v", err)
	}
}

func (s *BinanceUserStream) keyRequest(method, key string) network.Request {
	return network.Request{
		Method: method,
		Path:   _binanceListenKeyPath,
		Query:  url.Values{"listenKey": {key}},
	}
}
