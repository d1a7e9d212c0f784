// Package ingest runs the market data clients. A Client owns one venue
// socket, reference counts its subscriptions, decodes frames through a
// decode.Session and posts the events into the bus runner's inbox.
package ingest

import (
	"context"

	"tradecore/internal/decode"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/network"
)

// EndpointData receives every decoded market data event.
const EndpointData = "data.ingest"

// Venue adapts one exchange to the data client.
type Venue interface {
	network.ControlEncoder

	Name() model.Venue
	// Stream names the venue stream carrying topic for inst.
	Stream(inst model.Instrument, topic enum.Topic) (string, error)
	// Decoder is shared by the socket session and snapshot decoding; the
	// client serialises access to it.
	Decoder() decode.Decoder
}

// Snapshotter is implemented by venues that serve depth snapshots over
// REST. Fetch must be safe for concurrent use; Decode is called under the
// client's decoder lock.
type Snapshotter interface {
	FetchSnapshot(ctx context.Context, inst model.Instrument) ([]byte, error)
	DecodeSnapshot(inst model.Instrument, body []byte) (decode.Event, error)
}
