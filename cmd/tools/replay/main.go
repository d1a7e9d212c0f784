package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/yanun0323/logs"

	"tradecore/internal/book"
	"tradecore/internal/decode"
	bdecode "tradecore/internal/decode/binance"
	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
)

// replay feeds a recorded directory through the venue decoder into a book
// engine and prints the final state of every book.
func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config with the instruments")
	dir := flag.String("dir", "testdata/frames", "Recorded frame directory")
	prefix := flag.String("prefix", "", "Segment file prefix (default: frames)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	verbose := flag.Bool("v", false, "Print every frame")
	flag.Parse()

	loaded, err := ops.Load(*configPath, "")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var list []model.Instrument
	for _, inst := range loaded.Instruments {
		if inst.ID.Venue == bdecode.Venue {
			list = append(list, inst)
		}
	}
	decoder := bdecode.New(decode.NewInstruments(bdecode.Venue, list...))
	metrics := obs.NewMetrics()
	books := book.NewEngine(loaded.Book, book.WithMetrics(metrics))

	var frames, skipped, failed int
	err = pb.Run(context.Background(), func(f recorder.Frame) error {
		frames++
		if *verbose {
			fmt.Printf("%06d seq=%d source=%s kind=%s ts_recv=%d len=%d\n", frames, f.Seq, f.Source, f.Kind, f.TsRecv, len(f.Payload))
		}
		if f.Source != bdecode.Venue {
			skipped++
			return nil
		}

		var ev decode.Event
		var err error
		switch f.Kind {
		case recorder.FrameSnapshot:
			ev, err = decoder.DecodeDepthSnapshot(f.Symbol, f.Payload)
		case recorder.FrameJSON:
			ev, err = decoder.Decode(f.Payload)
		default:
			skipped++
			return nil
		}
		if err != nil {
			failed++
			logs.Debugf("replay: frame %d, err: %+v", f.Seq, err)
			return nil
		}

		switch ev.Kind {
		case decode.EventDeltas:
			err = books.ApplyBatch(ev.Deltas)
		case decode.EventDepth:
			err = books.ApplyDepth(*ev.Depth)
		}
		if err != nil {
			logs.Warnf("replay: frame %d, err: %+v", f.Seq, err)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}

	fmt.Printf("frames=%d skipped=%d undecodable=%d batches=%d resyncs=%d\n",
		frames, skipped, failed, metrics.Count(obs.CounterBookBatch), metrics.Count(obs.CounterBookResync))
	for _, id := range books.Instruments() {
		v, ok := books.View(id)
		if !ok {
			continue
		}
		bid, ask := "-", "-"
		if v.BestBid != nil {
			bid = v.BestBid.Price.String() + "@" + v.BestBid.Size.String()
		}
		if v.BestAsk != nil {
			ask = v.BestAsk.Price.String() + "@" + v.BestAsk.Size.String()
		}
		fmt.Printf("%s state=%s seq=%d updates=%d bid=%s ask=%s\n", id, v.State, v.Sequence, v.UpdateCount, bid, ask)
	}
}
