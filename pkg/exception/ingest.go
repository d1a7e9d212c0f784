package exception

import "errors"

var (
	ErrIngestInvalidRequest = errors.New("ingest: invalid subscription")
	ErrIngestUnknownTopic   = errors.New("ingest: topic not subscribed")
	ErrIngestNoSnapshot     = errors.New("ingest: venue has no snapshot source")
)
