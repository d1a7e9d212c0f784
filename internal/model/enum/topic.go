package enum

// Topic is a market data stream kind a data client can subscribe to.
type Topic uint8

const (
	_topic_beg Topic = iota
	TopicDepth
	TopicTrade
	TopicQuote
	TopicOrder
	_topic_end
)

func (t Topic) IsAvailable() bool {
	return t > _topic_beg && t < _topic_end
}

func (t Topic) String() string {
	switch t {
	case TopicDepth:
		return "depth"
	case TopicTrade:
		return "trade"
	case TopicQuote:
		return "quote"
	case TopicOrder:
		return "order"
	default:
		return "unknown"
	}
}
