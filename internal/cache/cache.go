package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

type set[K comparable] map[K]struct{}

func (s set[K]) add(k K) { s[k] = struct{}{} }

// orderRecord carries the secondary indexes with the order so LoadAll can
// rebuild them.
type orderRecord struct {
	Order      *model.Order     `json:"order"`
	PositionID model.PositionID `json:"position_id,omitempty"`
	ClientID   model.ClientID   `json:"client_id,omitempty"`
}

// Filter narrows order and position queries. Zero fields match anything.
type Filter struct {
	Venue        model.Venue
	InstrumentID model.InstrumentID
	StrategyID   model.StrategyID
}

func (f Filter) matchOrder(o *model.Order) bool {
	if f.Venue != "" && o.InstrumentID.Venue != f.Venue {
		return false
	}
	if !f.InstrumentID.IsZero() && o.InstrumentID != f.InstrumentID {
		return false
	}
	return f.StrategyID == "" || o.StrategyID == f.StrategyID
}

func (f Filter) matchPosition(p *model.Position) bool {
	if f.Venue != "" && p.InstrumentID.Venue != f.Venue {
		return false
	}
	if !f.InstrumentID.IsZero() && p.InstrumentID != f.InstrumentID {
		return false
	}
	return f.StrategyID == "" || p.StrategyID == f.StrategyID
}

// Cache is safe for concurrent use. Getters return copies; entities change
// only through the mutators.
type Cache struct {
	mu sync.RWMutex

	currencies  map[string]model.Currency
	instruments map[model.InstrumentID]model.Instrument
	accounts    map[model.AccountID]*model.Account
	orders      map[model.ClientOrderID]*model.Order
	positions   map[model.PositionID]*model.Position
	general     map[string][]byte

	venueOrders    map[model.VenueOrderID]model.ClientOrderID
	orderPositions map[model.ClientOrderID]model.PositionID
	orderClients   map[model.ClientOrderID]model.ClientID
	ordersOpen     set[model.ClientOrderID]
	ordersClosed   set[model.ClientOrderID]
	ordersInflight set[model.ClientOrderID]

	writer  *writer
	metrics *obs.Metrics
}

type Option func(*Cache)

// WithDatabase enables write-behind to db, holding at most limit pending
// records.
func WithDatabase(db Database, limit int) Option {
	return func(c *Cache) {
		if db != nil {
			c.writer = newWriter(db, limit)
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(opts ...Option) *Cache {
	c := &Cache{}
	c.reset()
	for _, opt := range opts {
		opt(c)
	}
	if c.writer != nil {
		c.writer.metrics = c.metrics
	}
	return c
}

func (c *Cache) reset() {
	c.currencies = make(map[string]model.Currency)
	c.instruments = make(map[model.InstrumentID]model.Instrument)
	c.accounts = make(map[model.AccountID]*model.Account)
	c.orders = make(map[model.ClientOrderID]*model.Order)
	c.positions = make(map[model.PositionID]*model.Position)
	c.general = make(map[string][]byte)
	c.venueOrders = make(map[model.VenueOrderID]model.ClientOrderID)
	c.orderPositions = make(map[model.ClientOrderID]model.PositionID)
	c.orderClients = make(map[model.ClientOrderID]model.ClientID)
	c.ordersOpen = make(set[model.ClientOrderID])
	c.ordersClosed = make(set[model.ClientOrderID])
	c.ordersInflight = make(set[model.ClientOrderID])
}

// LoadAll replaces the cache content with the backing's. Without a backing
// it only clears the cache.
func (c *Cache) LoadAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	if c.writer == nil {
		return nil
	}
	for _, kind := range RecordKinds() {
		records, err := c.writer.db.Load(ctx, kind)
		if err != nil {
			return errors.Wrapf(err, "load %s", kind)
		}
		for _, rec := range records {
			if err := c.restore(rec); err != nil {
				return errors.Wrapf(err, "restore %s %s", kind, rec.Key)
			}
		}
	}
	logs.Infof("cache: loaded %d currencies, %d instruments, %d accounts, %d orders, %d positions",
		len(c.currencies), len(c.instruments), len(c.accounts), len(c.orders), len(c.positions))
	return nil
}

func (c *Cache) restore(rec Record) error {
	api := sonic.ConfigFastest
	switch rec.Kind {
	case RecordCurrency:
		var cur model.Currency
		if err := api.Unmarshal(rec.Value, &cur); err != nil {
			return err
		}
		c.currencies[cur.Code] = cur
	case RecordInstrument:
		var inst model.Instrument
		if err := api.Unmarshal(rec.Value, &inst); err != nil {
			return err
		}
		c.instruments[inst.ID] = inst
	case RecordAccount:
		var acc model.Account
		if err := api.Unmarshal(rec.Value, &acc); err != nil {
			return err
		}
		c.accounts[acc.ID] = &acc
	case RecordOrder:
		var r orderRecord
		if err := api.Unmarshal(rec.Value, &r); err != nil {
			return err
		}
		if r.Order == nil {
			return errors.Wrap(exception.ErrCacheMissing, "order body")
		}
		c.orders[r.Order.ClientOrderID] = r.Order
		c.indexOrder(r.Order)
		if r.PositionID != "" {
			c.orderPositions[r.Order.ClientOrderID] = r.PositionID
		}
		if r.ClientID != "" {
			c.orderClients[r.Order.ClientOrderID] = r.ClientID
		}
	case RecordPosition:
		var p model.Position
		if err := api.Unmarshal(rec.Value, &p); err != nil {
			return err
		}
		c.positions[p.ID] = &p
	case RecordGeneral:
		c.general[rec.Key] = rec.Value
	default:
		return errors.Wrapf(exception.ErrCacheUnknownRecord, "%d", rec.Kind)
	}
	return nil
}

// persist queues a record for the backing. Callers hold c.mu.
func (c *Cache) persist(kind RecordKind, key string, v any) {
	if c.writer == nil {
		return
	}
	value, ok := v.([]byte)
	if !ok {
		var err error
		if value, err = sonic.ConfigFastest.Marshal(v); err != nil {
			logs.Errorf("cache: marshal %s %s, err: %+v", kind, key, err)
			return
		}
	}
	c.writer.enqueue(Record{Kind: kind, Key: key, Value: value})
}

func (c *Cache) AddCurrency(cur model.Currency) error {
	if cur.Code == "" {
		return errors.Wrap(exception.ErrCacheInvalidKey, "currency code")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currencies[cur.Code] = cur
	c.persist(RecordCurrency, cur.Code, cur)
	return nil
}

func (c *Cache) Currency(code string) (model.Currency, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, ok := c.currencies[code]
	return cur, ok
}

func (c *Cache) AddInstrument(inst model.Instrument) error {
	if inst.ID.IsZero() {
		return errors.Wrap(exception.ErrCacheInvalidKey, "instrument id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.ID] = inst
	c.persist(RecordInstrument, inst.ID.String(), inst)
	return nil
}

func (c *Cache) Instrument(id model.InstrumentID) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[id]
	return inst, ok
}

// Instruments lists the instruments of venue, or all when venue is empty,
// sorted by id.
func (c *Cache) Instruments(venue model.Venue) []model.Instrument {
	c.mu.RLock()
	out := make([]model.Instrument, 0, len(c.instruments))
	for _, inst := range c.instruments {
		if venue == "" || inst.ID.Venue == venue {
			out = append(out, inst)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// AddAccount stores or replaces an account.
func (c *Cache) AddAccount(acc model.Account) error {
	if acc.ID == "" {
		return errors.Wrap(exception.ErrCacheInvalidKey, "account id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := acc
	stored.Balances = append([]model.AccountBalance(nil), acc.Balances...)
	c.accounts[acc.ID] = &stored
	c.persist(RecordAccount, string(acc.ID), &stored)
	return nil
}

func (c *Cache) Account(id model.AccountID) (model.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.accounts[id]
	if !ok {
		return model.Account{}, false
	}
	out := *acc
	out.Balances = append([]model.AccountBalance(nil), acc.Balances...)
	return out, true
}

// indexOrder refreshes the venue id and status sets. Callers hold c.mu.
func (c *Cache) indexOrder(o *model.Order) {
	if o.VenueOrderID != "" {
		c.venueOrders[o.VenueOrderID] = o.ClientOrderID
	}
	delete(c.ordersOpen, o.ClientOrderID)
	delete(c.ordersClosed, o.ClientOrderID)
	delete(c.ordersInflight, o.ClientOrderID)
	switch {
	case o.Status.IsClosed():
		c.ordersClosed.add(o.ClientOrderID)
	case o.Status.IsOpen():
		c.ordersOpen.add(o.ClientOrderID)
	}
	if o.Status.IsInflight() {
		c.ordersInflight.add(o.ClientOrderID)
	}
}

func (c *Cache) persistOrder(o *model.Order) {
	c.persist(RecordOrder, string(o.ClientOrderID), orderRecord{
		Order:      o,
		PositionID: c.orderPositions[o.ClientOrderID],
		ClientID:   c.orderClients[o.ClientOrderID],
	})
}

// AddOrder stores a new order with its position and client indexes.
func (c *Cache) AddOrder(o *model.Order, positionID model.PositionID, clientID model.ClientID, overwrite bool) error {
	if o == nil || o.ClientOrderID == "" {
		return errors.Wrap(exception.ErrCacheInvalidKey, "client order id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[o.ClientOrderID]; ok && !overwrite {
		return errors.Wrapf(exception.ErrCacheDuplicate, "order %s", o.ClientOrderID)
	}
	stored := o.Clone()
	c.orders[o.ClientOrderID] = stored
	if positionID != "" {
		c.orderPositions[o.ClientOrderID] = positionID
	}
	if clientID != "" {
		c.orderClients[o.ClientOrderID] = clientID
	}
	c.indexOrder(stored)
	c.persistOrder(stored)
	return nil
}

// UpdateOrder replaces an existing order after an event was applied.
func (c *Cache) UpdateOrder(o *model.Order) error {
	if o == nil {
		return errors.Wrap(exception.ErrCacheInvalidKey, "nil order")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[o.ClientOrderID]; !ok {
		return errors.Wrapf(exception.ErrCacheMissing, "order %s", o.ClientOrderID)
	}
	stored := o.Clone()
	c.orders[o.ClientOrderID] = stored
	if o.PositionID != "" {
		c.orderPositions[o.ClientOrderID] = o.PositionID
	}
	c.indexOrder(stored)
	c.persistOrder(stored)
	return nil
}

func (c *Cache) Order(id model.ClientOrderID) (*model.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o.Clone(), ok
}

func (c *Cache) OrderExists(id model.ClientOrderID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.orders[id]
	return ok
}

// ClientOrderID resolves a venue order id.
func (c *Cache) ClientOrderID(venueID model.VenueOrderID) (model.ClientOrderID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.venueOrders[venueID]
	return id, ok
}

func (c *Cache) PositionIDFor(id model.ClientOrderID) (model.PositionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.orderPositions[id]
	return p, ok
}

func (c *Cache) ClientIDFor(id model.ClientOrderID) (model.ClientID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.orderClients[id]
	return cl, ok
}

func (c *Cache) collectOrders(orders map[model.ClientOrderID]*model.Order, in set[model.ClientOrderID], f Filter) []*model.Order {
	var out []*model.Order
	if in == nil {
		for _, o := range orders {
			if f.matchOrder(o) {
				out = append(out, o.Clone())
			}
		}
	} else {
		for id := range in {
			if o := orders[id]; o != nil && f.matchOrder(o) {
				out = append(out, o.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TsInit != out[j].TsInit {
			return out[i].TsInit < out[j].TsInit
		}
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

// Orders returns every matching order, oldest first.
func (c *Cache) Orders(f Filter) []*model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orders, nil, f)
}

func (c *Cache) OrdersOpen(f Filter) []*model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orders, c.ordersOpen, f)
}

func (c *Cache) OrdersClosed(f Filter) []*model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orders, c.ordersClosed, f)
}

// OrdersInflight returns orders awaiting a venue answer.
func (c *Cache) OrdersInflight(f Filter) []*model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orders, c.ordersInflight, f)
}

// AddPosition stores or replaces a position.
func (c *Cache) AddPosition(p *model.Position) error {
	if p == nil || p.ID == "" {
		return errors.Wrap(exception.ErrCacheInvalidKey, "position id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := p.Clone()
	c.positions[p.ID] = stored
	c.persist(RecordPosition, string(p.ID), stored)
	return nil
}

func (c *Cache) Position(id model.PositionID) (*model.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	return p.Clone(), ok
}

// Positions returns matching positions sorted by id; openOnly skips flat
// ones.
func (c *Cache) Positions(f Filter, openOnly bool) []*model.Position {
	c.mu.RLock()
	out := make([]*model.Position, 0, len(c.positions))
	for _, p := range c.positions {
		if f.matchPosition(p) && (!openOnly || !p.IsFlat()) {
			out = append(out, p.Clone())
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add stores a generic blob.
func (c *Cache) Add(key string, value []byte) error {
	if key == "" {
		return errors.Wrap(exception.ErrCacheInvalidKey, "empty key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v := append([]byte(nil), value...)
	c.general[key] = v
	c.persist(RecordGeneral, key, v)
	return nil
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.general[key]
	return append([]byte(nil), v...), ok
}

// Run drains the write-behind queue until ctx is done, then flushes.
func (c *Cache) Run(ctx context.Context) error {
	if c.writer == nil {
		<-ctx.Done()
		return nil
	}
	return c.writer.run(ctx)
}

// Flush writes every pending record to the backing.
func (c *Cache) Flush(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.flush(ctx)
}

// Close flushes and closes the backing.
func (c *Cache) Close(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	if err := c.writer.flush(ctx); err != nil {
		logs.Errorf("cache: final flush, err: %+v", err)
	}
	return c.writer.db.Close()
}
