package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tradevault/settlement-router/internal/interfaces"
	"github.com/tradevault/settlement-router/internal/lib"
)

// Fanout owns the symbol -> subscriber registry. A poll job exists iff a
// symbol has at least one subscriber: the first subscriber starts it, the
// last unsubscribe tears it down and evicts the cache entry. Each symbol's
// poller is an independent task, a stall on one symbol never delays another.
type Fanout struct {
	// config
	pollInterval     time.Duration
	fetchTimeout     time.Duration
	maxSubscriptions int

	// state
	mu           sync.Mutex
	symbols      map[string]*symbolHub
	bySubscriber map[string]lib.Set // subscriber id -> symbols
	count        int                // total (symbol, subscriber) pairs
	closed       bool

	// deps
	source Source
	cache  *Cache
	log    interfaces.ILogger
}

type symbolHub struct {
	market      Market
	subscribers map[string]Subscriber
	task        *lib.Task
}

func NewFanout(source Source, cache *Cache, pollInterval, fetchTimeout time.Duration, maxSubscriptions int, log interfaces.ILogger) *Fanout {
	return &Fanout{
		pollInterval:     pollInterval,
		fetchTimeout:     fetchTimeout,
		maxSubscriptions: maxSubscriptions,
		symbols:          make(map[string]*symbolHub),
		bySubscriber:     make(map[string]lib.Set),
		source:           source,
		cache:            cache,
		log:              log,
	}
}

// Subscribe adds the subscriber to the symbol set. The first subscriber for a
// symbol starts its poll job. A cached quote, if present, is replayed to the
// new subscriber immediately so a late joiner does not wait for the next tick.
// ctx bounds the lifetime of the poll job and must outlive the subscription,
// pass the application context, not a request context.
func (f *Fanout) Subscribe(ctx context.Context, symbol string, sub Subscriber) error {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}

	f.mu.Lock()

	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("fanout is closed")
	}

	hub, exists := f.symbols[symbol]
	if exists {
		if _, dup := hub.subscribers[sub.ID()]; dup {
			f.mu.Unlock()
			return nil
		}
	}

	if f.count >= f.maxSubscriptions {
		f.mu.Unlock()
		return lib.WrapError(ErrSubscriptionLimitExceeded, fmt.Errorf("capacity %d", f.maxSubscriptions))
	}

	if !exists {
		hub = &symbolHub{
			market:      ClassifySymbol(symbol),
			subscribers: make(map[string]Subscriber),
		}
		hub.task = lib.NewTaskFunc(func(taskCtx context.Context) error {
			return f.poll(taskCtx, symbol, hub.market)
		}, "poll-"+symbol)
		f.symbols[symbol] = hub
	}

	hub.subscribers[sub.ID()] = sub
	set, ok := f.bySubscriber[sub.ID()]
	if !ok {
		set = lib.NewSet()
		f.bySubscriber[sub.ID()] = set
	}
	set.Add(symbol)
	f.count++

	cached, hasCached := f.cache.Get(symbol)

	if !exists {
		f.log.Infof("starting poll job for %s (%s)", symbol, hub.market)
		hub.task.Start(ctx)
	}

	f.mu.Unlock()

	if hasCached {
		sub.Deliver(Update{Symbol: symbol, Quote: cached, Cached: true})
	}

	return nil
}

// Unsubscribe removes the subscriber from the symbol. When the set becomes
// empty the poll job is stopped and the cache entry evicted.
func (f *Fanout) Unsubscribe(symbol, subscriberID string) {
	symbol = NormalizeSymbol(symbol)

	f.mu.Lock()
	stop := f.removeLocked(symbol, subscriberID)
	f.mu.Unlock()

	if stop != nil {
		<-stop
	}
}

// UnsubscribeAll removes the subscriber from every symbol it watches, used on
// disconnect
func (f *Fanout) UnsubscribeAll(subscriberID string) {
	f.mu.Lock()
	var stops []<-chan struct{}
	if set, ok := f.bySubscriber[subscriberID]; ok {
		for _, symbol := range set.ToSlice() {
			if stop := f.removeLocked(symbol, subscriberID); stop != nil {
				stops = append(stops, stop)
			}
		}
	}
	f.mu.Unlock()

	for _, stop := range stops {
		<-stop
	}
}

// removeLocked detaches the subscriber and returns a stop channel when the
// symbol's poller must be torn down. Caller holds f.mu.
func (f *Fanout) removeLocked(symbol, subscriberID string) <-chan struct{} {
	hub, ok := f.symbols[symbol]
	if !ok {
		return nil
	}
	if _, ok := hub.subscribers[subscriberID]; !ok {
		return nil
	}

	delete(hub.subscribers, subscriberID)
	f.count--

	if set, ok := f.bySubscriber[subscriberID]; ok {
		set.Remove(symbol)
		if set.Len() == 0 {
			delete(f.bySubscriber, subscriberID)
		}
	}

	if len(hub.subscribers) > 0 {
		return nil
	}

	// no interest left: tear down the poller, no stale polling for
	// unwatched symbols
	delete(f.symbols, symbol)
	f.cache.Evict(symbol)
	f.log.Infof("stopping poll job for %s", symbol)
	return hub.task.Stop()
}

// Close stops every poll job. Used on shutdown.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	var stops []<-chan struct{}
	for symbol, hub := range f.symbols {
		stops = append(stops, hub.task.Stop())
		f.cache.Evict(symbol)
		delete(f.symbols, symbol)
	}
	f.bySubscriber = make(map[string]lib.Set)
	f.count = 0
	f.mu.Unlock()

	for _, stop := range stops {
		<-stop
	}
}

// ActiveSymbols lists symbols currently being polled
func (f *Fanout) ActiveSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbols := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		symbols = append(symbols, s)
	}
	return symbols
}

// SubscriberCount returns the number of subscribers for a symbol
func (f *Fanout) SubscriberCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	hub, ok := f.symbols[NormalizeSymbol(symbol)]
	if !ok {
		return 0
	}
	return len(hub.subscribers)
}

// poll is the per-symbol job: fetch immediately, then on every tick, cache
// the result and emit it to the symbol's current subscribers. A fetch failure
// emits an error update and the next tick retries.
func (f *Fanout) poll(ctx context.Context, symbol string, market Market) error {
	f.fetchAndBroadcast(ctx, symbol, market)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.fetchAndBroadcast(ctx, symbol, market)
		}
	}
}

func (f *Fanout) fetchAndBroadcast(ctx context.Context, symbol string, market Market) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	quote, err := f.source.GetQuote(fetchCtx, symbol, market)
	if err != nil {
		if ctx.Err() != nil {
			return // poller shutting down
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = lib.WrapError(ErrFetchTimeout, err)
		} else if !errors.Is(err, ErrQuoteUnavailable) {
			err = lib.WrapError(ErrQuoteUnavailable, err)
		}
		f.log.Warnf("fetch %s failed: %s", symbol, err)
		f.broadcast(symbol, Update{Symbol: symbol, Err: err})
		return
	}

	f.cache.Set(symbol, quote)
	f.broadcast(symbol, Update{Symbol: symbol, Quote: quote})
}

func (f *Fanout) broadcast(symbol string, update Update) {
	f.mu.Lock()
	hub, ok := f.symbols[symbol]
	if !ok {
		f.mu.Unlock()
		return
	}
	subs := make([]Subscriber, 0, len(hub.subscribers))
	for _, sub := range hub.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Deliver(update)
	}
}
