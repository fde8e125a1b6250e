package marketdata

// ChanSubscriber delivers updates into a buffered channel, dropping when the
// consumer lags so the poller never blocks
type ChanSubscriber struct {
	id string
	ch chan Update
}

func NewChanSubscriber(id string, buffer int) *ChanSubscriber {
	return &ChanSubscriber{
		id: id,
		ch: make(chan Update, buffer),
	}
}

func (s *ChanSubscriber) ID() string {
	return s.id
}

func (s *ChanSubscriber) Updates() <-chan Update {
	return s.ch
}

func (s *ChanSubscriber) Deliver(update Update) {
	select {
	case s.ch <- update:
	default:
	}
}
