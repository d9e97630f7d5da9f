package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ExclusiveTransport lets at most one stream per account be open at a time,
// across every caller sharing it. A stream holds its account's lease from
// submission until its terminal event has been delivered; SearchStream waits
// for the lease or for ctx.
type ExclusiveTransport struct {
	next Transport

	mu     sync.Mutex
	leases map[string]*lease
}

type lease struct {
	sem  chan struct{}
	refs int
}

// Exclusive wraps tr. Wrapping an ExclusiveTransport returns it unchanged.
func Exclusive(tr Transport) *ExclusiveTransport {
	if ex, ok := tr.(*ExclusiveTransport); ok {
		return ex
	}
	return &ExclusiveTransport{next: tr, leases: map[string]*lease{}}
}

// SearchStream implements Transport.
func (t *ExclusiveTransport) SearchStream(ctx context.Context, req SearchRequest, obs Observer) error {
	l := t.ref(req.AccountID)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		t.unref(req.AccountID)
		return errors.Wrapf(ctx.Err(), "waiting for account %s", req.AccountID)
	}

	release := func() {
		<-l.sem
		t.unref(req.AccountID)
	}
	lo := &leasedObserver{Observer: obs, release: release}
	if err := t.next.SearchStream(ctx, req, lo); err != nil {
		lo.done()
		return err
	}
	return nil
}

// Unwrap returns the wrapped transport.
func (t *ExclusiveTransport) Unwrap() Transport { return t.next }

func (t *ExclusiveTransport) ref(account string) *lease {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[account]
	if !ok {
		l = &lease{sem: make(chan struct{}, 1)}
		t.leases[account] = l
	}
	l.refs++
	return l
}

func (t *ExclusiveTransport) unref(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.leases[account]
	if l.refs--; l.refs == 0 {
		delete(t.leases, account)
	}
}

// leasedObserver releases the lease once the terminal event returned.
type leasedObserver struct {
	Observer
	once    sync.Once
	release func()
}

func (o *leasedObserver) OnError(err error) {
	defer o.done()
	o.Observer.OnError(err)
}

func (o *leasedObserver) OnComplete() {
	defer o.done()
	o.Observer.OnComplete()
}

func (o *leasedObserver) done() {
	o.once.Do(o.release)
}
