// Package transporttest provides an in-memory transport whose streams follow
// per-account scripts.
package transporttest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/transport"
)

// Script describes how the stream of one account behaves.
type Script struct {
	Rows      []model.Row     // delivered in order
	Err       error           // terminal error; nil completes normally
	FailAfter int             // with Err set, fail after this many rows (default: after all rows)
	Delay     time.Duration   // before the terminal event
	RowDelay  time.Duration   // between rows
	SubmitErr error           // reject the submission synchronously
	Gate      <-chan struct{} // terminal event waits for the gate to close
}

// Span records when one stream ran.
type Span struct {
	Account model.AccountID
	Query   model.QueryText
	Start   time.Time
	End     time.Time
}

// Scripted implements transport.Transport from scripts keyed by account.
type Scripted struct {
	mu      sync.Mutex
	scripts map[string]Script
	byQuery map[string]map[string]Script
	spans   []Span
	settled int
	wg      sync.WaitGroup
}

// New returns a transport with the given per-account scripts.
func New(scripts map[string]Script) *Scripted {
	if scripts == nil {
		scripts = map[string]Script{}
	}
	return &Scripted{scripts: scripts, byQuery: map[string]map[string]Script{}}
}

// SetQueryScript overrides the script of one account for one query.
func (s *Scripted) SetQueryScript(query, account string, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byQuery[query] == nil {
		s.byQuery[query] = map[string]Script{}
	}
	s.byQuery[query][account] = script
}

// Rows builds n simple keyword rows.
func Rows(n int) []model.Row {
	rows := make([]model.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, model.Row{
			"keyword_plan.id":                    float64(1000 + i),
			"keyword_plan_campaign.id":           float64(2000 + i),
			"keyword_plan_ad_group.id":           float64(3000 + i),
			"keyword_plan_ad_group_keyword.id":   float64(4000 + i),
			"keyword_plan_ad_group_keyword.text": "keyword " + string(rune('a'+(i-1)%26)),
		})
	}
	return rows
}

func (s *Scripted) script(req transport.SearchRequest) Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.byQuery[req.Query]; ok {
		if sc, ok := q[req.AccountID]; ok {
			return sc
		}
	}
	return s.scripts[req.AccountID]
}

// SearchStream plays the account's script on its own goroutine.
func (s *Scripted) SearchStream(ctx context.Context, req transport.SearchRequest, obs transport.Observer) error {
	sc := s.script(req)
	if sc.SubmitErr != nil {
		return sc.SubmitErr
	}

	s.mu.Lock()
	idx := len(s.spans)
	s.spans = append(s.spans, Span{
		Account: model.AccountID(req.AccountID),
		Query:   model.QueryText(req.Query),
		Start:   time.Now(),
	})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// The span ends before the terminal event so a caller woken by it
		// never observes an open span.
		finish := func(terminal func()) {
			s.mu.Lock()
			s.spans[idx].End = time.Now()
			s.mu.Unlock()

			terminal()

			s.mu.Lock()
			s.settled++
			s.mu.Unlock()
		}
		fail := func(err error) {
			finish(func() { obs.OnError(err) })
		}

		obs.OnStart()
		limit := len(sc.Rows)
		if sc.Err != nil && sc.FailAfter > 0 && sc.FailAfter < limit {
			limit = sc.FailAfter
		}
		for i := 0; i < limit; i++ {
			if sc.RowDelay > 0 && !sleep(ctx, sc.RowDelay) {
				fail(ctx.Err())
				return
			}
			obs.OnRow(sc.Rows[i])
		}
		if sc.Delay > 0 && !sleep(ctx, sc.Delay) {
			fail(ctx.Err())
			return
		}
		if sc.Gate != nil {
			select {
			case <-sc.Gate:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}
		if sc.Err != nil {
			fail(sc.Err)
			return
		}
		finish(obs.OnComplete)
	}()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until every started stream delivered its terminal event.
func (s *Scripted) Wait() {
	s.wg.Wait()
}

// Settled returns the number of streams whose terminal event has been
// delivered and returned.
func (s *Scripted) Settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// Spans returns the recorded stream spans ordered by start time.
func (s *Scripted) Spans() []Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Span(nil), s.spans...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// ErrRateLimited is a convenient scripted failure.
var ErrRateLimited = errors.New("RATE_LIMITED")
