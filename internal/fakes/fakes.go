// Package fakes holds recording collaborators for tests.
package fakes

import (
	"context"
	"sync"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/shopspring/decimal"
)

// Ledger records postings. Fail maps "BIC/DIRECTION" to the error Post returns.
type Ledger struct {
	mu         sync.Mutex
	Postings   []models.LedgerPosting
	Reversals  []models.LedgerReversal
	Fail       map[string]error
	ReverseErr error
}

func NewLedger() *Ledger {
	return &Ledger{Fail: map[string]error{}}
}

func (l *Ledger) Post(_ context.Context, posting models.LedgerPosting) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Fail[posting.BIC+"/"+string(posting.Direction)]; err != nil {
		return err
	}
	l.Postings = append(l.Postings, posting)
	return nil
}

func (l *Ledger) Reverse(_ context.Context, reversal models.LedgerReversal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ReverseErr != nil {
		return l.ReverseErr
	}
	l.Reversals = append(l.Reversals, reversal)
	return nil
}

// Count returns how many postings match bic and direction.
func (l *Ledger) Count(bic string, dir models.Direction) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.Postings {
		if p.BIC == bic && p.Direction == dir {
			n++
		}
	}
	return n
}

func (l *Ledger) All() []models.LedgerPosting {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LedgerPosting(nil), l.Postings...)
}

func (l *Ledger) ReversalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Reversals)
}

// Leg is one clearing accumulation.
type Leg struct {
	BIC     string
	Amount  decimal.Decimal
	IsDebit bool
}

type Clearing struct {
	mu   sync.Mutex
	Legs []Leg
}

func (c *Clearing) Accumulate(_ context.Context, bic string, amount decimal.Decimal, isDebit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Legs = append(c.Legs, Leg{BIC: bic, Amount: amount, IsDebit: isDebit})
}

func (c *Clearing) All() []Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Leg(nil), c.Legs...)
}

// Directory serves institutions from a map and records failure reports.
type Directory struct {
	mu           sync.Mutex
	Institutions map[string]models.Institution
	Prefixes     map[string]string
	Err          error
	Failures     []string
}

func NewDirectory(banks ...models.Institution) *Directory {
	d := &Directory{Institutions: map[string]models.Institution{}, Prefixes: map[string]string{}}
	for _, b := range banks {
		d.Institutions[b.BIC] = b
	}
	return d
}

func (d *Directory) Institution(_ context.Context, bic string) (models.Institution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return models.Institution{}, d.Err
	}
	inst, ok := d.Institutions[bic]
	if !ok {
		return models.Institution{}, models.WrapSwitchError(models.ReasonInvalidAccount, models.ErrNotFound, "institution %s", bic)
	}
	return inst, nil
}

func (d *Directory) LookupByRoutingPrefix(_ context.Context, prefix string) (models.Institution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bic, ok := d.Prefixes[prefix]
	if !ok {
		return models.Institution{}, models.WrapSwitchError(models.ReasonRoutingMismatch, models.ErrNotFound, "no bank for prefix %s", prefix)
	}
	return d.Institutions[bic], nil
}

func (d *Directory) ReportFailure(_ context.Context, bic, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Failures = append(d.Failures, bic+":"+reason)
}

// Banks scripts destination bank behaviour.
type Banks struct {
	mu            sync.Mutex
	DeliverStatus []int // consumed per call, the last value repeats
	DeliverBody   string
	DeliverErr    error
	Delivered     int
	QueryResult   models.CallbackStatus
	QueryErr      error
	Queries       int
	ReturnNotices []string // "BIC:originalInstructionId"
	StatusReports []string // "BIC:status"
	LookupResult  models.AccountLookupResult
	LookupErr     error
	Lookups       []string // "BIC:accountId"
}

func (b *Banks) Deliver(context.Context, models.Institution, models.Instruction) (int, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Delivered++
	if b.DeliverErr != nil {
		return 0, "", b.DeliverErr
	}
	if len(b.DeliverStatus) == 0 {
		return 200, b.DeliverBody, nil
	}
	status := b.DeliverStatus[0]
	if len(b.DeliverStatus) > 1 {
		b.DeliverStatus = b.DeliverStatus[1:]
	}
	return status, b.DeliverBody, nil
}

func (b *Banks) QueryStatus(context.Context, models.Institution, string) (models.CallbackStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Queries++
	return b.QueryResult, b.QueryErr
}

func (b *Banks) NotifyReturn(_ context.Context, bank models.Institution, notice models.ReturnRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ReturnNotices = append(b.ReturnNotices, bank.BIC+":"+notice.Body.OriginalInstructionID)
	return nil
}

func (b *Banks) NotifyStatus(_ context.Context, bank models.Institution, report models.StatusReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StatusReports = append(b.StatusReports, bank.BIC+":"+string(report.Body.Status))
	return nil
}

func (b *Banks) LookupAccount(_ context.Context, bank models.Institution, accountID string) (models.AccountLookupResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Lookups = append(b.Lookups, bank.BIC+":"+accountID)
	return b.LookupResult, b.LookupErr
}

func (b *Banks) DeliverCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Delivered
}

// Returns records audit registry calls.
type Returns struct {
	mu          sync.Mutex
	Registered  []models.ReturnRecord
	Statuses    map[string]string
	RegisterErr error
}

func NewReturns() *Returns {
	return &Returns{Statuses: map[string]string{}}
}

func (r *Returns) Register(_ context.Context, rec models.ReturnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RegisterErr != nil {
		return r.RegisterErr
	}
	r.Registered = append(r.Registered, rec)
	return nil
}

func (r *Returns) UpdateStatus(_ context.Context, returnID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Statuses[returnID] = status
	return nil
}

// Message is one published event.
type Message struct {
	Topic string
	Key   string
	Event any
}

type Publisher struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (p *Publisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Messages = append(p.Messages, Message{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *Publisher) All() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.Messages...)
}

var (
	_ interfaces.Ledger          = (*Ledger)(nil)
	_ interfaces.Clearing        = (*Clearing)(nil)
	_ interfaces.Directory       = (*Directory)(nil)
	_ interfaces.BankGateway     = (*Banks)(nil)
	_ interfaces.ReturnsRegistry = (*Returns)(nil)
	_ interfaces.EventPublisher  = (*Publisher)(nil)
)
