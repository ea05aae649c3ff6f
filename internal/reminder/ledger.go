package reminder

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// lowCreditThreshold is the balance at or below which a trainer is warned.
const lowCreditThreshold = 10

// AdvisoryKind classifies an SMS credit advisory.
type AdvisoryKind string

const (
	AdvisoryOutOfCredits AdvisoryKind = "outOfSmsCredits"
	AdvisoryLowCredits   AdvisoryKind = "lowSmsCredits"
)

// CreditBalance is one trainer's SMS credit for the current run.
type CreditBalance struct {
	Starting int
	Current  int
}

// Advisory is a credit notice owed to a trainer at the end of a run.
type Advisory struct {
	TrainerID uuid.UUID
	Kind      AdvisoryKind
	Balance   CreditBalance
}

// Ledger tracks SMS credit per trainer within a single run. It is not safe for
// concurrent use and must not outlive the run that created it.
type Ledger struct {
	balances map[uuid.UUID]*CreditBalance
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[uuid.UUID]*CreditBalance)}
}

// Observe seeds a trainer's balance the first time the trainer is seen.
// Later observations are ignored so in-run decrements are kept.
func (l *Ledger) Observe(trainerID uuid.UUID, liveBalance int) {
	if _, ok := l.balances[trainerID]; ok {
		return
	}
	l.balances[trainerID] = &CreditBalance{Starting: liveBalance, Current: liveBalance}
}

// TryConsume takes one credit if any remain.
func (l *Ledger) TryConsume(trainerID uuid.UUID) bool {
	b, ok := l.balances[trainerID]
	if !ok || b.Current <= 0 {
		return false
	}
	b.Current--
	return true
}

// Balance returns the tracked balance for a trainer.
func (l *Ledger) Balance(trainerID uuid.UUID) (CreditBalance, bool) {
	b, ok := l.balances[trainerID]
	if !ok {
		return CreditBalance{}, false
	}
	return *b, true
}

// Advisories lists the credit notices owed, ordered by trainer id.
func (l *Ledger) Advisories() []Advisory {
	var out []Advisory
	for id, b := range l.balances {
		switch {
		case b.Starting > 0 && b.Current <= 0:
			out = append(out, Advisory{TrainerID: id, Kind: AdvisoryOutOfCredits, Balance: *b})
		case b.Starting > lowCreditThreshold && b.Current > 0 && b.Current <= lowCreditThreshold:
			out = append(out, Advisory{TrainerID: id, Kind: AdvisoryLowCredits, Balance: *b})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].TrainerID[:], out[j].TrainerID[:]) < 0
	})
	return out
}
