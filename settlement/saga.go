/*
saga.go - Generic undo stack for multi-record writes

PURPOSE:
  The record store has no cross-record transactions, so every multi
  record write sequence carries its own compensation. Each forward step
  pushes the action that undoes it; on failure the stack unwinds in
  reverse order, best effort.

  Compensation failures are logged and swallowed: the caller must
  always see the ORIGINAL error, never a cleanup error masking it.
*/
package settlement

import (
	"context"

	"github.com/sirupsen/logrus"
)

// sagaState names where a settlement is in its lifecycle. Used for
// logging; there is no partial-success terminal state.
type sagaState string

const (
	stateValidating          sagaState = "validating"
	stateCommittingPayment   sagaState = "committing_payment"
	stateApplyingCreditNotes sagaState = "applying_credit_notes"
	stateApplyingLedger      sagaState = "applying_ledger"
	stateApplyingAllocations sagaState = "applying_allocations"
	stateDone                sagaState = "done"
	stateCompensating        sagaState = "compensating"
)

type undoStep struct {
	label string
	fn    func(context.Context) error
}

// saga accumulates compensating actions for one settlement attempt.
type saga struct {
	log   *logrus.Entry
	state sagaState
	undo  []undoStep
}

func newSaga(log *logrus.Entry) *saga {
	return &saga{log: log, state: stateValidating}
}

func (s *saga) enter(state sagaState) {
	s.state = state
}

// push records the compensating action for a step that just succeeded.
func (s *saga) push(label string, fn func(context.Context) error) {
	s.undo = append(s.undo, undoStep{label: label, fn: fn})
}

// compensate unwinds the stack in reverse order. Sub-failures are
// logged, never returned.
func (s *saga) compensate(ctx context.Context) {
	s.state = stateCompensating
	for i := len(s.undo) - 1; i >= 0; i-- {
		step := s.undo[i]
		if err := step.fn(ctx); err != nil {
			s.log.WithFields(logrus.Fields{
				"step":  step.label,
				"state": string(s.state),
			}).Error("compensation step failed: " + err.Error())
		}
	}
	s.undo = nil
}
