package domain

import (
	"fmt"
	"strings"
	"time"

	"conditional-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// Command is the closed set of transfer commands.
type Command interface {
	TransferID() uuid.UUID
	isCommand()
}

// PrepareTransfer creates a transfer held in escrow until fulfilled or rejected.
type PrepareTransfer struct {
	ID                 uuid.UUID
	Ledger             string
	Debits             []Entry
	Credits            []Entry
	ExecutionCondition string
	ExpiresAt          time.Time
}

// FulfillTransfer presents the proof that releases a prepared transfer.
type FulfillTransfer struct {
	ID          uuid.UUID
	Fulfillment string
}

// RejectTransfer cancels a prepared transfer. An empty Type means CANCELED.
type RejectTransfer struct {
	ID     uuid.UUID
	Reason string
	Type   RejectionType
}

func (c PrepareTransfer) TransferID() uuid.UUID { return c.ID }
func (c FulfillTransfer) TransferID() uuid.UUID { return c.ID }
func (c RejectTransfer) TransferID() uuid.UUID  { return c.ID }

func (PrepareTransfer) isCommand() {}
func (FulfillTransfer) isCommand() {}
func (RejectTransfer) isCommand()  {}

// Decision is the outcome of a command: the resulting transfer and the
// events to append. No events means the command was an idempotent replay.
type Decision struct {
	Transfer *Transfer
	Events   []EventPayload
	Existing bool
}

// Decide applies cmd to the current transfer state (nil if none exists).
// It performs no I/O.
func Decide(current *Transfer, cmd Command, now time.Time) (Decision, error) {
	switch c := cmd.(type) {
	case PrepareTransfer:
		return decidePrepare(current, c, now)
	case FulfillTransfer:
		return decideFulfill(current, c, now)
	case RejectTransfer:
		return decideReject(current, c, now)
	default:
		return Decision{}, apperror.InternalError(fmt.Errorf("unknown command %T", cmd))
	}
}

func decidePrepare(current *Transfer, cmd PrepareTransfer, now time.Time) (Decision, error) {
	if current != nil {
		if !current.matchesIntent(cmd) {
			return Decision{}, apperror.ErrAlreadyExists(cmd.ID.String())
		}
		return Decision{Transfer: current.Clone(), Existing: true}, nil
	}

	if err := validatePrepare(cmd, now); err != nil {
		return Decision{}, err
	}

	next := &Transfer{
		ID:                 cmd.ID,
		Ledger:             cmd.Ledger,
		Debits:             append([]Entry(nil), cmd.Debits...),
		Credits:            append([]Entry(nil), cmd.Credits...),
		ExecutionCondition: cmd.ExecutionCondition,
		ExpiresAt:          cmd.ExpiresAt.UTC(),
		State:              TransferStatePrepared,
		Version:            1,
		PreparedAt:         now.UTC(),
	}
	return Decision{
		Transfer: next,
		Events:   []EventPayload{TransferPrepared{Transfer: *next.Clone()}},
	}, nil
}

func validatePrepare(cmd PrepareTransfer, now time.Time) error {
	if cmd.ID == uuid.Nil {
		return apperror.ErrInvalidTransfer("transfer id is required")
	}
	if strings.TrimSpace(cmd.Ledger) == "" {
		return apperror.ErrInvalidTransfer("ledger is required")
	}
	if len(cmd.Debits) == 0 || len(cmd.Credits) == 0 {
		return apperror.ErrInvalidTransfer("transfer needs at least one debit and one credit")
	}
	for _, list := range [][]Entry{cmd.Debits, cmd.Credits} {
		for _, e := range list {
			if strings.TrimSpace(e.Account) == "" {
				return apperror.ErrInvalidTransfer("entry account is required")
			}
			if !e.Amount.IsPositive() {
				return apperror.ErrInvalidTransfer(fmt.Sprintf("amount for %s must be positive", e.Account))
			}
		}
	}
	debits, credits := sumEntries(cmd.Debits), sumEntries(cmd.Credits)
	if !debits.Equal(credits) {
		return apperror.ErrInvalidTransfer(fmt.Sprintf("debits (%s) and credits (%s) do not balance", debits, credits))
	}

	cond, err := ParseCondition(cmd.ExecutionCondition)
	if err != nil {
		return err
	}
	if err := cond.Validate(); err != nil {
		return err
	}

	if cmd.ExpiresAt.IsZero() {
		return apperror.ErrInvalidTransfer("expires_at is required")
	}
	if !cmd.ExpiresAt.After(now) {
		return apperror.ErrInvalidTransfer("expires_at must be in the future")
	}
	return nil
}

func decideFulfill(current *Transfer, cmd FulfillTransfer, now time.Time) (Decision, error) {
	if current == nil {
		return Decision{}, apperror.ErrNotFound("Transfer")
	}

	switch current.State {
	case TransferStateExecuted:
		if current.Fulfillment == cmd.Fulfillment {
			return Decision{Transfer: current.Clone(), Existing: true}, nil
		}
		return Decision{}, apperror.ErrUnpreparedTransfer("Transfer has already been executed with a different fulfillment")
	case TransferStateRejected:
		return Decision{}, apperror.ErrUnpreparedTransfer("Transfer has already been rejected")
	}

	if current.IsExpired(now) {
		return Decision{}, apperror.ErrTransferExpired()
	}

	cond, err := ParseCondition(current.ExecutionCondition)
	if err != nil {
		return Decision{}, apperror.InternalError(fmt.Errorf("stored condition for %s: %w", current.ID, err))
	}
	ff, err := ParseFulfillment(cmd.Fulfillment)
	if err != nil {
		return Decision{}, err
	}
	if !VerifyFulfillment(cond, ff) {
		return Decision{}, apperror.ErrUnmetCondition()
	}

	next := current.Clone()
	executedAt := now.UTC()
	next.State = TransferStateExecuted
	next.Fulfillment = cmd.Fulfillment
	next.ExecutedAt = &executedAt
	next.Version = current.Version + 1

	return Decision{
		Transfer: next,
		Events:   []EventPayload{TransferExecuted{Transfer: *next.Clone(), Fulfillment: cmd.Fulfillment}},
	}, nil
}

func decideReject(current *Transfer, cmd RejectTransfer, now time.Time) (Decision, error) {
	rejectionType := cmd.Type
	if rejectionType == "" {
		rejectionType = RejectionTypeCanceled
	}
	if !rejectionType.IsValid() {
		return Decision{}, apperror.ErrInvalidTransfer(fmt.Sprintf("unknown rejection type %q", cmd.Type))
	}
	if current == nil {
		return Decision{}, apperror.ErrNotFound("Transfer")
	}

	switch current.State {
	case TransferStateRejected:
		// Idempotent only when both the reason and the rejection type match.
		if current.RejectionReason == cmd.Reason && current.RejectionType == rejectionType {
			return Decision{Transfer: current.Clone(), Existing: true}, nil
		}
		return Decision{}, apperror.ErrUnpreparedTransfer("Transfer has already been rejected with a different reason")
	case TransferStateExecuted:
		return Decision{}, apperror.ErrUnpreparedTransfer("Transfer has already been executed")
	}

	next := current.Clone()
	rejectedAt := now.UTC()
	next.State = TransferStateRejected
	next.RejectionReason = cmd.Reason
	next.RejectionType = rejectionType
	next.RejectedAt = &rejectedAt
	next.Version = current.Version + 1

	return Decision{
		Transfer: next,
		Events: []EventPayload{TransferRejected{
			Transfer:        *next.Clone(),
			RejectionReason: cmd.Reason,
			RejectionType:   rejectionType,
		}},
	}, nil
}

// Fold applies one committed event to state and returns the new state.
// state is never mutated.
func Fold(state *Transfer, evt Event) *Transfer {
	var next *Transfer

	switch p := evt.Payload.(type) {
	case TransferPrepared:
		snapshot := p.Transfer
		next = snapshot.Clone()
		next.State = TransferStatePrepared
	case TransferExecuted:
		next = foldBase(state, p.Transfer)
		next.State = TransferStateExecuted
		next.Fulfillment = p.Fulfillment
		next.ExecutedAt = eventTime(p.Transfer.ExecutedAt, evt.OccurredAt)
	case TransferRejected:
		next = foldBase(state, p.Transfer)
		next.State = TransferStateRejected
		next.RejectionReason = p.RejectionReason
		next.RejectionType = p.RejectionType
		next.RejectedAt = eventTime(p.Transfer.RejectedAt, evt.OccurredAt)
	default:
		return state
	}

	next.Version = evt.Version
	return next
}

// foldBase continues from the known state, or from the event's snapshot
// when the earlier history is unavailable.
func foldBase(state *Transfer, snapshot Transfer) *Transfer {
	if state != nil {
		return state.Clone()
	}
	return snapshot.Clone()
}

func eventTime(recorded *time.Time, occurredAt time.Time) *time.Time {
	at := occurredAt.UTC()
	if recorded != nil {
		at = *recorded
	}
	return &at
}

// Replay folds an ordered event history into the current transfer state.
// It returns nil for an empty history.
func Replay(events []Event) *Transfer {
	var state *Transfer
	for _, evt := range events {
		state = Fold(state, evt)
	}
	return state
}
