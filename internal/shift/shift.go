package shift

import (
	"errors"
	"fmt"
)

// Status is the cashier shift lifecycle state. The legal transitions are
//
//	closed -> open            (open with a non-negative balance)
//	open -> closed            (immediate reconciliation)
//	open -> pending_close     (reconciliation deferred)
//	pending_close -> closed   (deferred reconciliation completed)
//
// Every other transition is rejected locally, before any network call.
type Status string

const (
	StatusClosed       Status = "closed"
	StatusOpen         Status = "open"
	StatusPendingClose Status = "pending_close"
)

var (
	ErrAlreadyOpen     = errors.New("shift is already open")
	ErrAlreadyClosed   = errors.New("shift is already closed")
	ErrNotOpen         = errors.New("no open shift")
	ErrNegativeBalance = errors.New("opening balance must not be negative")
	ErrBadTarget       = errors.New("invalid closing status")
)

func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusClosed, StatusOpen, StatusPendingClose:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadTarget, raw)
	}
}

// Machine tracks one cashier session's shift state. It is pure bookkeeping:
// callers check the guard, perform the remote call, and apply the transition
// only after the remote call succeeded.
type Machine struct {
	status  Status
	shiftID string
}

func NewMachine() *Machine {
	return &Machine{status: StatusClosed}
}

// Restore rebuilds the machine from the backend's persisted shift status,
// used when a terminal reconnects mid-shift.
func Restore(status Status, shiftID string) (*Machine, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	if status != StatusClosed && shiftID == "" {
		return nil, fmt.Errorf("shift id required for status %s", status)
	}
	return &Machine{status: status, shiftID: shiftID}, nil
}

func (m *Machine) Status() Status {
	return m.status
}

func (m *Machine) ShiftID() string {
	return m.shiftID
}

// SellingAllowed is the single source of truth for whether sale entry and
// checkout are permitted.
func (m *Machine) SellingAllowed() bool {
	return m.status == StatusOpen
}

func (m *Machine) CanOpen(openingBalanceCents int64) error {
	if openingBalanceCents < 0 {
		return ErrNegativeBalance
	}
	switch m.status {
	case StatusOpen:
		return ErrAlreadyOpen
	case StatusPendingClose:
		return fmt.Errorf("shift %s awaits final reconciliation", m.shiftID)
	default:
		return nil
	}
}

// Open records the shift id returned by the shift service. CanOpen must have
// been checked before the remote call.
func (m *Machine) Open(shiftID string, openingBalanceCents int64) error {
	if err := m.CanOpen(openingBalanceCents); err != nil {
		return err
	}
	if shiftID == "" {
		return errors.New("shift service returned empty shift id")
	}
	m.status = StatusOpen
	m.shiftID = shiftID
	return nil
}

func (m *Machine) CanClose(target Status) error {
	if target != StatusClosed && target != StatusPendingClose {
		return fmt.Errorf("%w: %q", ErrBadTarget, target)
	}
	switch m.status {
	case StatusClosed:
		return ErrAlreadyClosed
	case StatusPendingClose:
		if target == StatusPendingClose {
			return fmt.Errorf("shift %s is already pending close", m.shiftID)
		}
		return nil
	default:
		return nil
	}
}

// Close applies the closing transition after the shift service confirmed it.
func (m *Machine) Close(target Status) error {
	if err := m.CanClose(target); err != nil {
		return err
	}
	m.status = target
	if target == StatusClosed {
		m.shiftID = ""
	}
	return nil
}
