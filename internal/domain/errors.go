package domain

import "errors"

var (
	ErrInvalidCallID     = errors.New("invalid call id")
	ErrCallNotFound      = errors.New("call not found")
	ErrUnknownState      = errors.New("unknown call state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSlotHeld          = errors.New("slot already held")
	ErrInvalidSlotID     = errors.New("invalid slot id")
	ErrInvalidHoldID     = errors.New("invalid hold id")
	ErrConcurrentUpdate  = errors.New("concurrent update")
)
