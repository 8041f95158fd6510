package telephony

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAnswered is returned for operations that need an established dialog.
	ErrNotAnswered = errors.New("call not answered")
	// ErrLegClosed is returned once the leg has been torn down.
	ErrLegClosed = errors.New("leg closed")
)

// TransferError reports a REFER that the remote side did not accept.
type TransferError struct {
	Target    string
	SIPCode   int
	SIPReason string
}

func (e *TransferError) Error() string {
	if e.SIPCode == 0 {
		return fmt.Sprintf("transfer to %s failed: no response", e.Target)
	}
	return fmt.Sprintf("transfer to %s failed: %d %s", e.Target, e.SIPCode, e.SIPReason)
}

// StatusCode returns the SIP status of the rejected REFER.
func (e *TransferError) StatusCode() int { return e.SIPCode }

// RegistrationError reports a REGISTER rejected by the registrar.
type RegistrationError struct {
	Registrar string
	SIPCode   int
	SIPReason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration with %s failed: %d %s", e.Registrar, e.SIPCode, e.SIPReason)
}
