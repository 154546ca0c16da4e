package pcsc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// Error is a smart card service failure. Its value is the native status
// code, so errors compare with == and errors.Is.
type Error native.Code

const (
	// Hard failures.
	ErrInternalError          = Error(native.FInternalError)
	ErrCancelled              = Error(native.ECancelled)
	ErrInvalidHandle          = Error(native.EInvalidHandle)
	ErrInvalidParameter       = Error(native.EInvalidParameter)
	ErrInvalidTarget          = Error(native.EInvalidTarget)
	ErrNoMemory               = Error(native.ENoMemory)
	ErrWaitedTooLong          = Error(native.FWaitedTooLong)
	ErrInsufficientBuffer     = Error(native.EInsufficientBuffer)
	ErrUnknownReader          = Error(native.EUnknownReader)
	ErrTimeout                = Error(native.ETimeout)
	ErrSharingViolation       = Error(native.ESharingViolation)
	ErrNoSmartcard            = Error(native.ENoSmartcard)
	ErrUnknownCard            = Error(native.EUnknownCard)
	ErrCantDispose            = Error(native.ECantDispose)
	ErrProtoMismatch          = Error(native.EProtoMismatch)
	ErrNotReady               = Error(native.ENotReady)
	ErrInvalidValue           = Error(native.EInvalidValue)
	ErrSystemCancelled        = Error(native.ESystemCancelled)
	ErrCommError              = Error(native.FCommError)
	ErrUnknownError           = Error(native.FUnknownError)
	ErrInvalidAtr             = Error(native.EInvalidAtr)
	ErrNotTransacted          = Error(native.ENotTransacted)
	ErrReaderUnavailable      = Error(native.EReaderUnavailable)
	ErrShutdown               = Error(native.PShutdown)
	ErrPciTooSmall            = Error(native.EPciTooSmall)
	ErrReaderUnsupported      = Error(native.EReaderUnsupported)
	ErrDuplicateReader        = Error(native.EDuplicateReader)
	ErrCardUnsupported        = Error(native.ECardUnsupported)
	ErrNoService              = Error(native.ENoService)
	ErrServiceStopped         = Error(native.EServiceStopped)
	ErrUnexpected             = Error(native.EUnexpected)
	ErrIccInstallation        = Error(native.EIccInstallation)
	ErrIccCreateorder         = Error(native.EIccCreateorder)
	ErrUnsupportedFeature     = Error(native.EUnsupportedFeature)
	ErrDirNotFound            = Error(native.EDirNotFound)
	ErrFileNotFound           = Error(native.EFileNotFound)
	ErrNoDir                  = Error(native.ENoDir)
	ErrNoFile                 = Error(native.ENoFile)
	ErrNoAccess               = Error(native.ENoAccess)
	ErrWriteTooMany           = Error(native.EWriteTooMany)
	ErrBadSeek                = Error(native.EBadSeek)
	ErrInvalidChv             = Error(native.EInvalidChv)
	ErrUnknownResMng          = Error(native.EUnknownResMng)
	ErrNoSuchCertificate      = Error(native.ENoSuchCertificate)
	ErrCertificateUnavailable = Error(native.ECertificateUnavailable)
	ErrNoReadersAvailable     = Error(native.ENoReadersAvailable)
	ErrCommDataLost           = Error(native.ECommDataLost)
	ErrNoKeyContainer         = Error(native.ENoKeyContainer)
	ErrServerTooBusy          = Error(native.EServerTooBusy)

	// Warnings.
	ErrUnsupportedCard      = Error(native.WUnsupportedCard)
	ErrUnresponsiveCard     = Error(native.WUnresponsiveCard)
	ErrUnpoweredCard        = Error(native.WUnpoweredCard)
	ErrResetCard            = Error(native.WResetCard)
	ErrRemovedCard          = Error(native.WRemovedCard)
	ErrSecurityViolation    = Error(native.WSecurityViolation)
	ErrWrongChv             = Error(native.WWrongChv)
	ErrChvBlocked           = Error(native.WChvBlocked)
	ErrEOF                  = Error(native.WEOF)
	ErrCancelledByUser      = Error(native.WCancelledByUser)
	ErrCardNotAuthenticated = Error(native.WCardNotAuthenticated)
	ErrCacheItemNotFound    = Error(native.WCacheItemNotFound)
	ErrCacheItemStale       = Error(native.WCacheItemStale)
	ErrCacheItemTooBig      = Error(native.WCacheItemTooBig)
)

var errorText = map[Error]string{
	ErrInternalError:          "internal error",
	ErrCancelled:              "action cancelled",
	ErrInvalidHandle:          "invalid handle",
	ErrInvalidParameter:       "invalid parameter",
	ErrInvalidTarget:          "invalid target",
	ErrNoMemory:               "not enough memory",
	ErrWaitedTooLong:          "waited too long",
	ErrInsufficientBuffer:     "insufficient buffer",
	ErrUnknownReader:          "unknown reader",
	ErrTimeout:                "timeout",
	ErrSharingViolation:       "sharing violation",
	ErrNoSmartcard:            "no smart card in reader",
	ErrUnknownCard:            "unknown card",
	ErrCantDispose:            "cannot dispose of card",
	ErrProtoMismatch:          "protocol mismatch",
	ErrNotReady:               "reader or card not ready",
	ErrInvalidValue:           "invalid value",
	ErrSystemCancelled:        "action cancelled by the system",
	ErrCommError:              "internal communications error",
	ErrUnknownError:           "unknown error",
	ErrInvalidAtr:             "invalid ATR",
	ErrNotTransacted:          "not transacted",
	ErrReaderUnavailable:      "reader unavailable",
	ErrShutdown:               "operation aborted for shutdown",
	ErrPciTooSmall:            "PCI receive buffer too small",
	ErrReaderUnsupported:      "reader driver unsupported",
	ErrDuplicateReader:        "duplicate reader name",
	ErrCardUnsupported:        "card unsupported",
	ErrNoService:              "smart card service not running",
	ErrServiceStopped:         "smart card service stopped",
	ErrUnexpected:             "unexpected card error",
	ErrIccInstallation:        "no primary provider for the card",
	ErrIccCreateorder:         "requested creation order not supported",
	ErrUnsupportedFeature:     "unsupported feature",
	ErrDirNotFound:            "directory not found",
	ErrFileNotFound:           "file not found",
	ErrNoDir:                  "path is not a directory",
	ErrNoFile:                 "path is not a file",
	ErrNoAccess:               "access denied",
	ErrWriteTooMany:           "card is full",
	ErrBadSeek:                "error setting file pointer",
	ErrInvalidChv:             "invalid PIN",
	ErrUnknownResMng:          "unknown resource manager error",
	ErrNoSuchCertificate:      "no such certificate",
	ErrCertificateUnavailable: "certificate unavailable",
	ErrNoReadersAvailable:     "no readers available",
	ErrCommDataLost:           "communications data lost",
	ErrNoKeyContainer:         "no key container",
	ErrServerTooBusy:          "smart card service too busy",
	ErrUnsupportedCard:        "card does not support the requested protocol",
	ErrUnresponsiveCard:       "card is unresponsive",
	ErrUnpoweredCard:          "card is unpowered",
	ErrResetCard:              "card was reset",
	ErrRemovedCard:            "card was removed",
	ErrSecurityViolation:      "security violation",
	ErrWrongChv:               "wrong PIN",
	ErrChvBlocked:             "PIN blocked",
	ErrEOF:                    "end of file",
	ErrCancelledByUser:        "cancelled by user",
	ErrCardNotAuthenticated:   "card not authenticated",
	ErrCacheItemNotFound:      "cache item not found",
	ErrCacheItemStale:         "cache item stale",
	ErrCacheItemTooBig:        "cache item too big",
}

func (e Error) Error() string {
	if s, ok := errorText[e]; ok {
		return "pcsc: " + s
	}
	return fmt.Sprintf("pcsc: error %#x", uint32(e))
}

// Code returns the native status code.
func (e Error) Code() int64 {
	return int64(e)
}

// IsWarning reports whether e belongs to the warning block (card
// state and credential conditions rather than service failures).
func (e Error) IsWarning() bool {
	return e >= ErrUnsupportedCard && e <= ErrCacheItemTooBig
}

// errorFromRaw maps a non-success status code to an Error. Codes outside
// the two known blocks become ErrUnknownError.
func errorFromRaw(raw native.Code) Error {
	e := Error(raw)
	if (e >= ErrInternalError && e <= ErrServerTooBusy) ||
		(e >= ErrUnsupportedCard && e <= ErrCacheItemTooBig) {
		return e
	}
	return ErrUnknownError
}

// reportedCodes holds the unrecognized status codes already logged.
var reportedCodes sync.Map

// check turns a status code into a Go error. The first occurrence of each
// unrecognized code is logged with its raw value.
func check(code native.Code) error {
	if code == native.Success {
		return nil
	}
	err := errorFromRaw(code)
	if err == ErrUnknownError && Error(code) != ErrUnknownError {
		if _, seen := reportedCodes.LoadOrStore(code, struct{}{}); !seen {
			logging.Warn(logging.CatContext, "Unknown PC/SC status code", map[string]any{
				"code": fmt.Sprintf("%#x", uint32(code)),
			})
		}
	}
	return err
}

// ErrCardBorrowed is returned when an operation needs the card exclusively
// while a Transaction still holds it.
var ErrCardBorrowed = errors.New("pcsc: card is held by an open transaction")

// ReleaseError is returned by Context.Release. The Context is still valid
// and may be released again.
type ReleaseError struct {
	Context *Context
	Err     Error
}

func (e *ReleaseError) Error() string { return "release context: " + e.Err.Error() }
func (e *ReleaseError) Unwrap() error { return e.Err }

// DisconnectError is returned by Card.Disconnect. The Card is still
// connected and may be disconnected again.
type DisconnectError struct {
	Card *Card
	Err  Error
}

func (e *DisconnectError) Error() string { return "disconnect card: " + e.Err.Error() }
func (e *DisconnectError) Unwrap() error { return e.Err }

// EndError is returned by Transaction.End. The Transaction is still open
// and may be ended again.
type EndError struct {
	Transaction *Transaction
	Err         Error
}

func (e *EndError) Error() string { return "end transaction: " + e.Err.Error() }
func (e *EndError) Unwrap() error { return e.Err }
