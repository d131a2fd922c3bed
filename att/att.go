// Package att implements the wire-level constants and framing rules
// of the Attribute Protocol: opcodes, error codes, and a little-endian
// read/write cursor shared by the HCI, ATT, and GATT layers.
package att

import "fmt"

// Opcode is a one-byte ATT PDU opcode.
type Opcode uint8

// Request/response/command opcodes defined by spec.md §6.
const (
	OpError              Opcode = 0x01
	OpExchangeMTUReq     Opcode = 0x02
	OpExchangeMTUResp    Opcode = 0x03
	OpFindInfoReq        Opcode = 0x04
	OpFindInfoResp       Opcode = 0x05
	OpFindByTypeValueReq Opcode = 0x06
	OpFindByTypeValResp  Opcode = 0x07
	OpReadByTypeReq      Opcode = 0x08
	OpReadByTypeResp     Opcode = 0x09
	OpReadReq            Opcode = 0x0A
	OpReadResp           Opcode = 0x0B
	OpReadBlobReq        Opcode = 0x0C
	OpReadBlobResp       Opcode = 0x0D
	OpReadMultiReq       Opcode = 0x0E
	OpReadMultiResp      Opcode = 0x0F
	OpReadByGroupTypeReq Opcode = 0x10
	OpReadByGroupResp    Opcode = 0x11
	OpWriteReq           Opcode = 0x12
	OpWriteResp          Opcode = 0x13
	OpPrepareWriteReq    Opcode = 0x16
	OpPrepareWriteResp   Opcode = 0x17
	OpExecuteWriteReq    Opcode = 0x18
	OpExecuteWriteResp   Opcode = 0x19
	OpHandleValueNotify  Opcode = 0x1B
	OpHandleValueInd     Opcode = 0x1D
	OpHandleValueCnf     Opcode = 0x1E
	OpWriteCmd           Opcode = 0x52
	OpSignedWriteCmd     Opcode = 0xD2
)

// RespFor maps a request opcode to its successful response opcode.
var RespFor = map[Opcode]Opcode{
	OpExchangeMTUReq:     OpExchangeMTUResp,
	OpFindInfoReq:        OpFindInfoResp,
	OpFindByTypeValueReq: OpFindByTypeValResp,
	OpReadByTypeReq:      OpReadByTypeResp,
	OpReadReq:            OpReadResp,
	OpReadBlobReq:        OpReadBlobResp,
	OpReadMultiReq:       OpReadMultiResp,
	OpReadByGroupTypeReq: OpReadByGroupResp,
	OpWriteReq:           OpWriteResp,
	OpPrepareWriteReq:    OpPrepareWriteResp,
	OpExecuteWriteReq:    OpExecuteWriteResp,
}

// Error is a one-byte ATT error code, carried in an Error Response
// PDU or returned internally by opcode handlers.
type Error uint8

// Success is the distinguished zero value meaning no error.
const Success Error = 0x00

// Standard ATT error codes, per spec.md §7.
const (
	ErrInvalidHandle          Error = 0x01
	ErrReadNotPermitted       Error = 0x02
	ErrWriteNotPermitted      Error = 0x03
	ErrInvalidPDU             Error = 0x04
	ErrInsufficientAuth       Error = 0x05
	ErrRequestNotSupported    Error = 0x06
	ErrInvalidOffset          Error = 0x07
	ErrInsufficientAuthor     Error = 0x08
	ErrPrepareQueueFull       Error = 0x09
	ErrAttributeNotFound      Error = 0x0A
	ErrAttributeNotLong       Error = 0x0B
	ErrInsufficientEncKeySize Error = 0x0C
	ErrInvalidAttrValueLen    Error = 0x0D
	ErrUnlikely               Error = 0x0E
	ErrInsufficientEnc        Error = 0x0F
	ErrUnsupportedGroupType   Error = 0x10
	ErrInsufficientResources  Error = 0x11
	ErrWriteRequestRejected   Error = 0xFC
	ErrCCCDImproperlyConfig   Error = 0xFD
	ErrProcedureAlreadyInProg Error = 0xFE
	ErrOutOfRange             Error = 0xFF
)

var errNames = map[Error]string{
	Success:                   "SUCCESS",
	ErrInvalidHandle:          "INVALID_HANDLE",
	ErrReadNotPermitted:       "READ_NOT_PERMITTED",
	ErrWriteNotPermitted:      "WRITE_NOT_PERMITTED",
	ErrInvalidPDU:             "INVALID_PDU",
	ErrInsufficientAuth:       "INSUFFICIENT_AUTHENTICATION",
	ErrRequestNotSupported:    "REQUEST_NOT_SUPPORTED",
	ErrInvalidOffset:          "INVALID_OFFSET",
	ErrInsufficientAuthor:     "INSUFFICIENT_AUTHORIZATION",
	ErrPrepareQueueFull:       "PREPARE_QUEUE_FULL",
	ErrAttributeNotFound:      "ATTRIBUTE_NOT_FOUND",
	ErrAttributeNotLong:       "ATTRIBUTE_NOT_LONG",
	ErrInsufficientEncKeySize: "INSUFFICIENT_ENCRYPTION_KEY_SIZE",
	ErrInvalidAttrValueLen:    "INVALID_ATTRIBUTE_VALUE_LENGTH",
	ErrUnlikely:               "UNLIKELY_ERROR",
	ErrInsufficientEnc:        "INSUFFICIENT_ENCRYPTION",
	ErrUnsupportedGroupType:   "UNSUPPORTED_GROUP_TYPE",
	ErrInsufficientResources:  "INSUFFICIENT_RESOURCES",
	ErrWriteRequestRejected:   "WRITE_REQUEST_REJECTED",
	ErrCCCDImproperlyConfig:   "CLIENT_CHARACTERISTIC_CONFIGURATION_DESCRIPTOR_IMPROPERLY_CONFIGURED",
	ErrProcedureAlreadyInProg: "PROCEDURE_ALREADY_IN_PROGRESS",
	ErrOutOfRange:             "OUT_OF_RANGE",
}

func (e Error) String() string {
	if n, ok := errNames[e]; ok {
		return n
	}
	if e >= 0x80 && e <= 0x9F {
		return fmt.Sprintf("APPLICATION_ERROR(0x%02X)", uint8(e))
	}
	return fmt.Sprintf("UNKNOWN_ERROR(0x%02X)", uint8(e))
}

// Err returns e as a Go error, or nil if e is Success. Error
// Response PDUs that carry a literal 0x00 status are substituted
// with ErrUnlikely by the caller before reaching here, per spec.md §7.
func (e Error) Err() error {
	if e == Success {
		return nil
	}
	return wireError{e}
}

type wireError struct{ code Error }

func (w wireError) Error() string { return w.code.String() }

// Code extracts the wire Error from err if err originated from Err,
// or ErrUnlikely otherwise. Intended for callers that need the raw
// byte to put on the wire.
func Code(err error) Error {
	if err == nil {
		return Success
	}
	if we, ok := err.(wireError); ok {
		return we.code
	}
	return ErrUnlikely
}

// ErrorResponse builds the 5-byte Error Response PDU for a request
// with opcode op on handle h with status s. A status of 0x00 in an
// error response is nonsensical on the wire and is coerced to
// ErrUnlikely, per spec.md §7.
func ErrorResponse(op Opcode, h uint16, s Error) []byte {
	if s == Success {
		s = ErrUnlikely
	}
	return []byte{byte(OpError), byte(op), byte(h), byte(h >> 8), byte(s)}
}
