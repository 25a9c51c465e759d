package codec

import (
	"encoding/binary"
	"fmt"
)

// Record Access Control Point opcodes.
const (
	RACPOpReportStoredRecords   = 0x01
	RACPOpDeleteStoredRecords   = 0x02
	RACPOpAbort                 = 0x03
	RACPOpReportNumberOfRecords = 0x04
	RACPOpNumberOfRecordsResp   = 0x05
	RACPOpResponseCode          = 0x06
)

// RACP operators.
const (
	RACPOperatorNull       = 0x00
	RACPOperatorAllRecords = 0x01
)

// RACP response codes (byte 3 of a generic response).
const (
	RACPRespSuccess          = 0x01
	RACPRespOpNotSupported   = 0x02
	RACPRespNoRecordsFound   = 0x06
	RACPRespProcedureAborted = 0x07
)

// EncodeRACPCommand builds the 2-byte client command buffer.
func EncodeRACPCommand(opcode, operator byte) []byte {
	return []byte{opcode, operator}
}

// RACPResponse is a decoded control point indication.
type RACPResponse struct {
	Opcode   byte
	Operator byte

	// NumberOfRecords is set for a number-of-records response (0x05).
	NumberOfRecords uint16

	// RequestOpcode and ResponseCode are set for a generic response (0x06).
	RequestOpcode byte
	ResponseCode  byte
}

// Success reports whether the response signals successful completion of
// the requested procedure.
func (r *RACPResponse) Success() bool {
	return r.Opcode == RACPOpNumberOfRecordsResp ||
		(r.Opcode == RACPOpResponseCode && r.ResponseCode == RACPRespSuccess)
}

// DecodeRACPResponse decodes a control point notification buffer.
func DecodeRACPResponse(buf []byte) (*RACPResponse, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("RACP response too short: %d bytes", len(buf))
	}
	resp := &RACPResponse{Opcode: buf[0], Operator: buf[1]}
	switch resp.Opcode {
	case RACPOpNumberOfRecordsResp:
		if len(buf) < 4 {
			return nil, fmt.Errorf("RACP count response too short: %d bytes", len(buf))
		}
		resp.NumberOfRecords = binary.LittleEndian.Uint16(buf[2:4])
	case RACPOpResponseCode:
		if len(buf) < 4 {
			return nil, fmt.Errorf("RACP generic response too short: %d bytes", len(buf))
		}
		resp.RequestOpcode = buf[2]
		resp.ResponseCode = buf[3]
	default:
		return nil, fmt.Errorf("unexpected RACP response opcode 0x%02x", resp.Opcode)
	}
	return resp, nil
}
