package j1939

import (
	"fmt"
)

const (
	// AddressGlobal is destination address meaning "all nodes" (broadcast).
	AddressGlobal = uint8(0xff)
	// AddressNull is source address used by nodes that have not (or could not) claim an address.
	AddressNull = uint8(0xfe)

	// pdu2Threshold is first PDU format value where PDU specific byte is group extension and not destination address.
	pdu2Threshold = 0xf0
)

// Parameter group numbers used by network management and transport protocol.
const (
	// PGNRequest (59904, 0xEA00) requests other node to send given PGN.
	PGNRequest = uint32(0xea00)
	// PGNAddressClaimed (60928, 0xEE00) carries NAME of node claiming source address.
	PGNAddressClaimed = uint32(0xee00)
	// PGNTPConnectionManagement (60416, 0xEC00) is TP.CM control frame (RTS, CTS, EOM Ack, BAM, Abort).
	PGNTPConnectionManagement = uint32(0xec00)
	// PGNTPDataTransfer (60160, 0xEB00) is TP.DT data segment frame.
	PGNTPDataTransfer = uint32(0xeb00)
	// PGNCommandedAddress (65240, 0xFED8) is 9 byte message commanding node with given NAME to new address.
	PGNCommandedAddress = uint32(0xfed8)
)

// PGN is Parameter Group Number together with other header fields that are packed into 29-bit CAN identifier.
type PGN struct {
	// Priority is 3 bits, 0 being highest priority
	Priority uint8 `json:"priority"`
	// DataPage is 1 bit
	DataPage uint8 `json:"data_page"`
	// PDUFormat values below 240 (0xF0) are PDU1 (peer-to-peer) messages, 240 and above are PDU2 (broadcast)
	PDUFormat uint8 `json:"pdu_format"`
	// PDUSpecific is destination address for PDU1 messages and group extension for PDU2 messages
	PDUSpecific uint8 `json:"pdu_specific"`
	// Source is address of sender
	Source uint8 `json:"source"`
}

// NewPGN creates PGN and checks that fields fit into their bit ranges.
func NewPGN(priority uint8, dataPage uint8, pduFormat uint8, pduSpecific uint8, source uint8) (PGN, error) {
	if priority > 7 {
		return PGN{}, fmt.Errorf("priority must be in range 0-7, got: %v: %w", priority, ErrInvalidPayload)
	}
	if dataPage > 1 {
		return PGN{}, fmt.Errorf("data page must be 0 or 1, got: %v: %w", dataPage, ErrInvalidPayload)
	}
	return PGN{
		Priority:    priority,
		DataPage:    dataPage,
		PDUFormat:   pduFormat,
		PDUSpecific: pduSpecific,
		Source:      source,
	}, nil
}

// PGNFromNumber creates PGN from 18-bit parameter group number. For PDU1 numbers destination is placed into PDU
// specific byte, for PDU2 numbers destination is ignored as group extension is part of the number.
func PGNFromNumber(number uint32, priority uint8, source uint8, destination uint8) PGN {
	p := PGN{
		Priority:    priority & 0x7,
		DataPage:    uint8(number>>16) & 0x1,
		PDUFormat:   uint8(number >> 8),
		PDUSpecific: uint8(number),
		Source:      source,
	}
	if p.PDUFormat < pdu2Threshold {
		p.PDUSpecific = destination
	}
	return p
}

// ID encodes PGN into 29-bit CAN identifier.
func (p PGN) ID() uint32 {
	id := uint32(p.Source)             // bits 0-7
	id |= uint32(p.PDUSpecific) << 8   // bits 8-15
	id |= uint32(p.PDUFormat) << 16    // bits 16-23
	id |= uint32(p.DataPage&0x1) << 24 // bit 24
	id |= uint32(p.Priority&0x7) << 26 // bit 26,27,28
	return id
}

// ParseID decodes 29-bit CAN identifier into PGN. All bit patterns are valid. Bit 25 (extended data page) and bits
// above 28 are ignored.
func ParseID(id uint32) PGN {
	return PGN{
		Priority:    uint8((id >> 26) & 0x7), // bit 26,27,28
		DataPage:    uint8((id >> 24) & 0x1), // bit 24
		PDUFormat:   uint8(id >> 16),         // bits 16-23
		PDUSpecific: uint8(id >> 8),          // bits 8-15
		Source:      uint8(id),               // bits 0-7
	}
}

// IsPDU1 returns true when PDU specific byte is destination address.
func (p PGN) IsPDU1() bool {
	return p.PDUFormat < pdu2Threshold
}

// Destination returns destination address for PDU1 messages and AddressGlobal for PDU2 messages.
func (p PGN) Destination() uint8 {
	if p.IsPDU1() {
		return p.PDUSpecific
	}
	return AddressGlobal
}

// Number returns 18-bit parameter group number. For PDU1 messages destination address is not part of the number.
func (p PGN) Number() uint32 {
	n := uint32(p.DataPage&0x1)<<16 | uint32(p.PDUFormat)<<8
	if !p.IsPDU1() {
		n |= uint32(p.PDUSpecific)
	}
	return n
}

func (p PGN) String() string {
	return fmt.Sprintf("%v (prio: %v, src: %v, dst: %v)", p.Number(), p.Priority, p.Source, p.Destination())
}

// MaxFilters is maximum number of filters that can be installed to Link at once.
const MaxFilters = 64

// Filter is encoded identifier/mask pair used to narrow which frames Link delivers. Mask bit 0 means "don't care".
type Filter struct {
	ID   uint32
	Mask uint32
}

// FilterMask encodes PGN and mask PGN into filter pair.
func FilterMask(pgn PGN, mask PGN) Filter {
	return Filter{
		ID:   pgn.ID(),
		Mask: mask.ID(),
	}
}

// FilterPGN creates filter matching all frames with given parameter group number regardless of priority, source
// and (for PDU1) destination.
func FilterPGN(number uint32) Filter {
	mask := PGN{DataPage: 1, PDUFormat: 0xff}
	if uint8(number>>8) >= pdu2Threshold {
		mask.PDUSpecific = 0xff
	}
	return FilterMask(PGNFromNumber(number, 0, 0, 0), mask)
}

// Match checks if identifier is accepted by filter.
func (f Filter) Match(id uint32) bool {
	return id&f.Mask == f.ID&f.Mask
}

// ValidateFilters checks that filter list is not empty and does not exceed MaxFilters.
func ValidateFilters(filters []Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("filter list is empty: %w", ErrInvalidPayload)
	}
	if len(filters) > MaxFilters {
		return fmt.Errorf("filter list has %v filters, maximum is %v: %w", len(filters), MaxFilters, ErrInvalidPayload)
	}
	return nil
}

// MatchAny checks if identifier is accepted by any of the filters. Empty filter list accepts everything.
func MatchAny(filters []Filter, id uint32) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Match(id) {
			return true
		}
	}
	return false
}
