package frame

const (
	// GlobalAddress is the broadcast destination.
	GlobalAddress uint8 = 0xFF
	// NullAddress is used by nodes that have not claimed an address.
	NullAddress uint8 = 0xFE

	pdu2Threshold = 240
)

// ID is a decomposed 29-bit J1939 identifier.
type ID struct {
	Priority    uint8
	PGN         uint32
	Source      uint8
	Destination uint8
}

// Parse decomposes a 29-bit identifier. PDU1 identifiers (PF < 240) carry the
// destination in PS and have a PGN ending in 0x00. PDU2 identifiers are always
// broadcast and include PS in the PGN.
func Parse(identifier uint32) ID {
	pf := uint8(identifier >> 16)
	ps := uint8(identifier >> 8)
	id := ID{
		Priority: uint8(identifier>>26) & 0x7,
		Source:   uint8(identifier),
		PGN:      (identifier >> 8) & 0x3FF00,
	}
	if pf < pdu2Threshold {
		id.Destination = ps
	} else {
		id.Destination = GlobalAddress
		id.PGN |= uint32(ps)
	}
	return id
}

// PDU1 reports whether the PGN is destination specific.
func (id ID) PDU1() bool {
	return IsPDU1(id.PGN)
}

// IsPDU1 reports whether frames with this PGN carry a destination address.
func IsPDU1(pgn uint32) bool {
	return uint8(pgn>>8) < pdu2Threshold
}

// Identifier builds the 29-bit identifier. For PDU2 PGNs the destination is
// ignored, for PDU1 PGNs the low PGN byte is replaced by the destination.
func (id ID) Identifier() uint32 {
	pgn := id.PGN & 0x3FFFF
	if IsPDU1(pgn) {
		pgn = pgn&0x3FF00 | uint32(id.Destination)
	}
	return uint32(id.Priority&0x7)<<26 | pgn<<8 | uint32(id.Source)
}
