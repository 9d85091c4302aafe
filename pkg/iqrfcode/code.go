package iqrfcode

import "errors"

// Tag identifies the kind of object encoded in the nibble stream carried by
// an IQRF Code.
type Tag uint8

const (
	TagEnd            Tag = 0x0
	TagMID            Tag = 0x1
	TagIBK            Tag = 0x2
	TagHWPID          Tag = 0x3
	TagBondingChannel Tag = 0x4 // obsolete; present but ignored
	TagNop            Tag = 0x5
	TagDataBlock      Tag = 0x6 // non-IQRF passthrough data
	TagText           Tag = 0x7 // non-IQRF passthrough data
)

// ErrUnknownTag is returned when the nibble stream contains a tag this
// decoder does not recognize.
var ErrUnknownTag = errors.New("iqrfcode: unknown tag in nibble stream")

// Payload is the set of SmartConnect-relevant fields an IQRF Code can
// carry. MID and HWPID default to zero value when absent; HasMID/HasIBK/
// HasHWPID report whether the corresponding tag was present.
type Payload struct {
	MID      [4]byte
	HasMID   bool
	IBK      [16]byte
	HasIBK   bool
	HWPID    uint16
	HasHWPID bool
}

// Decode parses a full IQRF Code string, including its trailing check
// character, and returns the object it carries.
func Decode(code string) (Payload, error) {
	var p Payload

	if len(code) == 0 {
		return p, errors.New("iqrfcode: code is empty")
	}

	body := code[:len(code)-1]
	want := code[len(code)-1]

	got, err := checkChar(body)
	if err != nil {
		return p, err
	}
	if got != want {
		return p, ErrBadCheckChar
	}

	raw, err := decodeGroups(body)
	if err != nil {
		return p, err
	}

	r := newNibbleReader(raw)
	for {
		nib, ok := r.readNibble()
		if !ok {
			return p, errors.New("iqrfcode: truncated nibble stream")
		}
		tag := Tag(nib)
		if tag == TagEnd {
			break
		}

		switch tag {
		case TagMID:
			b, ok := r.readBytes(4)
			if !ok {
				return p, errors.New("iqrfcode: truncated MID")
			}
			copy(p.MID[:], b)
			p.HasMID = true

		case TagIBK:
			b, ok := r.readBytes(16)
			if !ok {
				return p, errors.New("iqrfcode: truncated IBK")
			}
			copy(p.IBK[:], b)
			p.HasIBK = true

		case TagHWPID:
			hi, ok1 := r.readByte()
			lo, ok2 := r.readByte()
			if !ok1 || !ok2 {
				return p, errors.New("iqrfcode: truncated HWPID")
			}
			p.HWPID = uint16(hi)<<8 | uint16(lo)
			p.HasHWPID = true

		case TagBondingChannel, TagNop, TagDataBlock, TagText:
			// No payload is associated with these tags in the reference
			// decoder; bonding-channel is a documented obsolete quirk,
			// the rest carry no decodable length here.

		default:
			return p, ErrUnknownTag
		}
	}

	return p, nil
}

// Encode renders a Payload back into an IQRF Code string, including its
// trailing check character. Only MID, IBK and HWPID are emitted (the
// fields this package's Payload models); Decode(Encode(p)) reproduces an
// equivalent Payload.
func Encode(p Payload) (string, error) {
	w := newNibbleWriter()

	if p.HasMID {
		w.writeNibble(byte(TagMID))
		w.writeBytes(p.MID[:])
	}
	if p.HasIBK {
		w.writeNibble(byte(TagIBK))
		w.writeBytes(p.IBK[:])
	}
	if p.HasHWPID {
		w.writeNibble(byte(TagHWPID))
		w.writeByte(byte(p.HWPID >> 8))
		w.writeByte(byte(p.HWPID))
	}
	w.writeNibble(byte(TagEnd))

	body := encodeGroups(w.bytes())
	c, err := checkChar(body)
	if err != nil {
		return "", err
	}
	return body + string(c), nil
}
