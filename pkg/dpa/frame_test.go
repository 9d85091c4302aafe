package dpa

import (
	"bytes"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Kind: FrameResponse, NADR: 1, PNUM: 0x20, PCMD: 0x00, HWPID: 0xFFFF, ErrorCode: 0, Data: []byte{0x01, 0x02}}
	raw := f.Encode()
	got, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.NADR != f.NADR || got.PNUM != f.PNUM || got.PCMD != f.PCMD || got.HWPID != f.HWPID || got.ErrorCode != f.ErrorCode {
		t.Errorf("DecodeFrame() = %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Data, f.Data) {
		t.Errorf("Data = %x, want %x", got.Data, f.Data)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, err := DecodeFrame([]byte{1, 2, 3}); err != ErrInvalidFrame {
		t.Errorf("DecodeFrame() error = %v, want ErrInvalidFrame", err)
	}
}

func TestEncodeRequestDecodeResponsePacket(t *testing.T) {
	req := Frame{NADR: 0x10, PNUM: 0x00, PCMD: 0x02, HWPID: 0xFFFF}
	reqBytes := EncodeRequestPacket(req)
	if len(reqBytes) != rawPacketHeaderLen {
		t.Fatalf("EncodeRequestPacket() len = %d, want %d", len(reqBytes), rawPacketHeaderLen)
	}

	respBytes := append(append([]byte{}, reqBytes...), 0x00, 0xAA, 0xBB)
	resp, err := DecodeResponsePacket(respBytes)
	if err != nil {
		t.Fatalf("DecodeResponsePacket: %v", err)
	}
	if resp.NADR != req.NADR || resp.PNUM != req.PNUM || resp.PCMD != req.PCMD || resp.HWPID != req.HWPID {
		t.Errorf("DecodeResponsePacket() = %+v, want matching %+v", resp, req)
	}
	if resp.ErrorCode != 0 || !bytes.Equal(resp.Data, []byte{0xAA, 0xBB}) {
		t.Errorf("ErrorCode/Data = %d/%x, want 0/aabb", resp.ErrorCode, resp.Data)
	}
}

func TestEncodeDecodeResponsePacketRoundTrip(t *testing.T) {
	f := Frame{NADR: 0x10, PNUM: 0x00, PCMD: 0x02, HWPID: 0xFFFF, ErrorCode: 0x03, Data: []byte{0xDE, 0xAD}}
	raw := EncodeResponsePacket(f)
	got, err := DecodeResponsePacket(raw)
	if err != nil {
		t.Fatalf("DecodeResponsePacket: %v", err)
	}
	if got.NADR != f.NADR || got.PNUM != f.PNUM || got.PCMD != f.PCMD || got.HWPID != f.HWPID || got.ErrorCode != f.ErrorCode {
		t.Errorf("DecodeResponsePacket() = %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Data, f.Data) {
		t.Errorf("Data = %x, want %x", got.Data, f.Data)
	}
}

func TestHexDotRoundTrip(t *testing.T) {
	data := []byte{0x01, 0xAB, 0xFF, 0x00}
	s := EncodeHexDot(data)
	if s != "01.AB.FF.00" {
		t.Errorf("EncodeHexDot() = %q, want %q", s, "01.AB.FF.00")
	}
	got, err := DecodeHexDot(s)
	if err != nil {
		t.Fatalf("DecodeHexDot: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("DecodeHexDot() = %x, want %x", got, data)
	}
}

func TestDecodeHexDotEmpty(t *testing.T) {
	got, err := DecodeHexDot("")
	if err != nil || got != nil {
		t.Errorf("DecodeHexDot(\"\") = (%x, %v), want (nil, nil)", got, err)
	}
}
