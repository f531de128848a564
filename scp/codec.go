package scp

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Encode packs a PDU into its wire representation: a 4-byte header followed
// by the type-specific payload. It only fails when a field exceeds what the
// wire format can represent (a programmer error, not a peer-induced one).
func Encode(pdu PDU) ([]byte, error) {
	payload, err := encodePayload(pdu)
	if err != nil {
		return nil, errors.Wrap(err, "scp: encode payload")
	}
	if len(payload) > 0xFFFF {
		return nil, errors.Errorf("scp: payload of %d bytes exceeds u16 length field", len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = Version1
	buf[1] = byte(pdu.Type())
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

func encodePayload(pdu PDU) ([]byte, error) {
	switch m := pdu.(type) {
	case ConnectReq:
		return encodeName(m.Name)
	case ConnectResp:
		return []byte{byte(m.Status)}, nil
	case ChatInitReq:
		return encodeName(m.PeerName)
	case ChatInitResp:
		return []byte{byte(m.Status)}, nil
	case ChatFwdReq:
		return encodeName(m.OriginatorName)
	case ChatFwdResp:
		nameBytes, err := encodeName(m.OriginatorName)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(m.Status)}, nameBytes...), nil
	case Text:
		return encodeText(m.Text)
	case DisconnectReq:
		return nil, nil
	case DisconnectNotif:
		return encodeName(m.PeerName)
	case Ack:
		return nil, nil
	case Error:
		return encodeError(m.Code, m.Message)
	default:
		return nil, errors.Errorf("scp: unknown PDU type %T", pdu)
	}
}

func encodeName(name string) ([]byte, error) {
	if len(name) > MaxNameLen {
		return nil, errors.Errorf("scp: name of %d bytes exceeds max %d", len(name), MaxNameLen)
	}
	buf := make([]byte, 1+len(name))
	buf[0] = byte(len(name))
	copy(buf[1:], name)
	return buf, nil
}

func encodeText(text string) ([]byte, error) {
	if len(text) > MaxTextLen {
		return nil, errors.Errorf("scp: text of %d bytes exceeds max %d", len(text), MaxTextLen)
	}
	buf := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(text)))
	copy(buf[2:], text)
	return buf, nil
}

func encodeError(code ErrorCode, msg string) ([]byte, error) {
	if len(msg) > MaxNameLen {
		return nil, errors.Errorf("scp: error message of %d bytes exceeds max %d", len(msg), MaxNameLen)
	}
	buf := make([]byte, 3+len(msg))
	binary.BigEndian.PutUint16(buf[0:2], uint16(code))
	buf[2] = byte(len(msg))
	copy(buf[3:], msg)
	return buf, nil
}

// Decoder reassembles whole PDUs out of a byte stream that may arrive in
// arbitrary fragments. Callers Feed it newly-read bytes and call Next
// repeatedly until it reports ErrNeedMore, draining every whole PDU that has
// accumulated so far. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends freshly-read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next extracts the next whole PDU from the buffered bytes. It returns
// ErrNeedMore when no whole PDU is available yet; the caller should Feed
// more data and retry. A *MalformedError is returned (never a panic) for any
// framing or payload violation; the corresponding bytes are still consumed
// so decoding can resynchronize on the following message, except on an
// unsupported version, where only the 4-byte header is consumed and any
// payload bytes that follow stay in the buffer.
func (d *Decoder) Next() (PDU, error) {
	if len(d.buf) < HeaderSize {
		return nil, ErrNeedMore
	}

	version := d.buf[0]
	msgType := MessageType(d.buf[1])
	payloadLen := int(binary.BigEndian.Uint16(d.buf[2:4]))
	total := HeaderSize + payloadLen

	if version != Version1 {
		// Checked against the header alone, before waiting on payloadLen
		// bytes to arrive: an unsupported version with a large declared
		// length must fail immediately rather than stall in ErrNeedMore.
		d.buf = d.buf[HeaderSize:]
		return nil, newMalformed(ErrUnsupportedVersion, "version %d", version)
	}

	if len(d.buf) < total {
		return nil, ErrNeedMore
	}
	payload := d.buf[HeaderSize:total]
	d.buf = d.buf[total:]

	return decodePayload(msgType, payload)
}

func decodePayload(msgType MessageType, payload []byte) (PDU, error) {
	switch msgType {
	case TypeConnectReq:
		name, err := decodeName(payload)
		if err != nil {
			return nil, err
		}
		return ConnectReq{Name: name}, nil
	case TypeConnectResp:
		status, err := decodeStatus(payload)
		if err != nil {
			return nil, err
		}
		return ConnectResp{Status: ConnectStatus(status)}, nil
	case TypeChatInitReq:
		name, err := decodeName(payload)
		if err != nil {
			return nil, err
		}
		return ChatInitReq{PeerName: name}, nil
	case TypeChatInitResp:
		status, err := decodeStatus(payload)
		if err != nil {
			return nil, err
		}
		return ChatInitResp{Status: ChatInitStatus(status)}, nil
	case TypeChatFwdReq:
		name, err := decodeName(payload)
		if err != nil {
			return nil, err
		}
		return ChatFwdReq{OriginatorName: name}, nil
	case TypeChatFwdResp:
		if len(payload) < 1 {
			return nil, newMalformed(ErrInvalidLength, "CHAT_FWD_RESP payload too short")
		}
		status := ChatFwdStatus(payload[0])
		name, err := decodeName(payload[1:])
		if err != nil {
			return nil, err
		}
		return ChatFwdResp{Status: status, OriginatorName: name}, nil
	case TypeText:
		text, err := decodeText(payload)
		if err != nil {
			return nil, err
		}
		return Text{Text: text}, nil
	case TypeDisconnectReq:
		if len(payload) != 0 {
			return nil, newMalformed(ErrInvalidLength, "DISCONNECT_REQ must have empty payload")
		}
		return DisconnectReq{}, nil
	case TypeDisconnectNotif:
		name, err := decodeName(payload)
		if err != nil {
			return nil, err
		}
		return DisconnectNotif{PeerName: name}, nil
	case TypeAck:
		return Ack{}, nil
	case TypeError:
		code, msg, err := decodeError(payload)
		if err != nil {
			return nil, err
		}
		return Error{Code: code, Message: msg}, nil
	default:
		return nil, newMalformed(ErrMalformed, "unknown message type 0x%02x", byte(msgType))
	}
}

func decodeStatus(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, newMalformed(ErrInvalidLength, "status payload must be exactly 1 byte, got %d", len(payload))
	}
	return payload[0], nil
}

// decodeName parses a `name_len:u8, name:bytes[name_len]` field that must
// consume the entirety of payload, and enforces the non-empty, ≤255-byte,
// valid-UTF-8 name invariant from the data model.
func decodeName(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", newMalformed(ErrInvalidLength, "name payload missing length prefix")
	}
	nameLen := int(payload[0])
	if 1+nameLen != len(payload) {
		return "", newMalformed(ErrInvalidLength, "declared name length %d does not match payload", nameLen)
	}
	if nameLen == 0 {
		return "", newMalformed(ErrInvalidLength, "name must be non-empty")
	}
	name := payload[1:]
	if !utf8.Valid(name) {
		return "", newMalformed(ErrMalformed, "name is not valid UTF-8")
	}
	return string(name), nil
}

func decodeText(payload []byte) (string, error) {
	if len(payload) < 2 {
		return "", newMalformed(ErrInvalidLength, "text payload missing length prefix")
	}
	textLen := int(binary.BigEndian.Uint16(payload[0:2]))
	if 2+textLen != len(payload) {
		return "", newMalformed(ErrInvalidLength, "declared text length %d does not match payload", textLen)
	}
	text := payload[2:]
	if !utf8.Valid(text) {
		return "", newMalformed(ErrMalformed, "text is not valid UTF-8")
	}
	return string(text), nil
}

func decodeError(payload []byte) (ErrorCode, string, error) {
	if len(payload) < 3 {
		return 0, "", newMalformed(ErrInvalidLength, "error payload too short")
	}
	code := ErrorCode(binary.BigEndian.Uint16(payload[0:2]))
	msgLen := int(payload[2])
	if 3+msgLen != len(payload) {
		return 0, "", newMalformed(ErrInvalidLength, "declared error message length %d does not match payload", msgLen)
	}
	msg := payload[3:]
	if !utf8.Valid(msg) {
		return 0, "", newMalformed(ErrMalformed, "error message is not valid UTF-8")
	}
	return code, string(msg), nil
}
