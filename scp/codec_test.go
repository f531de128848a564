package scp

import (
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []PDU{
		ConnectReq{Name: "alice"},
		ConnectResp{Status: ConnectSuccess},
		ConnectResp{Status: ConnectErrServerFull},
		ChatInitReq{PeerName: "bob"},
		ChatInitResp{Status: ChatInitForwarded},
		ChatFwdReq{OriginatorName: "alice"},
		ChatFwdResp{Status: ChatFwdAccepted, OriginatorName: "alice"},
		ChatFwdResp{Status: ChatFwdRejected, OriginatorName: "alice"},
		Text{Text: "hi"},
		Text{Text: ""},
		DisconnectReq{},
		DisconnectNotif{PeerName: "alice"},
		Ack{},
		Error{Code: ErrUnexpectedType, Message: "unexpected"},
	}

	for _, want := range cases {
		wire, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", want, err)
		}

		var d Decoder
		d.Feed(wire)
		got, err := d.Next()
		if err != nil {
			t.Fatalf("Next() after encoding %#v: %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got %#v, want %#v", got, want)
		}
		if _, err := d.Next(); err != ErrNeedMore {
			t.Fatalf("expected ErrNeedMore after draining one PDU, got %v", err)
		}
	}
}

func TestDecodeNeedsMoreBytesIncrementally(t *testing.T) {
	wire, err := Encode(ConnectReq{Name: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	var d Decoder
	for i := 0; i < len(wire)-1; i++ {
		d.Feed(wire[i : i+1])
		if _, err := d.Next(); err != ErrNeedMore {
			t.Fatalf("byte %d: expected ErrNeedMore, got %v", i, err)
		}
	}
	d.Feed(wire[len(wire)-1:])
	pdu, err := d.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if pdu != (ConnectReq{Name: "alice"}) {
		t.Fatalf("unexpected pdu: %#v", pdu)
	}
}

func TestDecodeMultiplePDUsInOneFeed(t *testing.T) {
	a, _ := Encode(ConnectReq{Name: "alice"})
	b, _ := Encode(Text{Text: "hi"})

	var d Decoder
	d.Feed(append(append([]byte{}, a...), b...))

	first, err := d.Next()
	if err != nil || first != (ConnectReq{Name: "alice"}) {
		t.Fatalf("first PDU: %#v, %v", first, err)
	}
	second, err := d.Next()
	if err != nil || second != (Text{Text: "hi"}) {
		t.Fatalf("second PDU: %#v, %v", second, err)
	}
	if _, err := d.Next(); err != ErrNeedMore {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	wire, _ := Encode(ConnectReq{Name: "alice"})
	wire[0] = 0x02

	var d Decoder
	d.Feed(wire)
	_, err := d.Next()
	me, ok := err.(*MalformedError)
	if !ok {
		t.Fatalf("expected *MalformedError, got %v", err)
	}
	if me.Code != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", me.Code)
	}
}

func TestDecodeUnsupportedVersionFailsBeforePayloadArrives(t *testing.T) {
	// Header only: version mismatch plus a large declared payload length
	// that never arrives. The version check must fire off the header
	// alone rather than stalling in ErrNeedMore waiting on those bytes.
	header := []byte{0x02, byte(TypeConnectReq), 0xFF, 0xFF}

	var d Decoder
	d.Feed(header)
	_, err := d.Next()
	me, ok := err.(*MalformedError)
	if !ok {
		t.Fatalf("expected *MalformedError, got %v", err)
	}
	if me.Code != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", me.Code)
	}
}

func TestDecodeUnknownMessageType(t *testing.T) {
	wire, _ := Encode(ConnectReq{Name: "alice"})
	wire[1] = 0xFF

	var d Decoder
	d.Feed(wire)
	_, err := d.Next()
	me, ok := err.(*MalformedError)
	if !ok {
		t.Fatalf("expected *MalformedError, got %v", err)
	}
	if me.Code != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", me.Code)
	}
}

func TestDecodeInvalidLengthOverrun(t *testing.T) {
	wire, _ := Encode(ConnectReq{Name: "alice"})
	// Claim a name length longer than the remaining payload.
	wire[4] = 200

	var d Decoder
	d.Feed(wire)
	_, err := d.Next()
	me, ok := err.(*MalformedError)
	if !ok {
		t.Fatalf("expected *MalformedError, got %v", err)
	}
	if me.Code != ErrInvalidLength {
		t.Fatalf("expected ErrInvalidLength, got %v", me.Code)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	wire, _ := Encode(ConnectReq{Name: "ok"})
	wire[4] = 2
	wire[5] = 0xFF
	wire[6] = 0xFE

	var d Decoder
	d.Feed(wire)
	_, err := d.Next()
	me, ok := err.(*MalformedError)
	if !ok {
		t.Fatalf("expected *MalformedError, got %v", err)
	}
	if me.Code != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", me.Code)
	}
}

func TestEncodeNameTooLong(t *testing.T) {
	big := make([]byte, MaxNameLen+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, err := Encode(ConnectReq{Name: string(big)}); err == nil {
		t.Fatalf("expected error for oversized name")
	}
}

func TestDecodeRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)

		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Next() panicked on %v: %v", buf, r)
				}
			}()
			var d Decoder
			d.Feed(buf)
			_, err := d.Next()
			if err != nil && err != ErrNeedMore {
				if _, ok := err.(*MalformedError); !ok {
					t.Fatalf("unexpected error type: %v", err)
				}
			}
		}()
	}
}
