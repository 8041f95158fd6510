package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestCodecFrameSizes(t *testing.T) {
	if got := CodecPCMU.SamplesPerFrame(); got != 160 {
		t.Errorf("SamplesPerFrame() = %d, want 160", got)
	}
	if got := CodecPCMA.BytesPerFrame(); got != 160 {
		t.Errorf("BytesPerFrame() = %d, want 160", got)
	}
	if got := CodecPCMU.TimestampIncrement(); got != 160 {
		t.Errorf("TimestampIncrement() = %d, want 160", got)
	}
}

func TestCodecByPayloadType(t *testing.T) {
	c, err := CodecByPayloadType(8)
	if err != nil || c.Name != "PCMA" {
		t.Errorf("CodecByPayloadType(8) = %v, %v", c, err)
	}
	if _, err := CodecByPayloadType(18); err == nil {
		t.Error("expected error for G.729")
	}
}

func TestRuneEventRoundTrip(t *testing.T) {
	for _, r := range "0123456789*#ABCD" {
		ev, ok := RuneToEvent(r)
		if !ok {
			t.Fatalf("RuneToEvent(%q) not ok", r)
		}
		back, ok := EventToRune(ev)
		if !ok || back != r {
			t.Errorf("EventToRune(%d) = %q, want %q", ev, back, r)
		}
	}
	if ev, ok := RuneToEvent('b'); !ok || ev != 13 {
		t.Errorf("RuneToEvent('b') = %d, %v", ev, ok)
	}
	if _, ok := RuneToEvent('x'); ok {
		t.Error("RuneToEvent('x') should fail")
	}
	if _, ok := EventToRune(16); ok {
		t.Error("EventToRune(16) should fail")
	}
}

func TestDecodeDTMFEvent(t *testing.T) {
	in := DTMFEvent{Event: 5, EndOfEvent: true, Volume: 10, Duration: 1600}
	got, err := DecodeDTMFEvent(in.Encode())
	if err != nil {
		t.Fatalf("DecodeDTMFEvent() error = %v", err)
	}
	if got != in {
		t.Errorf("DecodeDTMFEvent() = %+v, want %+v", got, in)
	}
	if _, err := DecodeDTMFEvent([]byte{1, 2}); err == nil {
		t.Error("expected error for short payload")
	}
}

func dtmfPacket(event uint8, end bool, dur uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{PayloadType: DTMFPayloadType, Timestamp: ts},
		Payload: DTMFEvent{Event: event, EndOfEvent: end, Volume: 10, Duration: dur}.Encode(),
	}
}

func TestDTMFDetector(t *testing.T) {
	d := NewDTMFDetector(DTMFPayloadType)

	var got []rune
	feed := func(p *rtp.Packet) {
		if r, ok := d.Process(p); ok {
			got = append(got, r)
		}
	}

	// '4': start, continuation, end repeated three times
	feed(dtmfPacket(4, false, 160, 1000))
	feed(dtmfPacket(4, false, 320, 1000))
	feed(dtmfPacket(4, true, 800, 1000))
	feed(dtmfPacket(4, true, 800, 1000))
	feed(dtmfPacket(4, true, 800, 1000))

	// too short, filtered
	feed(dtmfPacket(8, false, 80, 3000))
	feed(dtmfPacket(8, true, 200, 3000))

	// end without start still counts
	feed(dtmfPacket(11, true, 800, 5000))

	// audio is ignored
	feed(&rtp.Packet{Header: rtp.Header{PayloadType: 0}, Payload: make([]byte, 160)})

	if string(got) != "4#" {
		t.Errorf("digits = %q, want %q", string(got), "4#")
	}
}

func TestFramesPadsWithSilence(t *testing.T) {
	audio := bytes.Repeat([]byte{0x10}, 400)
	frames := Frames(audio, CodecPCMU)
	if len(frames) != 3 {
		t.Fatalf("len(Frames) = %d, want 3", len(frames))
	}
	last := frames[2]
	if len(last) != 160 {
		t.Fatalf("last frame = %d bytes, want 160", len(last))
	}
	if last[79] != 0x10 || last[80] != 0xFF || last[159] != 0xFF {
		t.Errorf("last frame not padded with µ-law silence")
	}
	if Frames(nil, CodecPCMU) != nil {
		t.Error("Frames(nil) should be nil")
	}
}

func TestStreamWriterSendsSequentialPackets(t *testing.T) {
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()
	local, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()

	w := NewStreamWriter(local, peer.LocalAddr(), CodecPCMU)
	defer w.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := w.WriteFrame(ctx, make([]byte, 160), i == 0); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	var prev *rtp.Packet
	buf := make([]byte, 1500)
	for i := 0; i < 3; i++ {
		n, _, err := peer.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom() error = %v", err)
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if i == 0 && !pkt.Marker {
			t.Error("first packet should carry the marker bit")
		}
		if prev != nil {
			if pkt.SequenceNumber != prev.SequenceNumber+1 {
				t.Errorf("seq = %d, want %d", pkt.SequenceNumber, prev.SequenceNumber+1)
			}
			if pkt.Timestamp != prev.Timestamp+160 {
				t.Errorf("ts = %d, want %d", pkt.Timestamp, prev.Timestamp+160)
			}
		}
		prev = pkt
	}
}

func TestStreamWriterHonoursContext(t *testing.T) {
	local, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()
	w := NewStreamWriter(local, local.LocalAddr(), CodecPCMU)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the ticker may already hold a tick; drain until the context wins
	var err2 error
	for i := 0; i < 3 && err2 == nil; i++ {
		err2 = w.WriteFrame(ctx, make([]byte, 160), false)
	}
	if err2 != context.Canceled {
		t.Errorf("WriteFrame() error = %v, want context.Canceled", err2)
	}
}

func wavBytes(sampleRate uint32, channels uint16, samples []int16) []byte {
	var buf bytes.Buffer
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)+10))
	buf.WriteString("WAVE")
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(2))
	buf.Write([]byte{0, 0})
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, channels)
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate)
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate*uint32(channels)*2)
	_ = binary.Write(&buf, binary.LittleEndian, channels*2)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestDecodeWAVAndResample(t *testing.T) {
	samples := make([]int16, 1600) // 100ms at 16kHz
	af, err := DecodeWAV(bytes.NewReader(wavBytes(16000, 1, samples)))
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if af.SampleRate != 16000 || af.NumChannels != 1 {
		t.Errorf("format = %d Hz/%d ch", af.SampleRate, af.NumChannels)
	}
	pcm, err := ResampleAudio(af)
	if err != nil {
		t.Fatalf("ResampleAudio() error = %v", err)
	}
	if n := len(pcm) / 2; n < 790 || n > 800 {
		t.Errorf("resampled to %d samples, want ~800", n)
	}
	if got := len(PCMToPCMU(pcm)); got != len(pcm)/2 {
		t.Errorf("PCMToPCMU() = %d bytes, want %d", got, len(pcm)/2)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Error("expected error")
	}
}
