package demux

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/larung/pkg/media"
)

type captureWriter struct {
	mu     sync.Mutex
	chunks []media.AudioChunk
}

func (c *captureWriter) WriteChunk(ch media.AudioChunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
}

func (c *captureWriter) Chunks() []media.AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.AudioChunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// --- stream builder helpers ---

func encID(id uint64) []byte {
	var out []byte
	for shift := 24; shift >= 0; shift -= 8 {
		b := byte(id >> shift)
		if len(out) == 0 && b == 0 {
			continue
		}
		out = append(out, b)
	}
	return out
}

func encSize(n int) []byte {
	if n < 0x7F {
		return []byte{0x80 | byte(n)}
	}
	return []byte{0x40 | byte(n>>8), byte(n)}
}

func leaf(id uint64, payload []byte) []byte {
	out := encID(id)
	out = append(out, encSize(len(payload))...)
	return append(out, payload...)
}

func masterOpen(id uint64) []byte {
	// Unknown-extent master, as live streams emit them.
	return append(encID(id), 0xFF)
}

func uintPayload(v uint64) []byte {
	var out []byte
	for shift := 56; shift >= 0; shift -= 8 {
		b := byte(v >> shift)
		if len(out) == 0 && b == 0 && shift != 0 {
			continue
		}
		out = append(out, b)
	}
	return out
}

func simpleBlock(track uint64, relTS int16, samples []int16) []byte {
	payload := []byte{0x80 | byte(track)}
	var rel [2]byte
	binary.BigEndian.PutUint16(rel[:], uint16(relTS))
	payload = append(payload, rel[:]...)
	payload = append(payload, 0x80) // flags
	for _, s := range samples {
		payload = append(payload, byte(s), byte(uint16(s)>>8))
	}
	return leaf(idSimpleBlock, payload)
}

func trackEntry(track uint64, name string) []byte {
	var out []byte
	out = append(out, masterOpen(idTrackEntry)...)
	out = append(out, leaf(idTrackNumber, uintPayload(track))...)
	out = append(out, leaf(idTrackName, []byte(name))...)
	return out
}

func fragmentTag(marker string) []byte {
	var out []byte
	out = append(out, masterOpen(idTags)...)
	out = append(out, masterOpen(idTag)...)
	out = append(out, masterOpen(idSimpleTag)...)
	out = append(out, leaf(idTagName, []byte(TagFragmentNumber))...)
	out = append(out, leaf(idTagString, []byte(marker))...)
	return out
}

func streamHeader() []byte {
	var out []byte
	out = append(out, masterOpen(idEBML)...)
	out = append(out, masterOpen(idSegment)...)
	out = append(out, masterOpen(idTracks)...)
	out = append(out, trackEntry(1, "caller")...)
	out = append(out, trackEntry(2, "agent")...)
	return out
}

func cluster(tsMillis uint64, blocks ...[]byte) []byte {
	var out []byte
	out = append(out, masterOpen(idCluster)...)
	out = append(out, leaf(idClusterTimestamp, uintPayload(tsMillis))...)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

func runDemux(t *testing.T, d *Demuxer, stream []byte, stop func() bool) media.FragmentMarker {
	t.Helper()
	marker, err := d.Run(context.Background(), io.NopCloser(bytes.NewReader(stream)), stop)
	if err != nil {
		t.Fatalf("demux error: %v", err)
	}
	return marker
}

func TestDemuxRoutesTracksInOrder(t *testing.T) {
	own := &captureWriter{}
	sib := &captureWriter{}
	d := New(Config{Role: media.RoleCaller}, own, slog.Default())
	d.SetSibling(sib)

	stream := streamHeader()
	stream = append(stream, fragmentTag("100")...)
	stream = append(stream, cluster(1000,
		simpleBlock(1, 0, []int16{1, 2}),
		simpleBlock(2, 5, []int16{9}),
		simpleBlock(1, 20, []int16{3, 4}),
	)...)

	runDemux(t, d, stream, nil)

	got := own.Chunks()
	if len(got) != 2 {
		t.Fatalf("expected 2 caller chunks, got %d", len(got))
	}
	if got[0].Timestamp != time.Second || got[1].Timestamp != time.Second+20*time.Millisecond {
		t.Fatalf("unexpected timestamps %s and %s", got[0].Timestamp, got[1].Timestamp)
	}
	if got[0].Samples[0] != 1 || got[1].Samples[0] != 3 {
		t.Fatalf("chunks reordered within channel")
	}
	agent := sib.Chunks()
	if len(agent) != 1 || agent[0].Role != media.RoleAgent || agent[0].Samples[0] != 9 {
		t.Fatalf("expected forwarded agent chunk, got %+v", agent)
	}
}

func TestDemuxSkipsMalformedElement(t *testing.T) {
	own := &captureWriter{}
	d := New(Config{Role: media.RoleCaller}, own, slog.Default())

	stream := streamHeader()
	stream = append(stream, cluster(0, simpleBlock(1, 0, []int16{1}))...)
	// A truncated block payload, then garbage bytes, then a healthy block.
	stream = append(stream, leaf(idSimpleBlock, []byte{0x81, 0x00})...)
	stream = append(stream, 0x00, 0x00, 0x00)
	stream = append(stream, cluster(100, simpleBlock(1, 0, []int16{2}))...)

	runDemux(t, d, stream, nil)

	got := own.Chunks()
	if len(got) != 2 {
		t.Fatalf("expected stream to survive malformed element, got %d chunks", len(got))
	}
	if got[1].Samples[0] != 2 {
		t.Fatalf("expected post-corruption block to decode")
	}
}

func TestDemuxResumeNeverReplays(t *testing.T) {
	own := &captureWriter{}
	d := New(Config{Role: media.RoleCaller, ResumeAfter: "11"}, own, slog.Default())

	stream := streamHeader()
	stream = append(stream, fragmentTag("10")...)
	stream = append(stream, cluster(0, simpleBlock(1, 0, []int16{10}))...)
	stream = append(stream, fragmentTag("11")...)
	stream = append(stream, cluster(100, simpleBlock(1, 0, []int16{11}))...)
	stream = append(stream, fragmentTag("12")...)
	stream = append(stream, cluster(200, simpleBlock(1, 0, []int16{12}))...)

	marker := runDemux(t, d, stream, nil)

	got := own.Chunks()
	if len(got) != 1 {
		t.Fatalf("expected only post-resume audio, got %d chunks", len(got))
	}
	if got[0].Samples[0] != 12 {
		t.Fatalf("expected fragment 12 audio, got %d", got[0].Samples[0])
	}
	if marker != "12" {
		t.Fatalf("expected final marker 12, got %s", marker)
	}
}

func TestDemuxStopFlagHonoredAtFragmentBoundary(t *testing.T) {
	own := &captureWriter{}
	d := New(Config{Role: media.RoleCaller}, own, slog.Default())

	stream := streamHeader()
	stream = append(stream, fragmentTag("1")...)
	stream = append(stream, cluster(0, simpleBlock(1, 0, []int16{1}))...)
	stream = append(stream, fragmentTag("2")...)
	stream = append(stream, cluster(100, simpleBlock(1, 0, []int16{2}))...)

	var seen int
	stop := func() bool {
		seen++
		return seen > 1
	}
	marker := runDemux(t, d, stream, stop)

	if marker != "1" && marker != "2" {
		t.Fatalf("expected a marker checkpoint, got %q", marker)
	}
	if len(own.Chunks()) > 1 {
		t.Fatalf("expected no new audio after stop flag, got %d chunks", len(own.Chunks()))
	}
}

func TestDemuxInactivityWindowCompletesNormally(t *testing.T) {
	own := &captureWriter{}
	d := New(Config{Role: media.RoleCaller, InactivityWindow: time.Second}, own, slog.Default())

	pr, pw := io.Pipe()
	go func() {
		header := streamHeader()
		header = append(header, fragmentTag("7")...)
		_, _ = pw.Write(header)
		// Then go silent; the watchdog must force completion.
	}()

	done := make(chan media.FragmentMarker, 1)
	go func() {
		marker, err := d.Run(context.Background(), pr, nil)
		if err != nil {
			t.Errorf("expected normal completion, got %v", err)
		}
		done <- marker
	}()

	select {
	case marker := <-done:
		if marker != "7" {
			t.Fatalf("expected last marker 7, got %q", marker)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("inactivity watchdog never fired")
	}
}
