// Package demux stream-parses a live segment/block media container into
// per-channel audio chunks. It extracts only the element subset the pipeline
// needs: track identity, fragment markers, cluster timestamps and audio
// blocks. Everything else is skipped.
package demux

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/media"
)

// ChunkWriter receives demuxed audio chunks. Implemented by the mixer's
// channel buffer.
type ChunkWriter interface {
	WriteChunk(media.AudioChunk)
}

// Config controls one demuxer instance.
type Config struct {
	// Role is the channel this instance extracts for its own writer.
	Role media.Role
	// SampleRate of the PCM payload inside audio blocks.
	SampleRate int
	// ResumeAfter discards audio from fragments at or before this marker.
	// Used when a successor work unit re-enters a stream after hand-off.
	ResumeAfter media.FragmentMarker
	// InactivityWindow force-closes the source when no bytes arrive for this
	// long. Treated as a normal end of input.
	InactivityWindow time.Duration
	// TrackRoles maps container track names to channel roles. Track numbers
	// are learned by observing track metadata as it streams by.
	TrackRoles map[string]media.Role
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = 5 * time.Minute
	}
	if c.TrackRoles == nil {
		c.TrackRoles = map[string]media.Role{
			string(media.RoleCaller): media.RoleCaller,
			string(media.RoleAgent):  media.RoleAgent,
		}
	}
	return c
}

// Demuxer extracts one channel's audio from a container byte stream.
// Blocks belonging to the sibling channel are forwarded to the sibling
// writer when both channels arrive interleaved in one physical source.
type Demuxer struct {
	cfg     Config
	out     ChunkWriter
	sibling ChunkWriter
	logger  *slog.Logger

	mu         sync.Mutex
	lastMarker media.FragmentMarker
	trackRoles map[uint64]media.Role

	// resync guards against a corrupt stream degenerating into a byte-by-byte
	// scan that never ends.
	resyncBudget int
}

const defaultResyncBudget = 1 << 16

func New(cfg Config, out ChunkWriter, logger *slog.Logger) *Demuxer {
	cfg = cfg.withDefaults()
	return &Demuxer{
		cfg:          cfg,
		out:          out,
		logger:       logging.NewComponentLogger(logger, "demux"),
		lastMarker:   cfg.ResumeAfter,
		trackRoles:   make(map[uint64]media.Role),
		resyncBudget: defaultResyncBudget,
	}
}

// SetSibling wires the writer that receives the other channel's blocks.
func (d *Demuxer) SetSibling(w ChunkWriter) { d.sibling = w }

// LastMarker returns the most recent fragment marker seen, which doubles as
// the checkpoint cursor for the next work unit.
func (d *Demuxer) LastMarker() media.FragmentMarker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMarker
}

func (d *Demuxer) setMarker(m media.FragmentMarker) {
	d.mu.Lock()
	d.lastMarker = m
	d.mu.Unlock()
}

// Run parses src until it ends, ctx is cancelled, the inactivity window
// elapses, or stop() reports true at a fragment boundary. It returns the
// last fragment marker seen. All of those are normal completions; only a
// broken mid-stream read surfaces an error.
func (d *Demuxer) Run(ctx context.Context, src io.ReadCloser, stop func() bool) (media.FragmentMarker, error) {
	if stop == nil {
		stop = func() bool { return false }
	}

	var lastRead atomic.Int64
	lastRead.Store(time.Now().UnixNano())
	var forced atomic.Bool

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go d.watchInactivity(watchCtx, src, &lastRead, &forced)

	r := bufio.NewReaderSize(&touchReader{r: src, last: &lastRead}, 32<<10)

	var (
		clusterTS    time.Duration
		pendingTrack uint64
		hasTrackNum  bool
		pendingName  string
		hasTrackName bool
		pendingTag   string
	)

	for {
		if ctx.Err() != nil {
			return d.LastMarker(), nil
		}

		id, err := readElementID(r)
		if err != nil {
			if errors.Is(err, errBadVint) && d.resync() {
				continue
			}
			return d.finish(err, &forced, ctx)
		}
		if isMaster(id) {
			if _, err := readElementSize(r); err != nil {
				if errors.Is(err, errBadVint) && d.resync() {
					continue
				}
				return d.finish(err, &forced, ctx)
			}
			switch id {
			case idTrackEntry:
				hasTrackNum, hasTrackName = false, false
			case idSimpleTag:
				pendingTag = ""
			case idCluster:
				// Cluster edges line up with fragment production, so this is
				// the other safe point to honor the stop flag.
				if stop() {
					_ = src.Close()
					return d.LastMarker(), nil
				}
			}
			continue
		}

		size, err := readElementSize(r)
		if err != nil {
			if errors.Is(err, errBadVint) && d.resync() {
				continue
			}
			return d.finish(err, &forced, ctx)
		}
		if size == sizeUnknown || size > maxElementSize {
			d.logger.Warn("skipping element with bad size",
				slog.Uint64("element_id", id),
				slog.Int64("size", size),
				slog.String("reason", string(errorsx.ReasonDemuxDecode)))
			if size > 0 {
				if _, err := r.Discard(int(size)); err != nil {
					return d.finish(err, &forced, ctx)
				}
			}
			continue
		}

		payload, err := readPayload(r, size)
		if err != nil {
			return d.finish(err, &forced, ctx)
		}

		switch id {
		case idTrackNumber:
			n, derr := decodeUint(payload)
			if derr != nil {
				d.decodeWarn("track_number", derr)
				continue
			}
			pendingTrack, hasTrackNum = n, true
		case idTrackName:
			pendingName, hasTrackName = string(payload), true
		case idClusterTimestamp:
			ms, derr := decodeUint(payload)
			if derr != nil {
				d.decodeWarn("cluster_timestamp", derr)
				continue
			}
			clusterTS = time.Duration(ms) * time.Millisecond
		case idTagName:
			pendingTag = string(payload)
		case idTagString:
			if pendingTag == TagFragmentNumber {
				d.setMarker(media.FragmentMarker(payload))
				if stop() {
					_ = src.Close()
					return d.LastMarker(), nil
				}
			}
		case idSimpleBlock:
			d.handleBlock(payload, clusterTS)
		default:
			// Unsupported leaf, skip.
		}

		if hasTrackNum && hasTrackName {
			if role, ok := d.cfg.TrackRoles[pendingName]; ok {
				d.trackRoles[pendingTrack] = role
				d.logger.Info("track mapped",
					slog.Uint64("track", pendingTrack),
					slog.String("name", pendingName),
					slog.String("role", string(role)))
			} else {
				d.logger.Warn("unrecognized track name",
					slog.Uint64("track", pendingTrack),
					slog.String("name", pendingName))
			}
			hasTrackNum, hasTrackName = false, false
		}
	}
}

// handleBlock decodes one audio block and routes it to the owning channel.
// Malformed blocks are logged and dropped without aborting the stream.
func (d *Demuxer) handleBlock(payload []byte, clusterTS time.Duration) {
	track, n, err := decodeVint(payload)
	if err != nil {
		d.decodeWarn("block_track", err)
		return
	}
	rest := payload[n:]
	if len(rest) < 3 {
		d.decodeWarn("block_header", errors.New("block payload too short"))
		return
	}
	relTS := int16(binary.BigEndian.Uint16(rest[:2]))
	data := rest[3:]
	if len(data)%2 != 0 {
		d.decodeWarn("block_payload", errors.New("odd pcm16 payload length"))
		return
	}

	// Audio delivered before the resume point has already been processed by
	// a prior work unit.
	if d.cfg.ResumeAfter != media.MarkerZero && !media.MarkerAfter(d.LastMarker(), d.cfg.ResumeAfter) {
		return
	}

	role, ok := d.trackRoles[track]
	if !ok {
		// Single-track sources carry no usable track metadata; the block
		// belongs to the role this instance was started for.
		role = d.cfg.Role
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	chunk := media.AudioChunk{
		Role:      role,
		Timestamp: clusterTS + time.Duration(relTS)*time.Millisecond,
		Rate:      d.cfg.SampleRate,
		Samples:   samples,
	}

	switch role {
	case d.cfg.Role:
		d.out.WriteChunk(chunk)
	default:
		if d.sibling != nil {
			d.sibling.WriteChunk(chunk)
		} else {
			d.logger.Debug("dropping block for unwired sibling role",
				slog.String("role", string(role)))
		}
	}
}

// finish classifies the terminal read error: EOF, cancellation and the
// inactivity force-close are normal completions.
func (d *Demuxer) finish(err error, forced *atomic.Bool, ctx context.Context) (media.FragmentMarker, error) {
	marker := d.LastMarker()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return marker, nil
	}
	if ctx.Err() != nil {
		return marker, nil
	}
	if forced.Load() {
		d.logger.Info("source closed after inactivity window",
			slog.Duration("window", d.cfg.InactivityWindow),
			slog.String("last_marker", string(marker)))
		return marker, nil
	}
	if errors.Is(err, io.ErrClosedPipe) {
		return marker, nil
	}
	return marker, errorsx.Wrap(err, errorsx.ReasonSourceRead)
}

// resync consumes decode garbage one byte at a time, giving up once the
// budget runs out so a fully corrupt stream still terminates.
func (d *Demuxer) resync() bool {
	if d.resyncBudget <= 0 {
		d.logger.Error("resync budget exhausted, abandoning stream",
			slog.String("reason", string(errorsx.ReasonDemuxDecode)))
		return false
	}
	d.resyncBudget--
	if d.resyncBudget == defaultResyncBudget-1 {
		d.decodeWarn("element_id", errBadVint)
	}
	return true
}

func (d *Demuxer) decodeWarn(what string, err error) {
	d.logger.Warn("skipping malformed element",
		slog.String("element", what),
		slog.String("error", err.Error()),
		slog.String("reason", string(errorsx.ReasonDemuxDecode)))
}

// watchInactivity closes the source when no bytes arrive for the configured
// window, so a silent upstream cannot pin the work unit forever.
func (d *Demuxer) watchInactivity(ctx context.Context, src io.Closer, lastRead *atomic.Int64, forced *atomic.Bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastRead.Load()))
			if idle >= d.cfg.InactivityWindow {
				d.logger.Info("source idle past window, closing",
					slog.String("role", string(d.cfg.Role)),
					slog.Duration("idle", idle),
					slog.String("reason", string(errorsx.ReasonDemuxTimeout)))
				forced.Store(true)
				_ = src.Close()
				return
			}
		}
	}
}

// touchReader stamps the watchdog clock on every successful read.
type touchReader struct {
	r    io.Reader
	last *atomic.Int64
}

func (t *touchReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.last.Store(time.Now().UnixNano())
	}
	return n, err
}
