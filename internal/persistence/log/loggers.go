package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"followme.ai/internal/protocol"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed segment files named
// <prefix>-<segment>.jsonl.zst. A new file is started whenever the segment changes.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(seg string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seg != w.curSeg || w.w == nil {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, seg))
}

// DefaultSegmentRounds is how many rounds go into one segment file.
const DefaultSegmentRounds = 10000

// RoundLogger writes a run as compressed JSONL: the RUN header, one ROUND entry per
// reported round, then the DONE record.
type RoundLogger struct {
	w             *JSONLZstdWriter
	segmentRounds uint64
	lastSeg       string
}

func NewRoundLogger(runDir string, segmentRounds int) *RoundLogger {
	if segmentRounds <= 0 {
		segmentRounds = DefaultSegmentRounds
	}
	return &RoundLogger{
		w:             NewJSONLZstdWriter(runDir, "rounds"),
		segmentRounds: uint64(segmentRounds),
		lastSeg:       segmentName(0),
	}
}

func segmentName(n uint64) string { return fmt.Sprintf("%06d", n) }

func (l *RoundLogger) Begin(h protocol.RunHeader) error {
	h.Type = protocol.TypeRun
	return l.w.Write(l.lastSeg, h)
}

func (l *RoundLogger) Round(m protocol.RoundMsg) error {
	// Rounds are 1-based; round N lands in segment (N-1)/segmentRounds.
	var seg uint64
	if m.Round > 0 {
		seg = (m.Round - 1) / l.segmentRounds
	}
	l.lastSeg = segmentName(seg)
	return l.w.Write(l.lastSeg, m)
}

func (l *RoundLogger) End(d protocol.DoneMsg) error {
	d.Type = protocol.TypeDone
	return l.w.Write(l.lastSeg, d)
}

func (l *RoundLogger) Close() error { return l.w.Close() }
