// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package daemon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/tc"
)

// statsHeader is the first line of the stats file.
const statsHeader = "time qdisc_root_bytes qdisc_stream_bytes qdisc_background_bytes background_bandwidth_requested gst_buffer_percent\n"

// StatsSink appends one space-separated sample line per tick to a file,
// flushed after every write so the file tails cleanly.
type StatsSink struct {
	f *os.File
	w *bufio.Writer
}

// NewStatsSink creates (or truncates) the stats file and writes the header.
func NewStatsSink(path string) (*StatsSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "cannot write to '%s'", path)
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(statsHeader); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, errors.KindInternal, "cannot write stats header to '%s'", path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, errors.KindInternal, "cannot write stats header to '%s'", path)
	}

	return &StatsSink{f: f, w: w}, nil
}

// Write appends one sample. The timestamp is seconds.microseconds since the
// epoch.
func (s *StatsSink) Write(now time.Time, st tc.Stats, requestedBg uint64, bufferPct int) error {
	if err := writeSample(s.w, now, st, requestedBg, bufferPct); err != nil {
		return errors.Wrap(err, errors.KindInternal, "cannot write stats sample")
	}
	return s.w.Flush()
}

func writeSample(w io.Writer, now time.Time, st tc.Stats, requestedBg uint64, bufferPct int) error {
	_, err := fmt.Fprintf(w, "%d.%06d %d %d %d %d %d\n",
		now.Unix(), now.Nanosecond()/1000,
		st.RootBytes, st.StreamBytes, st.BackgroundBytes,
		requestedBg, bufferPct)
	return err
}

// Close flushes and closes the file.
func (s *StatsSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
