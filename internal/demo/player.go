// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package demo

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alban/tcmmd/internal/errors"
	"github.com/alban/tcmmd/internal/logging"
)

const (
	readChunk = 32 * 1024

	// estimateWindow is how long arrival is measured before the drain
	// rate locks in.
	estimateWindow = 3 * time.Second
)

// Options configure a Player.
type Options struct {
	URL       string
	Looping   bool
	DisableTC bool
	// BufferCapacity in bytes; DefaultBufferCapacity when zero.
	BufferCapacity int
	// Bitrate forces the playback drain rate in bytes/s instead of
	// estimating it from the arrival rate.
	Bitrate uint64
}

// Player downloads a stream, models playback and keeps the daemon informed
// per the telemetry contract: an update on every socket change, on every
// bitrate change and on fill moves over 5 points or across 100%.
type Player struct {
	opts   Options
	client *Client
	logger *logging.Logger
	buf    *Buffer

	mu         sync.Mutex
	localIP    string
	localPort  uint16
	remoteIP   string
	remotePort uint16
	haveSocket bool

	bitrate      uint64
	reportedFill float64
}

// NewPlayer creates a player. client may be nil when traffic control is
// disabled or the daemon is unreachable.
func NewPlayer(opts Options, client *Client, logger *logging.Logger) *Player {
	capacity := opts.BufferCapacity
	if capacity == 0 {
		capacity = DefaultBufferCapacity
	}
	return &Player{
		opts:    opts,
		client:  client,
		logger:  logger.WithComponent("player"),
		buf:     NewBuffer(capacity),
		bitrate: opts.Bitrate,
	}
}

// Run plays the stream once, or in a loop with -l, and unsets the policy on
// the way out.
func (p *Player) Run(ctx context.Context) error {
	defer p.unset()

	for {
		if err := p.playOnce(ctx); err != nil {
			return err
		}
		if !p.opts.Looping || ctx.Err() != nil {
			return nil
		}
		p.logger.Info("stream ended, looping")
	}
}

// CriticalCount returns how many times the buffer dipped critically low
// after having been full.
func (p *Player) CriticalCount() int {
	return p.buf.CriticalCount()
}

func (p *Player) playOnce(ctx context.Context) error {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err == nil {
				p.socketChanged(conn)
			}
			return conn, err
		},
	}
	httpClient := &http.Client{Transport: transport}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "bad URL")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, errors.KindUnavailable, "request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf(errors.KindUnavailable, "server returned %s", resp.Status)
	}

	p.consume(resp.Body)
	return nil
}

// consume reads the body, fills the buffer and drains it at the playback
// rate, reporting fill changes along the way.
func (p *Player) consume(body io.Reader) {
	drainRate := p.opts.Bitrate
	start := time.Now()
	lastRead := start
	var received uint64

	chunk := make([]byte, readChunk)
	for {
		n, err := body.Read(chunk)
		now := time.Now()

		if n > 0 {
			received += uint64(n)

			if drainRate > 0 {
				p.buf.Drain(int(float64(drainRate) * now.Sub(lastRead).Seconds()))
			} else if elapsed := now.Sub(start); elapsed >= estimateWindow || p.buf.Fill() == 1.0 {
				// Lock the playback rate slightly under the observed
				// arrival rate so a healthy link keeps the buffer full.
				drainRate = received * 9 / 10 / uint64(elapsed.Seconds()+1)
				if drainRate == 0 {
					drainRate = 1
				}
				p.setBitrate(drainRate)
			}
			lastRead = now

			p.buf.Add(n)
			p.fillChanged()
		}

		if err != nil {
			return
		}
	}
}

// socketChanged records the new connection's addresses and reports
// immediately: the daemon keys its rules on this tuple.
func (p *Player) socketChanged(conn net.Conn) {
	local, lok := conn.LocalAddr().(*net.TCPAddr)
	remote, rok := conn.RemoteAddr().(*net.TCPAddr)
	if !lok || !rok {
		return
	}

	p.mu.Lock()
	p.localIP = local.IP.String()
	p.localPort = uint16(local.Port)
	p.remoteIP = remote.IP.String()
	p.remotePort = uint16(remote.Port)
	p.haveSocket = true
	p.mu.Unlock()

	p.updateDaemon()
}

func (p *Player) setBitrate(rate uint64) {
	p.mu.Lock()
	changed := p.bitrate != rate
	p.bitrate = rate
	p.mu.Unlock()
	if changed {
		p.updateDaemon()
	}
}

func (p *Player) fillChanged() {
	fill := p.buf.Fill()
	p.mu.Lock()
	report := shouldReport(p.reportedFill, fill)
	if report {
		p.reportedFill = fill
	}
	p.mu.Unlock()
	if report {
		p.updateDaemon()
	}
}

func (p *Player) updateDaemon() {
	p.mu.Lock()
	haveSocket := p.haveSocket
	localIP, localPort := p.localIP, p.localPort
	remoteIP, remotePort := p.remoteIP, p.remotePort
	bitrate := p.bitrate
	fill := p.reportedFill
	p.mu.Unlock()

	if !haveSocket {
		p.logger.Info("no socket, unset policy")
		p.unset()
		return
	}

	p.logger.Info("SetPolicy",
		"src", localIP, "src_port", localPort,
		"dest", remoteIP, "dest_port", remotePort,
		"bitrate", bitrate, "buffer_fill", fill,
		"disabled", p.opts.DisableTC)

	if p.opts.DisableTC || p.client == nil {
		return
	}
	if err := p.client.SetPolicy(localIP, localPort, remoteIP, remotePort,
		uint32(bitrate), fill); err != nil {
		p.logger.Warn("SetPolicy failed", "error", err)
	}
}

func (p *Player) unset() {
	if p.opts.DisableTC || p.client == nil {
		return
	}
	if err := p.client.UnsetPolicy(); err != nil {
		p.logger.Warn("UnsetPolicy failed", "error", err)
	}
}
