// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

package demo

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alban/tcmmd/internal/logging"
)

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelError
	return logging.New(cfg)
}

func TestPlayerDownloads(t *testing.T) {
	body := strings.Repeat("x", 100*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	p := NewPlayer(Options{
		URL:       srv.URL,
		DisableTC: true,
		// A slow drain keeps the downloaded bytes in the buffer.
		Bitrate: 1,
	}, nil, testLogger())

	require.NoError(t, p.Run(context.Background()))

	// The dialer hook captured the connection's 4-tuple.
	assert.True(t, p.haveSocket)
	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, portStr, strconv.Itoa(int(p.remotePort)))

	assert.InDelta(t, float64(len(body))/float64(DefaultBufferCapacity), p.buf.Fill(), 0.001)
	assert.Equal(t, 0, p.CriticalCount())
}

func TestPlayerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewPlayer(Options{URL: srv.URL, DisableTC: true}, nil, testLogger())
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPlayerBadURL(t *testing.T) {
	p := NewPlayer(Options{URL: "http://\x00invalid", DisableTC: true}, nil, testLogger())
	require.Error(t, p.Run(context.Background()))
}

func TestPlayerCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPlayer(Options{URL: srv.URL, DisableTC: true}, nil, testLogger())
	assert.NoError(t, p.Run(ctx))
}
