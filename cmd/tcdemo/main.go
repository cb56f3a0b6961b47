// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// tcdemo streams an HTTP(S) URL through a modelled playback buffer and
// drives the tcmmd daemon with the flow tuple, bitrate and buffer fill.
// On exit it prints how many times playback lost sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alban/tcmmd/internal/demo"
	"github.com/alban/tcmmd/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		disableTC bool
		looping   bool
		bitrate   uint64
	)
	flag.BoolVar(&disableTC, "disable-tc", false, "Disable traffic control")
	flag.BoolVar(&disableTC, "d", false, "Disable traffic control (shorthand)")
	flag.BoolVar(&looping, "looping", false, "Start again at the end of the stream")
	flag.BoolVar(&looping, "l", false, "Start again at the end of the stream (shorthand)")
	flag.Uint64Var(&bitrate, "bitrate", 0, "Force the playback rate in bytes/s instead of estimating it")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <URL>\n", os.Args[0])
		return 1
	}
	url := flag.Arg(0)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		fmt.Fprintln(os.Stderr, "Only http(s):// URLs are accepted")
		return 1
	}

	logger := logging.New(logging.DefaultConfig())

	var client *demo.Client
	if !disableTC {
		var err error
		client, err = demo.Connect(logger)
		if err != nil {
			logger.Error("cannot reach tcmmd", "error", err)
			return 1
		}
		defer client.Close()
	}

	player := demo.NewPlayer(demo.Options{
		URL:       url,
		Looping:   looping,
		DisableTC: disableTC,
		Bitrate:   bitrate,
	}, client, logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := player.Run(ctx)

	fmt.Printf("buffer_critically_low_count=%d\n", player.CriticalCount())

	if err != nil {
		logger.Error("playback failed", "error", err)
		return 1
	}
	return 0
}
