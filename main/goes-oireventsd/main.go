// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// This is the transceiver OIR daemon of FPGA managed platforms.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinasystems/log"

	"github.com/platinasystems/oireventsd/cmd/oireventsd"
)

// grace is how long a stop request waits on a poll in progress.
const grace = 2 * time.Second

func main() {
	c := new(oireventsd.Command)
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "-help") {
		fmt.Println("usage:", c.Usage())
		fmt.Println(c.Apropos())
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	errc := make(chan error, 1)
	go func() { errc <- c.Main(os.Args[1:]...) }()

	var err error
	select {
	case err = <-errc:
	case s := <-sig:
		log.Print("daemon", "info", c, ": ", s)
		c.Close()
		select {
		case err = <-errc:
		case <-time.After(grace):
		}
	}
	if err != nil {
		log.Print("daemon", "err", c, ": ", err)
		fmt.Fprintln(os.Stderr, c, ":", err)
		os.Exit(1)
	}
}
