// Command freework-devserver runs the in-process FreeWork dev backend as a
// standalone HTTP server, for local client development and the chat-smoke
// tool.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"freework/internal/devserver"
	"freework/internal/logging"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "listen address")
		logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
		accessTTL = flag.Duration("access-ttl", 15*time.Minute, "access token lifetime")
	)
	flag.Parse()

	log := logging.New(*logLevel)

	srv, err := devserver.New(
		devserver.WithLogger(log),
		devserver.WithAccessTTL(*accessTTL),
	)
	if err != nil {
		log.Error("devserver init", "err", err)
		os.Exit(1)
	}

	log.Info("devserver listening", "addr", *addr)
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil {
		log.Error("devserver exited", "err", err)
		os.Exit(1)
	}
}
