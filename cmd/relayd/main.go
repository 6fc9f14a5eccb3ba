// Relayd is the standalone signal relay daemon.
//
// It exposes one websocket endpoint per room (/ws/{room}) and forwards every
// frame it receives to the other members of the same room. It never inspects
// frame contents and never carries media.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/1ureka.net.meet/internal/relay"
	"github.com/1ureka/1ureka.net.meet/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8090", "Listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Meet relayd v%s", version))

	hub := relay.NewHub()
	srv := &http.Server{Addr: *addr, Handler: hub.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogSuccess("relay listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.LogError("relay server failed: %v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}
