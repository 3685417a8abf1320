// Command callbridged is the daemon shell: it connects to the PBX, wires
// the event demultiplexer into the orchestrator, and runs until a
// termination signal arrives (spec.md §2, §6 "Daemon surface" — no CLI
// flags, environment supplies the one configuration path).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/axelmiami/callbridge/internal/ami"
	"github.com/axelmiami/callbridge/internal/audio"
	"github.com/axelmiami/callbridge/internal/config"
	"github.com/axelmiami/callbridge/internal/crm"
	"github.com/axelmiami/callbridge/internal/orchestrator"
)

const defaultConfigPath = "/etc/callbridge/callbridge.ini"

func main() {
	log.Println("[Main] callbridged starting")

	configPath := os.Getenv("CALLBRIDGE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] loading config %s: %v", configPath, err)
	}

	gateway := crm.New(&cfg.Bitrix24, cfg.Daemon.CRMRatePerSecond)
	audioProc := audio.New(cfg.Records)

	amiClient := ami.NewClient(&cfg.AMI)
	if err := amiClient.Connect(); err != nil {
		log.Fatalf("[Main] connecting to PBX: %v", err)
	}
	defer amiClient.Close()
	log.Println("[Main] PBX connected and authenticated")

	demux := ami.NewDemux(cfg)
	events := amiClient.Subscribe()

	dispatches := make(chan ami.Dispatch, cfg.Daemon.WorkerQueueDepth)
	ctx, cancel := context.WithCancel(context.Background())
	workCtx, cancelWork := context.WithCancel(context.Background())

	go func() {
		defer close(dispatches)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				d, ok := demux.Route(ev)
				if !ok {
					continue
				}
				select {
				case dispatches <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	orch := orchestrator.New(cfg, gateway, amiClient, audioProc)
	go orch.Run(workCtx, dispatches)

	log.Println("[Main] callbridged ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("[Main] shutting down")
	cancel()
	orch.Wait(cfg.Daemon.ShutdownTimeout)
	cancelWork()
	log.Println("[Main] shutdown complete")
}
