package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SentientBridge/internal/api"
	"github.com/AaronLay10/SentientBridge/internal/bridge"
	"github.com/AaronLay10/SentientBridge/internal/config"
	"github.com/AaronLay10/SentientBridge/internal/eventloop"
	"github.com/AaronLay10/SentientBridge/internal/events"
	"github.com/AaronLay10/SentientBridge/internal/mqtt"
	"github.com/AaronLay10/SentientBridge/internal/script"
	"github.com/AaronLay10/SentientBridge/internal/storage/postgres"
	"github.com/AaronLay10/SentientBridge/internal/target"
	"github.com/AaronLay10/SentientBridge/internal/version"
)

type options struct {
	configPath  string
	scriptPath  string
	apiPort     int
	noAPI       bool
	noPostgres  bool
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("sentient-bridge", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "bridge.yaml", "path to bridge.yaml")
	fs.StringVarP(&o.scriptPath, "script", "s", "", "run script (default: script from bridge.yaml)")
	fs.IntVar(&o.apiPort, "api-port", 0, "HTTP API port (default: network.api_port)")
	fs.BoolVar(&o.noAPI, "no-api", false, "do not serve the HTTP API")
	fs.BoolVar(&o.noPostgres, "no-postgres", false, "do not persist events to Postgres")
	fs.BoolVar(&o.showVersion, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return &o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err == pflag.ErrHelp {
		return
	}
	if err != nil {
		log.Printf("%v", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	events.SetOutput(os.Stdout)
	os.Exit(run(opts))
}

// run wires the bridge and blocks until the script finishes or the process
// is interrupted. It returns the process exit code.
func run(opts *options) int {
	cfg, err := config.LoadBridgeConfig(opts.configPath)
	if err != nil {
		log.Printf("failed to load %s: %v", opts.configPath, err)
		return 2
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		log.Printf("failed to resolve secrets: %v", err)
		return 2
	}

	bridgeID := cfg.BridgeID()
	events.SetRunID(fmt.Sprintf("%s-%d", bridgeID, time.Now().UnixNano()))

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "bridge starting", map[string]interface{}{
		"bridge_id": bridgeID,
		"target_id": cfg.Target.ID,
		"version":   version.String(),
		"hostname":  hostname,
		"pid":       os.Getpid(),
	})

	api.InitMetrics()
	api.InitAuth(secrets)
	api.InitTLS()

	if opts.noPostgres {
		api.SetPostgresState(false, true)
	} else if pg, err := postgres.New(bridgeID); err != nil {
		log.Printf("postgres unavailable, events will not be persisted: %v", err)
		api.SetPostgresState(false, true)
	} else {
		defer pg.Close()
		events.SetSink(pg)
		api.SetPostgresState(true, true)
	}

	loop := eventloop.New()
	defer loop.Stop()

	client := mqtt.NewClient(mqtt.Options{
		ClientID:  "sentient-bridge-" + bridgeID,
		BrokerURL: cfg.Network.MQTTURL,
		Username:  secrets.MQTTUsername,
		Password:  secrets.MQTTPassword,
		OnStateChange: func(connected bool) {
			api.SetMQTTState(connected, false)
		},
	})

	registry := mqtt.NewTargetRegistry()
	specs := map[string]mqtt.TargetSpec{
		cfg.Target.ID: {Type: cfg.Target.Type, Operations: cfg.Target.Operations},
	}
	if !client.StartWithRetry(cfg.RegistrationTopic(), mqtt.RegistrationHandler(registry, specs)) {
		return 1
	}
	defer client.Disconnect()
	api.SetMQTTState(true, false)

	sess := mqtt.NewExitSession(cfg.Target.ID, client, cfg.Target.EventTopicOrDefault(), loop)
	if err := sess.Open(); err != nil {
		log.Printf("failed to open target session: %v", err)
		return 1
	}
	defer sess.Close()

	scriptPath := cfg.Script
	if opts.scriptPath != "" {
		scriptPath = opts.scriptPath
	}
	if scriptPath == "" {
		log.Printf("no script: set script in %s or pass --script", opts.configPath)
		return 2
	}
	sc, err := script.Load(scriptPath)
	if err != nil {
		log.Printf("failed to load script: %v", err)
		return 2
	}

	bc := bridge.New(bridgeID, loop)
	tgt := target.New(cfg.Target, client, registry)
	sess.OnReply(func(m mqtt.TargetMessage) {
		if !tgt.HandleReply(m) {
			events.Emit("warning", "target.error", "read reply for unknown request", map[string]interface{}{
				"target_id": cfg.Target.ID,
				"id":        m.ID,
			})
		}
	})
	defer func() {
		if err := tgt.Close(); err != nil {
			log.Printf("failed to close target loops: %v", err)
		}
	}()
	if err := sc.Build(bc, script.Env{Target: tgt, Session: sess}); err != nil {
		log.Printf("failed to build script: %v", err)
		return 2
	}
	api.SetBridge(bc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if !opts.noAPI {
		port := cfg.APIPort()
		if opts.apiPort != 0 {
			port = opts.apiPort
		}
		g.Go(func() error {
			return api.ListenAndServe(gctx, port)
		})
	}

	if err := bc.Start(); err != nil {
		log.Printf("failed to start bridge: %v", err)
		return 1
	}
	api.SetBridgeReady(true)

	g.Go(func() error {
		awaitRun(gctx, bc)
		// Bring the API down with the run
		cancel()
		return nil
	})

	err = g.Wait()

	st := bc.Status()
	events.Emit("info", "system.shutdown", "bridge stopping", map[string]interface{}{
		"bridge_id": bridgeID,
		"state":     string(st.State),
		"ticks":     st.Ticks,
	})

	if err != nil {
		log.Printf("api server error: %v", err)
		return 1
	}
	return exitCode(st.State)
}

// runHandle is the part of bridge.Commands the CLI waits on.
type runHandle interface {
	Finished() <-chan struct{}
	Stopped() <-chan struct{}
	Stop()
}

// awaitRun blocks until the run finishes or is stopped. Cancelling ctx stops
// the run.
func awaitRun(ctx context.Context, r runHandle) {
	select {
	case <-r.Finished():
	case <-r.Stopped():
	case <-ctx.Done():
		r.Stop()
	}
}

// exitCode maps the final run state to the process exit status.
func exitCode(s bridge.State) int {
	if s == bridge.StateDone {
		return 0
	}
	return 1
}
