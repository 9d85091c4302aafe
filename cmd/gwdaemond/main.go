// gwdaemond is the IQRF gateway daemon core: it wires the DPA engine,
// JSON schema registry, message splitter and IQMESH services together
// and runs until signalled to stop.
//
// Usage:
//
//	gwdaemond [options]
//
// Options:
//
//	-config   path to JSON config file (default: built-in defaults)
//	-verbose  enable debug-level logging (default: false)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pion/logging"

	"github.com/iqrf-gateway/daemon-core/internal/config"
	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
	"github.com/iqrf-gateway/daemon-core/pkg/iqmesh"
	"github.com/iqrf-gateway/daemon-core/pkg/schema"
	"github.com/iqrf-gateway/daemon-core/pkg/splitter"
)

func main() {
	opts, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("gwdaemond: parsing flags: %v", err)
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Fatalf("gwdaemond: loading config: %v", err)
	}

	logFactory := logging.NewDefaultLoggerFactory()
	if opts.Verbose {
		logFactory.DefaultLogLevel = logging.LogLevelDebug
	} else {
		logFactory.DefaultLogLevel = logging.LogLevelInfo
	}
	logger := logFactory.NewLogger("gwdaemond")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logFactory, logger); err != nil {
		log.Fatalf("gwdaemond: %v", err)
	}
}

// daemonVersion is reported by mngDaemon_Version.
const daemonVersion = "1.0.0"

func run(ctx context.Context, cfg config.Config, logFactory logging.LoggerFactory, logger logging.LeveledLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	registry := schema.NewRegistry(schema.RegistryConfig{LoggerFactory: logFactory})
	if err := registry.Load(cfg.SchemaDir); err != nil {
		return fmt.Errorf("loading schemas from %s: %w", cfg.SchemaDir, err)
	}

	// The coordinator byte-transport is driver-specific (serial, USB CDC,
	// SPI) and out of this core's scope; PipeChannel stands in as the
	// loopback default until a real driver is wired in.
	channel, _ := dpa.NewPipeChannelPair()
	engine, err := dpa.NewEngine(dpa.EngineConfig{
		Channel:       channel,
		BootTimeout:   cfg.BootTimeout,
		LoggerFactory: logFactory,
	})
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		logger.Warnf("gwdaemond: coordinator did not report ready within boot timeout: %v", err)
	}

	sp := splitter.New(splitter.Config{
		Schema:                  registry,
		InstanceID:              cfg.InstanceID,
		ManagementQueueCapacity: cfg.ManagementQueueCapacity,
		NetworkQueueCapacity:    cfg.NetworkQueueCapacity,
		ValidateResponses:       cfg.ValidateResponses,
		LoggerFactory:           logFactory,
	})
	defer sp.Close()

	iqmeshCfg := iqmesh.Config{PostBondDelay: cfg.PostBondDelay}
	registerIqmeshHandlers(sp, engine, iqmeshCfg)
	registerManagementHandlers(sp, cancel)

	logger.Infof("gwdaemond: started, instance %q", cfg.InstanceID)
	<-ctx.Done()
	logger.Info("gwdaemond: shutting down")
	return nil
}

// registerIqmeshHandlers binds each IQMESH service to the message types
// it answers, via JSON (de)serialization into the service's request and
// result structs.
func registerIqmeshHandlers(sp *splitter.Splitter, engine *dpa.Engine, cfg iqmesh.Config) {
	rawDpa := iqmesh.NewRawDpa(engine)
	sp.RegisterFilteredHandler([]string{"iqrfRaw"}, jsonHandler(func(ctx context.Context, req iqmesh.RawRequest) iqmesh.RawResult {
		return rawDpa.Execute(ctx, req)
	}))

	bondNodeLocal := iqmesh.NewBondNodeLocal(engine, nil, cfg)
	sp.RegisterFilteredHandler([]string{"iqmeshNetwork_BondNodeLocal"}, jsonHandler(func(ctx context.Context, req iqmesh.BondNodeLocalRequest) iqmesh.BondNodeLocalResult {
		return bondNodeLocal.Execute(ctx, req)
	}))

	dpaVersion := int(engine.CoordinatorParameters().DpaVersionWord)
	smartConnect := iqmesh.NewSmartConnect(engine, nil, cfg, dpaVersion)
	sp.RegisterFilteredHandler([]string{"iqmeshNetwork_SmartConnect"}, jsonHandler(func(ctx context.Context, req iqmesh.SmartConnectRequest) iqmesh.SmartConnectResult {
		return smartConnect.Execute(ctx, req)
	}))

	enumerateDevice := iqmesh.NewEnumerateDevice(engine, nil, dpaVersion)
	sp.RegisterFilteredHandler([]string{"iqmeshNetwork_EnumerateDevice"}, jsonHandler(func(ctx context.Context, req iqmesh.EnumerateDeviceRequest) iqmesh.EnumerateDeviceResult {
		return enumerateDevice.Execute(ctx, req)
	}))
}

// registerManagementHandlers wires the daemon-management messages: queue
// pause/resume, version reporting, operational mode, and exit. The
// splitter's worker already stops the network queue before dispatching
// mngDaemon_Exit; the handler here only has to stop the daemon itself.
func registerManagementHandlers(sp *splitter.Splitter, shutdown context.CancelFunc) {
	ok := func() map[string]interface{} {
		return map[string]interface{}{"status": 0, "statusStr": "ok"}
	}

	sp.RegisterFilteredHandler([]string{"mngDaemon_StartNetworkQueue"}, func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error) {
		sp.ResumeNetworkQueue()
		return ok(), nil
	})
	sp.RegisterFilteredHandler([]string{"mngDaemon_StopNetworkQueue"}, func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error) {
		sp.PauseNetworkQueue()
		return ok(), nil
	})

	sp.RegisterFilteredHandler([]string{"mngDaemon_Version"}, func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error) {
		data := ok()
		data["rsp"] = map[string]interface{}{"version": daemonVersion}
		return data, nil
	})

	var modeMu sync.Mutex
	mode := "operational"
	sp.RegisterFilteredHandler([]string{"mngDaemon_Mode"}, func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error) {
		requested := ""
		if data, okData := doc["data"].(map[string]interface{}); okData {
			if req, okReq := data["req"].(map[string]interface{}); okReq {
				requested, _ = req["operMode"].(string)
			}
		}
		modeMu.Lock()
		switch requested {
		case "operational", "service", "forwarding":
			mode = requested
		case "":
			// Query only.
		default:
			modeMu.Unlock()
			return nil, fmt.Errorf("unknown operational mode %q", requested)
		}
		current := mode
		modeMu.Unlock()

		data := ok()
		data["rsp"] = map[string]interface{}{"operMode": current}
		return data, nil
	})

	sp.RegisterFilteredHandler([]string{"mngDaemon_Exit"}, func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error) {
		shutdown()
		return ok(), nil
	})
}

// jsonHandler adapts a typed IQMESH request/result service call to
// splitter.HandlerFunc. The request's envelope fields (msgId, timeout,
// returnVerbose) are read off data and its service-specific fields off
// data.req; the result is split back out into data.status/statusStr/rsp/raw
// per the external message contract.
func jsonHandler[Req any, Res any](call func(ctx context.Context, req Req) Res) splitter.HandlerFunc {
	return func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error) {
		data, _ := doc["data"].(map[string]interface{})

		var req Req
		if iqReq, ok := any(&req).(iqmesh.Request); ok {
			if err := iqmesh.DecodeRequest(data, iqReq); err != nil {
				return nil, err
			}
		} else if data != nil {
			raw, err := json.Marshal(data)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
		}

		result := call(ctx, req)

		if iqRes, ok := any(&result).(iqmesh.Result); ok {
			return iqmesh.EncodeResult(iqRes)
		}

		out, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		var respData map[string]interface{}
		if err := json.Unmarshal(out, &respData); err != nil {
			return nil, err
		}
		return respData, nil
	}
}
