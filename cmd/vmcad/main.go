// Command vmcad is the consolidation agent daemon: it loads the agent
// configuration, wires a Deployment backend, and runs the periodic defrag
// control loop and operator RPC surface.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grycap/vmca/internal/daemon"
	"github.com/grycap/vmca/internal/defrag"
	"github.com/grycap/vmca/internal/deployment"
	"github.com/grycap/vmca/internal/deployment/sim"
	"github.com/grycap/vmca/internal/logging"
	"github.com/grycap/vmca/internal/monitor"
	"github.com/grycap/vmca/internal/planner"
	"github.com/grycap/vmca/internal/policy"
	"github.com/grycap/vmca/internal/proxmox"
	"github.com/grycap/vmca/internal/resource"
	"github.com/grycap/vmca/internal/rpcserver"

	vmcaconfig "github.com/grycap/vmca/internal/config"

	"github.com/gorilla/mux"
)

var (
	configPath  = flag.String("config", "/etc/vmca/vmca.yaml", "path to the agent configuration file")
	backend     = flag.String("backend", "sim", "deployment backend: sim|proxmox-api|proxmox-shell")
	apiHost     = flag.String("api-host", "https://localhost:8006", "Proxmox API host URL (backend=proxmox-api)")
	apiToken    = flag.String("api-token", "", "Proxmox API token, user@realm!tokenid=secret (backend=proxmox-api)")
	versionFlag = flag.Bool("version", false, "print version and exit")
)

var appVersion = "dev"

func main() {
	flag.Parse()
	if *versionFlag {
		fmt.Println("vmcad", appVersion)
		return
	}
	rpcserver.Version = appVersion

	cfg, err := vmcaconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmcad: %v, falling back to defaults\n", err)
		cfg = vmcaconfig.Defaults()
	}

	log, err := logging.NewFromConfig(cfg.DebugLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmcad: %v\n", err)
		os.Exit(1)
	}

	dep, err := buildDeployment(*backend, *apiHost, *apiToken)
	if err != nil {
		log.Error("could not build deployment backend", "err", err)
		os.Exit(1)
	}

	mon := monitor.New(dep, cfg.MonitorizationValidity, nowFunc, log)
	plan, err := planner.New(mon, planner.Config{
		CooldownMigration:         cfg.CooldownMigration,
		MigrationPlanFrequency:    cfg.MigrationPlanFrequency,
		MaxMigrationTime:          cfg.MaxMigrationTime,
		MaxSimultaneousMigrations: cfg.MaxSimultaneousMigrations,
		EnableMigration:           cfg.EnableMigration,
		Log:                       log,
	})
	if err != nil {
		log.Error("could not build migration plan executor", "err", err)
		os.Exit(1)
	}

	d := daemon.New(cfg, daemon.Deps{
		Monitor:     mon,
		Deployment:  dep,
		Plan:        plan,
		Periodic:    newPeriodicDefragger(cfg, log),
		Distributer: newDistributeDefragger(cfg, log),
		NewCleaner:  newCleanDefraggerFactory(cfg, log),
		Log:         log,
	})
	if err := d.Start(); err != nil {
		log.Error("could not start daemon", "err", err)
		os.Exit(1)
	}

	rpc := rpcserver.New(d)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.RPCHost, cfg.RPCPort),
		Handler: withLogging(rpc.Router(), log),
	}

	go func() {
		log.Info("rpc server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc server failed", "err", err)
		}
	}()

	waitForShutdown(log, d, srv)
}

func waitForShutdown(log logging.Logger, d *daemon.Daemon, srv *http.Server) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down")
	d.Stop()
	srv.Close()
}

func withLogging(router *mux.Router, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("rpc request", "method", r.Method, "path", r.URL.Path)
		router.ServeHTTP(w, r)
	})
}

func nowFunc() int64 {
	return time.Now().Unix()
}

func buildDeployment(backend, apiHost, apiToken string) (deployment.Deployment, error) {
	switch backend {
	case "sim":
		return sim.New(resource.New(), nil), nil
	case "proxmox-api":
		if apiToken == "" {
			return nil, fmt.Errorf("backend=proxmox-api requires -api-token")
		}
		return proxmox.NewDeployment(proxmox.NewClient(apiHost, apiToken)), nil
	case "proxmox-shell":
		return proxmox.NewDeployment(proxmox.NewShellClient()), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func newPeriodicDefragger(cfg vmcaconfig.Config, log logging.Logger) defrag.Defragger {
	return defrag.NewFirstFit(baseConfig(cfg, log, policy.SelectMoreUsedResourcesFirst{}, policy.SchedulerPacking{}, false))
}

func newDistributeDefragger(cfg vmcaconfig.Config, log logging.Logger) defrag.Defragger {
	return defrag.NewDistribute(baseConfig(cfg, log, nil, nil, false))
}

func newCleanDefraggerFactory(cfg vmcaconfig.Config, log logging.Logger) daemon.CleanDefraggerFactory {
	return func(useEmptyHosts bool) defrag.Defragger {
		return defrag.NewFirstFit(baseConfig(cfg, log, policy.SelectMoreVMsFirst{}, policy.SchedulerFirstFit{}, useEmptyHosts))
	}
}

func baseConfig(cfg vmcaconfig.Config, log logging.Logger, hs policy.HostSelector, vs policy.VMScheduler, useEmpty bool) defrag.Config {
	return defrag.Config{
		VMScheduler:                vs,
		HostSelector:               hs,
		DisabledHosts:              cfg.DisabledHostsSet(),
		StableTime:                 cfg.StableTime,
		Now:                        nowFunc,
		UseEmptyHostsAsDestination: useEmpty,
		Thresholds: resource.Thresholds{
			CPUUsageMinPct: cfg.CPUMinPct,
			MemUsageMinPct: cfg.MemoryMinPct,
			VMCountMin:     cfg.VMCountMin,
		},
		Log: log,
	}
}
