package main

import (
	"flag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/baltar/lamina/api"
	"github.com/baltar/lamina/pkg/config"
	"github.com/baltar/lamina/pkg/probes"
	"github.com/baltar/lamina/pkg/router"
	"github.com/baltar/lamina/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()
	zap.ReplaceGlobals(log)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal("cannot load config", zap.String("path", *configPath), zap.Error(err))
		}
	}

	sched := scheduler.New(cfg.Scheduler.Workers, log.Named("scheduler"))
	defer sched.Close()

	registry := probes.NewRegistry(log.Named("probes"))
	for _, name := range cfg.Probes {
		registry.GetOrAdd(name)
	}

	local := router.NewLocal(log.Named("router"), sched, registry, cfg.DefaultPeriod())

	g := gin.Default()
	api.CreateRestAPI(g, local, registry, log.Named("api"))

	log.Info("started lamina server", zap.String("listen", cfg.Listen))
	if err := g.Run(cfg.Listen); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}
