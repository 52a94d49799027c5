package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sophia/internal/server"
	"sophia/internal/swarm"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(v)
			if err != nil {
				return err
			}
			defer app.tracer.Shutdown(context.Background())

			broadcaster := swarm.NewBroadcaster()
			pipeline := swarm.NewPipeline(app.pipelineConfig(), app.client, swarm.Options{
				Store:       app.store,
				Metrics:     swarm.DefaultMetrics(),
				Broadcaster: broadcaster,
				Logger:      app.logger,
			})
			service, err := swarm.NewService(pipeline, broadcaster, app.breakers,
				expandHome(app.cfg.Server.TaskDir), app.logger)
			if err != nil {
				return err
			}

			serverCfg := server.DefaultConfig()
			serverCfg.Host = app.cfg.Server.Host
			serverCfg.Port = app.cfg.Server.Port
			serverCfg.EnableCORS = app.cfg.Server.EnableCORS
			serverCfg.Debug = app.cfg.Server.Debug
			if host != "" {
				serverCfg.Host = host
			}
			if port != 0 {
				serverCfg.Port = port
			}

			srv := server.New(service, app.store, app.breakers, serverCfg, app.logger)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			fmt.Printf("%s listening on http://%s:%d\n", green("sophia"), serverCfg.Host, serverCfg.Port)
			if err := srv.Start(ctx); err != nil {
				return err
			}

			// Let running tasks drain before exit.
			drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer drainCancel()
			return service.Wait(drainCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")
	return cmd
}
