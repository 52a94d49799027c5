package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sophia/internal/logging"
	"sophia/internal/mcp"
	"sophia/internal/swarm"
)

func newMCPCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The stdio transport owns stdout; log lines would corrupt the
			// protocol stream.
			logging.SetStdoutEcho(false)

			app, err := buildApp(v)
			if err != nil {
				return err
			}

			broadcaster := swarm.NewBroadcaster()
			pipeline := swarm.NewPipeline(app.pipelineConfig(), app.client, swarm.Options{
				Store:       app.store,
				Broadcaster: broadcaster,
				Logger:      app.logger,
			})
			service, err := swarm.NewService(pipeline, broadcaster, app.breakers,
				expandHome(app.cfg.Server.TaskDir), app.logger)
			if err != nil {
				return err
			}

			return mcp.ServeStdio(mcp.New(service, app.store, app.breakers, app.logger))
		},
	}
}
