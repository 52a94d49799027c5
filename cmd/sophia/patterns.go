package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPatternsCommand(v *viper.Viper) *cobra.Command {
	var (
		taskType string
		topK     int
	)

	cmd := &cobra.Command{
		Use:   "patterns [query]",
		Short: "Search stored strategies from past successful runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			if query == "" && taskType == "" {
				return fmt.Errorf("provide a query argument or --type")
			}

			app, err := buildApp(v)
			if err != nil {
				return err
			}
			defer app.tracer.Shutdown(context.Background())

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			matches, err := app.store.Retrieve(ctx, query, taskType, topK)
			if err != nil {
				return fmt.Errorf("pattern retrieval failed: %w", err)
			}
			if len(matches) == 0 {
				fmt.Println(gray("no stored patterns matched"))
				return nil
			}

			for i, m := range matches {
				p := m.Pattern
				fmt.Printf("%s %s  %s\n",
					bold(fmt.Sprintf("%d.", i+1)),
					cyan(p.TaskType),
					gray(fmt.Sprintf("similarity %.2f  quality %.2f  rounds %d", m.Similarity, p.QualityScore, p.Rounds)))
				fmt.Printf("   goal: %s\n", p.Goal)
				fmt.Printf("   approach: %s\n", p.Approach)
				if len(p.Roles) > 0 {
					fmt.Printf("   roles: %s\n", strings.Join(p.Roles, ", "))
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&taskType, "type", "t", "", "Filter by task type")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Maximum number of matches")
	return cmd
}
