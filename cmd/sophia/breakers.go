package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sophiaerrors "sophia/internal/errors"
)

func newBreakersCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "breakers",
		Short: "Show circuit breaker states for external dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(v)
			if err != nil {
				return err
			}

			snapshots := app.breakers.Metrics()
			if len(snapshots) == 0 {
				fmt.Println(gray("no breakers instantiated yet"))
				return nil
			}
			sort.Slice(snapshots, func(i, j int) bool {
				return snapshots[i].Name < snapshots[j].Name
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tFAILURES\tSUCCESSES\tLAST CHANGE")
			for _, m := range snapshots {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					m.Name, colorState(m), m.FailureCount, m.SuccessCount,
					m.LastStateChange.Format("15:04:05"))
			}
			return w.Flush()
		},
	}
}

func colorState(m sophiaerrors.CircuitBreakerMetrics) string {
	switch m.State {
	case sophiaerrors.StateOpen:
		return red(m.StateLabel)
	case sophiaerrors.StateHalfOpen:
		return yellow(m.StateLabel)
	default:
		return green(m.StateLabel)
	}
}
