package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sophia/internal/runner"
	"sophia/internal/swarm"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	var (
		taskType string
		apply    bool
		dryRun   bool
		risk     string
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "run \"<goal>\"",
		Short: "Run a task through the debate pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.TrimSpace(args[0])
			if goal == "" {
				return fmt.Errorf("goal must not be empty")
			}

			app, err := buildApp(v)
			if err != nil {
				return err
			}
			defer app.tracer.Shutdown(context.Background())

			writesAllowed := apply && !dryRun
			if writesAllowed && !yes {
				if !confirmWrites(app.cfg.Runner.WorkspaceRoot) {
					fmt.Println(yellow("Aborted before any writes."))
					return nil
				}
			}

			var run *runner.Runner
			if apply || dryRun {
				run, err = runner.New(expandHome(app.cfg.Runner.WorkspaceRoot), runner.Options{
					DryRun:       dryRun || !apply,
					ColorEnabled: isTTY(),
					Logger:       app.logger,
				})
				if err != nil {
					return err
				}
			}

			pipeline := swarm.NewPipeline(app.pipelineConfig(), app.client, swarm.Options{
				Store:   app.store,
				Runner:  run,
				Metrics: swarm.DefaultMetrics(),
				Logger:  app.logger,
			})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			fmt.Printf("%s %s\n", cyan("▸"), bold(goal))
			outcome, err := pipeline.Run(ctx, swarm.Task{
				Goal: goal,
				Type: taskType,
				Constraints: swarm.Constraints{
					RiskTolerance: swarm.RiskTolerance(risk),
					WritesAllowed: writesAllowed,
				},
			})
			if err != nil {
				return err
			}
			printOutcome(outcome)
			if outcome.State == swarm.StateAborted {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&taskType, "type", "t", "", "Task type, e.g. bugfix, refactor, feature")
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply accepted file changes to the workspace")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show would-be changes without writing")
	cmd.Flags().StringVar(&risk, "risk", string(swarm.RiskLow), "Risk tolerance: low, medium, high")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the write confirmation prompt")
	return cmd
}

// confirmWrites asks before the pipeline is allowed to touch the
// workspace. Without a TTY the answer is no.
func confirmWrites(workspaceRoot string) bool {
	if !isTTY() {
		fmt.Println(yellow("No TTY for write confirmation; rerun with --yes to allow writes."))
		return false
	}
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Allow accepted changes to be written under %s", workspaceRoot),
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

func printOutcome(outcome *swarm.Outcome) {
	switch outcome.State {
	case swarm.StateDone:
		fmt.Printf("%s finished after %d round(s)\n", green("✔"), outcome.Rounds)
	default:
		fmt.Printf("%s aborted after %d round(s): %s\n", red("✘"), outcome.Rounds, outcome.AbortReason)
	}

	if plan := outcome.Plan; plan != nil {
		fmt.Printf("\n%s %s\n", bold("Plan:"), plan.Approach)
		for i, step := range plan.Steps {
			fmt.Printf("  %d. %s\n", i+1, step.Title)
			if step.Detail != "" {
				fmt.Printf("     %s\n", gray(step.Detail))
			}
		}
	}

	if d := outcome.Decision; d != nil {
		fmt.Printf("\n%s %s (quality %.2f)\n", bold("Verdict:"), verdictColor(d.Verdict), d.QualityScore)
		if d.Rationale != "" {
			fmt.Printf("%s\n", gray(d.Rationale))
		}
		if d.Content != "" && outcome.State == swarm.StateDone {
			fmt.Printf("\n%s\n%s\n", bold("Result:"), d.Content)
		}
	}

	for _, res := range outcome.RunnerResults {
		status := green("applied")
		if !res.Applied {
			status = yellow("preview")
		}
		if res.Err != "" {
			status = red("failed: " + res.Err)
		}
		fmt.Printf("\n%s %s %s (%s)\n", bold(string(res.Instruction.Op)), res.Instruction.Path, status, res.Summary)
		if res.Preview != "" {
			fmt.Println(res.Preview)
		}
	}
}

func verdictColor(v swarm.Verdict) string {
	switch v {
	case swarm.VerdictAccept, swarm.VerdictMerge:
		return green(string(v))
	case swarm.VerdictReject:
		return red(string(v))
	default:
		return yellow(string(v))
	}
}
