package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cuemby/tmt/pkg/metrics"
	"github.com/cuemby/tmt/pkg/policy"
	"github.com/cuemby/tmt/pkg/run"
	"github.com/cuemby/tmt/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run plans and tests from a metadata tree",
	Long: `run loads a metadata tree, selects plans and tests, and drives
every selected plan through discover, provision, prepare, execute,
report and finish, exiting 0 on success, 1 when a test failed, 2 on
error, or 3 when nothing matched the selection.`,
	RunE: runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.String("tree", "./tree.yaml", "path to the metadata tree file")
	flags.String("workdir", "./tmt-runs", "base directory for run state")
	flags.String("id", "", "resume (or create) the run directory named DIR")
	flags.Bool("scratch", false, "start a clean run even if --id names an existing one")
	flags.Bool("force", false, "redo steps already marked done")
	flags.Bool("keep", false, "leave provisioned guests running after the run finishes")
	flags.BoolP("dry", "n", false, "validate plans and tests without touching a guest")
	flags.Bool("feeling-safe", false, "accepted for compatibility; the run command does not read it")

	flags.StringSliceP("plan", "p", nil, "select plans whose name matches REGEX (repeatable)")
	flags.StringSliceP("test", "t", nil, "select tests whose name matches REGEX (repeatable)")

	flags.StringToString("environment", nil, "set K=V in every test's environment")
	flags.StringSlice("environment-file", nil, "load environment from PATH (repeatable)")
	flags.String("policy-file", "", "apply the policy document at PATH before running")

	flags.StringSlice("insert", nil, "insert a phase: step=STEP,name=N,how=HOW[,option=value...]")
	flags.StringSlice("update", nil, "update a phase: step=STEP,name=N[,how=HOW][,option=value...]")
	flags.StringSlice("update-missing", nil, "fill a phase's unset fields: step=STEP,name=N[,how=HOW]")
	flags.StringSlice("remove", nil, "remove a phase: step=STEP,name=N")

	flags.Int("concurrency", 0, "maximum plans to run at once (0 or 1 = one plan at a time)")
	flags.String("metrics-addr", "", "serve Prometheus metrics and health endpoints on ADDR while the run is in flight")
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	recipe := run.Recipe{}
	recipe.TreePath, _ = flags.GetString("tree")
	recipe.WorkdirBase, _ = flags.GetString("workdir")
	recipe.RunID, _ = flags.GetString("id")
	recipe.Scratch, _ = flags.GetBool("scratch")
	recipe.Force, _ = flags.GetBool("force")
	recipe.Keep, _ = flags.GetBool("keep")
	recipe.DryRun, _ = flags.GetBool("dry")
	recipe.Concurrency, _ = flags.GetInt("concurrency")
	recipe.PlanPatterns, _ = flags.GetStringSlice("plan")
	recipe.TestPatterns, _ = flags.GetStringSlice("test")
	recipe.Environment, _ = flags.GetStringToString("environment")
	recipe.EnvFiles, _ = flags.GetStringSlice("environment-file")

	if policyFile, _ := flags.GetString("policy-file"); policyFile != "" {
		doc, err := policy.Load(policyFile)
		if err != nil {
			return err
		}
		recipe.Policy = &doc
	}

	overlays, err := collectOverlays(flags)
	if err != nil {
		return err
	}
	recipe.Overlays = overlays

	var metricsServer *http.Server
	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer metricsServer.Close()
	}

	runner, err := run.NewRunner(recipe)
	if err != nil {
		return err
	}

	code, results, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	printSummary(results)

	if code != run.ExitSuccess {
		os.Exit(int(code))
	}
	return nil
}

var overlayFlagOps = map[string]run.OverlayOp{
	"insert":         run.OverlayInsert,
	"update":         run.OverlayUpdate,
	"update-missing": run.OverlayUpdateMissing,
	"remove":         run.OverlayRemove,
}

func collectOverlays(flags *pflag.FlagSet) ([]run.Overlay, error) {
	var overlays []run.Overlay
	for flagName, op := range overlayFlagOps {
		values, _ := flags.GetStringSlice(flagName)
		for _, raw := range values {
			o, err := run.ParseOverlay(op, raw)
			if err != nil {
				return nil, err
			}
			overlays = append(overlays, o)
		}
	}
	return overlays, nil
}

func printSummary(results []run.PlanResult) {
	for _, pr := range results {
		if pr.Err != nil {
			color.Red("plan %s: %v", pr.Plan.Name, pr.Err)
			continue
		}
		for _, res := range pr.Results {
			line := fmt.Sprintf("%-8s %s", strings.ToUpper(string(res.Result)), res.Name)
			switch res.Result {
			case types.OutcomePass:
				color.Green(line)
			case types.OutcomeWarn, types.OutcomeInfo:
				color.Yellow(line)
			default:
				color.Red(line)
			}
		}
	}
}
