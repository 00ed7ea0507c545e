package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
)

// targetFile is the YAML shape accepted by `acquire --file`.
type targetFile struct {
	Prompt        string                     `yaml:"prompt"`
	Organizations []model.TargetOrganization `yaml:"organizations"`
	Filters       model.Filters              `yaml:"filters"`
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Start an acquisition run",
	Long:  "Starts a run against the configured provider and tails its log until it reaches a terminal state. Ctrl-C requests cancellation; the run settles at the next chunk boundary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		file, _ := cmd.Flags().GetString("file")
		prompt, _ := cmd.Flags().GetString("prompt")
		owner, _ := cmd.Flags().GetString("owner")
		idemKey, _ := cmd.Flags().GetString("idempotency-key")
		detach, _ := cmd.Flags().GetBool("detach")

		req := pipeline.RunRequest{Owner: owner, IdempotencyKey: idemKey}
		switch {
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return eris.Wrapf(err, "read targets file %s", file)
			}
			var tf targetFile
			if err := yaml.Unmarshal(data, &tf); err != nil {
				return eris.Wrapf(err, "parse targets file %s", file)
			}
			req.Targets = model.TargetSpec{Prompt: tf.Prompt, Organizations: tf.Organizations}
			req.Filters = tf.Filters
		case prompt != "":
			req.Targets = model.TargetSpec{Prompt: prompt}
		default:
			return eris.New("either --file or --prompt is required")
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		handle, err := env.Pipeline.Start(ctx, req)
		if err != nil {
			return err
		}
		defer handle.Close()

		fmt.Printf("run %s started\n", handle.RunID)
		if detach {
			return nil
		}

		done := ctx.Done()
		for {
			select {
			case <-done:
				done = nil
				fmt.Fprintln(os.Stderr, "cancelling, waiting for chunk boundary...")
				if _, err := env.Pipeline.Cancel(cmd.Context(), handle.RunID); err != nil {
					zap.L().Warn("cancel run", zap.Error(err))
				}
			case ev, ok := <-handle.Events:
				if !ok {
					return printFinal(cmd.Context(), env, handle.RunID)
				}
				switch ev.Type {
				case pipeline.EventLog:
					fmt.Printf("[%s] %s\n", ev.Log.Stage, ev.Log.Message)
				case pipeline.EventStatus:
					fmt.Printf("status: %s\n", ev.Status)
					if ev.Status.Terminal() {
						return printFinal(cmd.Context(), env, handle.RunID)
					}
				}
			}
		}
	},
}

// printFinal fetches the settled run and prints its outcome. It uses the
// command's root context, not the signal context, so it still works after
// Ctrl-C.
func printFinal(ctx context.Context, env *engineEnv, runID string) error {
	run, err := env.Pipeline.Status(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s %s: submitted=%d accepted=%d rejected=%d duplicate=%d errored=%d\n",
		run.ID, run.Status, run.Counters.Submitted, run.Counters.Accepted,
		run.Counters.Rejected, run.Counters.Duplicate, run.Counters.Errored)
	if run.OutputRef != "" {
		fmt.Printf("output: %s\n", run.OutputRef)
	}
	return nil
}

func init() {
	acquireCmd.Flags().String("file", "", "YAML file with target organizations and filters")
	acquireCmd.Flags().String("prompt", "", "free-text roster of company names (comma or newline separated)")
	acquireCmd.Flags().String("owner", "", "owner scope for dedup (default \"default\")")
	acquireCmd.Flags().String("idempotency-key", "", "idempotency key; retrying with the same key returns the existing run")
	acquireCmd.Flags().Bool("detach", false, "start the run and exit without tailing its log")
	rootCmd.AddCommand(acquireCmd)
}
