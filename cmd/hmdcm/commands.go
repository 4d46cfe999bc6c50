package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/hmdcm/internal/app"
	"github.com/yungbote/hmdcm/internal/clients/redis"
	"github.com/yungbote/hmdcm/internal/config"
	"github.com/yungbote/hmdcm/internal/services"
)

var (
	configPath string
	runsLimit  int
	maxIter    int
	timeout    string

	rootCmd = &cobra.Command{
		Use:           "hmdcm",
		Short:         "Fit hidden Markov diagnostic classification models by variational Bayes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fitCmd = &cobra.Command{
		Use:   "fit",
		Short: "Load the configured forms, run the fit and record the run",
		RunE:  runFit,
	}

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List recently recorded fit runs",
		RunE:  listRuns,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream fit progress published on the configured Redis channel",
		RunE:  watchProgress,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $HMDCM_CONFIG_PATH or ./config/hmdcm.yaml)")
	fitCmd.Flags().IntVar(&maxIter, "max-iter", 0, "override fit.max_iter")
	fitCmd.Flags().StringVar(&timeout, "timeout", "", "override fit.timeout, e.g. 30s")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(fitCmd, runsCmd, watchCmd)
}

func loadApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("max-iter") {
		cfg.Fit.MaxIter = maxIter
	}
	if cmd.Flags().Changed("timeout") {
		if _, err := time.ParseDuration(timeout); err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Fit.Timeout = timeout
	}
	return app.New(ctx, cfg)
}

func runFit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	out, err := a.Services.Fits.Run(ctx, a.Cfg)
	if err != nil {
		return err
	}
	if err := a.WriteMetrics(); err != nil {
		a.Log.Warn("failed to write metrics", "error", err)
	}
	printOutcome(cmd.OutOrStdout(), out)
	return nil
}

func printOutcome(w io.Writer, out *services.FitOutcome) {
	res := out.Result
	fmt.Fprintf(w, "run        %s\n", out.RunID)
	fmt.Fprintf(w, "state      %s\n", res.State)
	fmt.Fprintf(w, "iterations %d\n", res.Iterations)
	fmt.Fprintf(w, "elbo       %.6f\n", res.FinalELBO())
	fmt.Fprintf(w, "elapsed    %s\n", res.Elapsed.Round(time.Millisecond))
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning    %s\n", warn)
	}
}

func listRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	runs, err := a.Services.Fits.ListRecent(ctx, runsLimit)
	if errors.Is(err, services.ErrNoStore) {
		return fmt.Errorf("set store.dsn or HMDCM_DB_DSN to list runs")
	}
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRULE\tK\tN\tT\tITER\tELBO\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.4f\t%s\n",
			r.ID, r.Status, r.Rule, r.K, r.Respondents, r.Occasions, r.Iterations, r.FinalELBO,
			r.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func watchProgress(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if a.Clients.ProgressBus == nil {
		return fmt.Errorf("set progress.redis_addr or REDIS_ADDR to watch progress")
	}
	w := cmd.OutOrStdout()
	err = a.Clients.ProgressBus.Watch(ctx, func(m redis.ProgressMessage) {
		if m.Done {
			fmt.Fprintf(w, "%s done state=%s elbo=%.6f %s\n", m.RunID, m.State, m.ELBO, m.Error)
			return
		}
		fmt.Fprintf(w, "%s iter=%d elbo=%.6f delta=%.3g\n", m.RunID, m.Iteration, m.ELBO, m.Delta)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
