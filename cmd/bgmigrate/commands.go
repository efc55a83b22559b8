package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chararch/bgmigration"
	"github.com/chararch/bgmigration/adapters/queue"
	"github.com/chararch/bgmigration/adapters/repository"
	"github.com/chararch/bgmigration/adapters/txn"
	"github.com/chararch/bgmigration/config"
	"github.com/chararch/bgmigration/extensions/catalog"
)

var configFile string

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "bgmigrate",
		Short:        "Run resumable batched background migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("BGMIGRATE_CONFIG"), "config file")
	root.AddCommand(
		migrateSchemaCommand(),
		runCommand(),
		finalizeCommand(),
		scheduleCommand(),
		requeueCommand(),
		dequeueCommand(),
		workCommand(),
		statusCommand(),
		restartCommand(),
		purgeCommand(),
		publishCatalogCommand(),
		exportCatalogCommand(),
	)
	return root
}

// withApp loads the config, wires the app and closes it once fn returns
func withApp(fn func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx, a)
	}
}

func parseRange(startArg, stopArg string) (bgmigration.Cursor, bgmigration.Cursor, error) {
	start, err := bgmigration.ParseCursor(startArg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid start cursor")
	}
	stop, err := bgmigration.ParseCursor(stopArg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid stop cursor")
	}
	return start, stop, nil
}

func migrateSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-schema",
		Short: "Create or upgrade the progress table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			db, dialect, err := txn.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			version, err := repository.MigrateSchema(db, dialect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "progress schema at version %d\n", version)
			return nil
		},
	}
}

func runCommand() *cobra.Command {
	var retry bool
	cmd := &cobra.Command{
		Use:   "run <job> <start> <stop>",
		Short: "Run the batches of a job in this process",
		Long:  "Run the batches of a job in this process. Composite cursors are written as outer,inner.",
		Args:  cobra.ExactArgs(3),
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "retry failed batches with backoff until the job succeeds or fails")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, stop, err := parseRange(args[1], args[2])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			var summary *bgmigration.RunSummary
			var er error
			if retry {
				summary, er = a.engine.Start(ctx, args[0], bgmigration.RangeParameters(start, stop).ToString())
			} else {
				var berr bgmigration.BatchError
				summary, berr = a.engine.Run(ctx, args[0], start, stop)
				if berr != nil {
					er = berr
				}
			}
			printSummary(cmd.OutOrStdout(), summary)
			return er
		})(cmd, args)
	}
	return cmd
}

func finalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <job> <start> <stop>",
		Short: "Drop the queued batches of a job and run what is left inline",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, stop, err := parseRange(args[1], args[2])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				if _, er := a.scheduler().DeleteQueued(ctx, args[0]); er != nil {
					return er
				}
				summary, berr := a.engine.Finalize(ctx, args[0], start, stop)
				printSummary(cmd.OutOrStdout(), summary)
				if berr != nil {
					return berr
				}
				return nil
			})(cmd, args)
		},
	}
}

func scheduleCommand() *cobra.Command {
	var interval, delay time.Duration
	cmd := &cobra.Command{
		Use:   "schedule <job> <start> <stop>",
		Short: "Queue one delayed batch per range of a job",
		Args:  cobra.ExactArgs(3),
	}
	cmd.Flags().DurationVar(&interval, "interval", queue.MinimumInterval, "delay between two batches")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the first batch")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, stop, err := parseRange(args[1], args[2])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			last, er := a.scheduler().ScheduleByRange(ctx, args[0], start, stop, interval, delay)
			if er != nil {
				return er
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s scheduled, last batch due in %v\n", args[0], last)
			return nil
		})(cmd, args)
	}
	return cmd
}

func requeueCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "requeue <job> <start> <stop>",
		Short: "Queue again what is left of a job after its high-water mark",
		Args:  cobra.ExactArgs(3),
	}
	cmd.Flags().DurationVar(&interval, "interval", queue.MinimumInterval, "delay between two batches")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, stop, err := parseRange(args[1], args[2])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			last, er := a.scheduler().Requeue(ctx, args[0], start, stop, interval)
			if er != nil {
				return er
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s requeued, last batch due in %v\n", args[0], last)
			return nil
		})(cmd, args)
	}
	return cmd
}

func dequeueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue <job>",
		Short: "Delete the queued batches of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.scheduler().DeleteQueued(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d queued batches of job %s deleted\n", n, args[0])
				return nil
			})(cmd, args)
		},
	}
}

func workCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Perform queued batches and serve metrics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app) error {
			worker, err := queue.NewWorker(a.queue(), a.engine, a.cfg.Worker.Options(a.cfg.Engine))
			if err != nil {
				return err
			}
			if a.cfg.Metrics.Addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if er := srv.ListenAndServe(); er != nil && er != http.ErrServerClosed {
						bgmigration.DefaultLogger.Error(ctx, "metrics server error:%v", er)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}
			return worker.Run(ctx)
		}),
	}
}

func statusCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status [job]",
		Short: "Show the progress of one job or of all jobs",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.Flags().StringVar(&status, "status", "", "only list jobs with this status")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var records []*bgmigration.ProgressRecord
			if len(args) == 1 {
				record, err := a.engine.Status(ctx, args[0])
				if err != nil {
					return err
				}
				records = append(records, record)
			} else {
				list, err := a.repository.List(ctx, bgmigration.Status(status))
				if err != nil {
					return err
				}
				records = list
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		})(cmd, args)
	}
	return cmd
}

func restartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <job>",
		Short: "Start a new run of a succeeded or failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return a.engine.Restart(ctx, args[0])
			})(cmd, args)
		},
	}
}

func purgeCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the progress of jobs that succeeded before --older-than",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the records to delete")
	cmd.RunE = withApp(func(ctx context.Context, a *app) error {
		n, err := a.repository.Purge(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d records purged\n", n)
		return nil
	})
	return cmd
}

func publishCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish-catalog <local file>",
		Short: "Validate a local catalog and copy it to the configured catalog store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return catalog.Copy(&catalog.LocalFileSystem{}, args[0], cfg.Catalog.Store(), cfg.Catalog.File)
		},
	}
}

func exportCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-catalog <local file>",
		Short: "Write every registered job and alias to a local catalog file",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			c := catalog.FromRegistry(a.registry)
			if err := c.Save(&catalog.LocalFileSystem{}, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs and %d aliases exported to %s\n", len(c.Jobs), len(c.Aliases), args[0])
			return nil
		})(cmd, args)
	}
	return cmd
}

func printSummary(w io.Writer, summary *bgmigration.RunSummary) {
	if summary == nil {
		return
	}
	fmt.Fprintf(w, "job %s: %d batches, %d rows, status %s\n", summary.JobName, summary.Batches, summary.RowsAffected, summary.Status)
}

func printRecords(w io.Writer, records []*bgmigration.ProgressRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tCURSOR\tSTOP\tROWS\tFAILURES\tUPDATED\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%d\t%d\t%s\t%s\n", r.JobName, r.Status, r.LastCompletedCursor, r.StopCursor,
			r.RowsProcessed, r.FailureCount, r.UpdatedAt.Format(time.RFC3339), r.LastError)
	}
	_ = tw.Flush()
}
