package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/bulk"
	"github.com/ajitpratap0/orbit/pkg/source"
)

func newQueryCommand(v *viper.Viper) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "query <soql>",
		Short: "Run a query and print every record as a JSON line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, log, err := openClient(v, "orbit-query")
			if err != nil {
				return err
			}
			defer api.Close()

			ctx, cancel := signalContext(timeout)
			defer cancel()

			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()

			count := 0
			for rec, err := range api.QueryAll(ctx, args[0]) {
				if err != nil {
					return fmt.Errorf("query failed after %d records: %w", count, err)
				}
				line, err := gojson.Marshal(rec)
				if err != nil {
					return err
				}
				out.Write(line)
				out.WriteByte('\n')
				count++
			}
			log.Info("query complete", zap.Int("records", count))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Query timeout")
	return cmd
}

type bulkFlags struct {
	object       string
	operation    string
	externalID   string
	assignmentID string
	csvFile      string
	delimiter    string
	skipEmpty    bool
	pgDSN        string
	pgQuery      string
	timeout      time.Duration
	strict       bool
}

func newBulkCommand(v *viper.Viper) *cobra.Command {
	var f bulkFlags

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Load records through bulk ingest jobs",
		Long: `Load records from a CSV file or a PostgreSQL query through bulk ingest jobs.
Records are split into batches under the configured size ceiling and each
batch runs as its own job.

Example:
  orbit bulk --object Contact --operation insert --csv contacts.csv
  orbit bulk --object Account --operation upsert --external-id Ext_Id__c \
    --pg-dsn postgres://localhost/crm --pg-query "SELECT ext_id AS \"Ext_Id__c\", name AS \"Name\" FROM accounts"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd.OutOrStdout(), v, f)
		},
	}

	cmd.Flags().StringVarP(&f.object, "object", "o", "", "Object type to load (required)")
	cmd.Flags().StringVar(&f.operation, "operation", string(bulk.OperationInsert), "insert, update, upsert, delete or hardDelete")
	cmd.Flags().StringVar(&f.externalID, "external-id", "", "External id field for upsert")
	cmd.Flags().StringVar(&f.assignmentID, "assignment-rule", "", "Assignment rule id")
	cmd.Flags().StringVar(&f.csvFile, "csv", "", "CSV file with a header row")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", ",", "CSV field delimiter")
	cmd.Flags().BoolVar(&f.skipEmpty, "skip-empty", false, "Leave empty CSV cells out of records")
	cmd.Flags().StringVar(&f.pgDSN, "pg-dsn", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&f.pgQuery, "pg-query", "", "PostgreSQL query whose columns are field names")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Hour, "Overall timeout")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Exit non-zero when any batch fails")
	_ = cmd.MarkFlagRequired("object")
	cmd.MarkFlagsMutuallyExclusive("csv", "pg-query")
	return cmd
}

func runBulk(stdout io.Writer, v *viper.Viper, f bulkFlags) error {
	api, log, err := openClient(v, "orbit-bulk")
	if err != nil {
		return err
	}
	defer api.Close()

	ctx, cancel := signalContext(f.timeout)
	defer cancel()

	var records source.Seq
	switch {
	case f.csvFile != "":
		file, err := os.Open(f.csvFile)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.csvFile, err)
		}
		defer file.Close()

		opts := []source.CSVOption{source.WithCSVNullText(api.Config().Bulk.NullText)}
		if f.skipEmpty {
			opts = append(opts, source.WithSkipEmpty())
		}
		if runes := []rune(f.delimiter); len(runes) == 1 {
			opts = append(opts, source.WithDelimiter(runes[0]))
		} else {
			return fmt.Errorf("delimiter must be a single character, got %q", f.delimiter)
		}
		records = source.FromCSV(bufio.NewReader(file), f.object, opts...)
	case f.pgQuery != "":
		if f.pgDSN == "" {
			return fmt.Errorf("--pg-dsn is required with --pg-query")
		}
		pool, err := source.OpenPool(ctx, f.pgDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		records = source.FromQuery(ctx, pool, f.object, f.pgQuery)
	default:
		return fmt.Errorf("one of --csv or --pg-query is required")
	}

	job, err := api.NewBulkJob(f.object, bulk.Operation(f.operation)).
		ExternalIDField(f.externalID).
		AssignmentRuleID(f.assignmentID).
		Records(records).
		Build()
	if err != nil {
		return err
	}

	log.Info("starting bulk load",
		zap.String("object", f.object),
		zap.String("operation", f.operation))
	start := time.Now()

	results, err := api.Submit(ctx, job)

	failed := 0
	total := 0
	for _, res := range results {
		total += len(res.Records)
		status := "ok"
		if !res.OK() {
			failed++
			status = res.Err.Error()
		}
		line := fmt.Sprintf("batch %d\tjob=%s\trecords=%d\tbytes=%d\t%s", res.Index, res.JobID, len(res.Records), res.Size, status)
		if res.SpoolLocation != "" {
			line += "\tspooled=" + res.SpoolLocation
		}
		fmt.Fprintln(stdout, line)
	}

	log.Info("bulk load finished",
		zap.Int("batches", len(results)),
		zap.Int("failed_batches", failed),
		zap.Int("records", total),
		zap.Duration("duration", time.Since(start)))

	if err != nil {
		return fmt.Errorf("bulk load stopped: %w", err)
	}
	if f.strict && failed > 0 {
		return fmt.Errorf("%d of %d batches failed", failed, len(results))
	}
	return nil
}

// signalContext is cancelled on SIGINT/SIGTERM or after timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
