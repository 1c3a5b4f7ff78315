package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/reportql/internal/config"
	"github.com/rpattn/reportql/internal/domain"
	"github.com/rpattn/reportql/internal/export"
	"github.com/rpattn/reportql/internal/formula"
	"github.com/rpattn/reportql/internal/ingestion"
	"github.com/rpattn/reportql/internal/report"
	"github.com/rpattn/reportql/pkg/validator"
)

type buildOptions struct {
	definition string
	data       string
	sheet      string
	headerRow  int
	format     string
	output     string
	tree       bool
	omitTotals bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Build pivot reports from local files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd(), newValidateCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a view from a report definition and a CSV, XLSX or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.definition, "definition", "d", "", "report definition YAML file")
	flags.StringVar(&opts.data, "data", "", "record source (.csv, .xlsx or .json array of objects)")
	flags.StringVar(&opts.sheet, "sheet", "", "XLSX sheet to read")
	flags.IntVar(&opts.headerRow, "header-row", -1, "zero-based header row, detected when negative")
	flags.StringVarP(&opts.format, "format", "f", "json", "output format: json, csv or xlsx")
	flags.StringVarP(&opts.output, "output", "o", "", "output file, stdout when empty")
	flags.BoolVar(&opts.tree, "tree", false, "render the row hierarchy in csv/xlsx output")
	flags.BoolVar(&opts.omitTotals, "omit-totals", false, "drop totals from csv/xlsx output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	_ = cmd.MarkFlagRequired("definition")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var definition string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a report definition and compile its formulas",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(definition)
			if err != nil {
				return err
			}
			problems := checkDefinition(def)
			out := cmd.OutOrStdout()
			if len(problems) == 0 {
				fmt.Fprintf(out, "%s: ok (%d metrics)\n", definition, len(def.Metrics))
				return nil
			}
			for _, problem := range problems {
				fmt.Fprintln(out, problem)
			}
			return fmt.Errorf("%s: %d problem(s)", definition, len(problems))
		},
	}
	cmd.Flags().StringVarP(&definition, "definition", "d", "", "report definition YAML file")
	_ = cmd.MarkFlagRequired("definition")
	return cmd
}

func runBuild(cmd *cobra.Command, opts *buildOptions) error {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := config.NewLogger(config.LogConfig{Development: true, Level: level})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	def, err := loadDefinition(opts.definition)
	if err != nil {
		return err
	}
	if problems := checkDefinition(def); len(problems) > 0 {
		return fmt.Errorf("invalid definition: %s", strings.Join(problems, "; "))
	}

	records, fields, err := loadRecords(opts, logger)
	if err != nil {
		return err
	}
	logger.Debug("records loaded", zap.Int("records", len(records)), zap.Int("fields", len(fields)))

	result, err := report.Build(records, fields, def)
	if err != nil {
		return err
	}
	for _, warning := range result.Warnings {
		logger.Warn("formula warning", zap.String("detail", warning))
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		out = file
	}

	if strings.EqualFold(opts.format, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	rows, err := export.NewService(export.WithLogger(logger)).Render(out, result.View, format, export.RenderOptions{
		Title:      def.Title,
		Tree:       opts.tree,
		OmitTotals: opts.omitTotals,
	})
	if err != nil {
		return err
	}
	logger.Debug("view rendered", zap.String("format", string(format)), zap.Int("rows", rows))
	return nil
}

func loadDefinition(path string) (domain.ReportDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.ReportDefinition{}, fmt.Errorf("read definition: %w", err)
	}
	var def domain.ReportDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return domain.ReportDefinition{}, fmt.Errorf("parse definition %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

// checkDefinition collects struct validation failures and formula compile
// errors so they can be reported together.
func checkDefinition(def domain.ReportDefinition) []string {
	var problems []string
	if result := validator.NewStructValidator().Struct(def); !result.IsValid {
		problems = append(problems, result.Messages()...)
	}
	for _, metric := range domain.EnabledMetrics(def.Metrics) {
		if !metric.IsFormula() {
			continue
		}
		if _, err := formula.Compile(metric.Expression); err != nil {
			problems = append(problems, fmt.Sprintf("metric %s: %v", metric.ID, err))
		}
	}
	return problems
}

func loadRecords(opts *buildOptions, logger *zap.Logger) ([]domain.Record, []domain.FieldMeta, error) {
	payload, err := os.ReadFile(opts.data)
	if err != nil {
		return nil, nil, fmt.Errorf("read data: %w", err)
	}

	if strings.EqualFold(filepath.Ext(opts.data), ".json") {
		var records []domain.Record
		decoder := json.NewDecoder(bytes.NewReader(payload))
		decoder.UseNumber()
		if err := decoder.Decode(&records); err != nil {
			return nil, nil, fmt.Errorf("parse records: %w", err)
		}
		return records, nil, nil
	}

	table := ingestion.TableOptions{Sheet: opts.sheet}
	if opts.headerRow >= 0 {
		table.HeaderRowIndex = &opts.headerRow
	}
	parsed, err := ingestion.ParseFile(filepath.Base(opts.data), payload, table, nil)
	if err != nil {
		if errors.Is(err, ingestion.ErrUnsupportedFormat) {
			return nil, nil, fmt.Errorf("%s: expected .csv, .xlsx or .json", opts.data)
		}
		return nil, nil, err
	}
	for _, rowErr := range parsed.RowErrors {
		logger.Warn("row skipped", zap.Int("row", rowErr.RowNumber), zap.Error(rowErr.Err))
	}
	return parsed.Records, parsed.Fields, nil
}
