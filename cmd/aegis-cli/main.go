package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/samijaber1/aegis-perf/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-perf/internal/dashboard"
	"github.com/samijaber1/aegis-perf/internal/policy"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Exit codes
const (
	exitOK      = 0
	exitError   = 1
	exitBlocked = 2
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateDir := validateCmd.String("dir", "", "directory containing SLO YAML files")

	evaluateCmd := flag.NewFlagSet("evaluate", flag.ExitOnError)
	evaluateDir := evaluateCmd.String("slo-dir", "slos", "directory containing SLO YAML files")
	evaluateInput := evaluateCmd.String("input", "", "JSON file of raw metric records")
	evaluateJSON := evaluateCmd.Bool("json", false, "print the full snapshot as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if *validateDir == "" {
			fmt.Fprintln(os.Stderr, "Error: --dir flag is required")
			validateCmd.Usage()
			os.Exit(exitError)
		}
		os.Exit(runValidate(*validateDir))
	case "evaluate":
		evaluateCmd.Parse(os.Args[2:])
		if *evaluateInput == "" {
			fmt.Fprintln(os.Stderr, "Error: --input flag is required")
			evaluateCmd.Usage()
			os.Exit(exitError)
		}
		os.Exit(runEvaluate(*evaluateDir, *evaluateInput, *evaluateJSON, time.Now(), os.Stdout, os.Stderr))
	default:
		printUsage()
		os.Exit(exitError)
	}
}

func printUsage() {
	fmt.Println("Usage: aegis <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  validate --dir <path>                       Validate SLO YAML files in a directory")
	fmt.Println("  evaluate --slo-dir <path> --input <file>    Evaluate raw metric records against SLOs")
	fmt.Println()
}

func runValidate(dirPath string) int {
	schemaPath := findSchemaFile()
	if schemaPath == "" {
		fmt.Fprintln(os.Stderr, "Error: could not find schemas/slo_v1.json")
		return exitError
	}

	validator, err := slo.NewValidator(schemaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize validator: %v\n", err)
		return exitError
	}

	errors := validator.ValidateDirectory(dirPath)

	if len(errors) == 0 {
		fmt.Println("✓ All SLO files are valid")
		return exitOK
	}

	// Group errors by file
	errorsByFile := make(map[string][]slo.ValidationError)
	for _, err := range errors {
		errorsByFile[err.File] = append(errorsByFile[err.File], err)
	}

	var files []string
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	fmt.Fprintf(os.Stderr, "✗ Validation failed with %d error(s):\n\n", len(errors))
	for _, file := range files {
		for _, err := range errorsByFile[file] {
			if err.Path != "" {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", filepath.Base(err.File), err.Path, err.Message)
			} else {
				fmt.Fprintf(os.Stderr, "%s: %s\n", filepath.Base(err.File), err.Message)
			}
		}
	}

	return exitError
}

// runEvaluate evaluates the records in input as one local snapshot. It
// returns exitBlocked when any operation is red.
func runEvaluate(sloDir, input string, asJSON bool, now time.Time, stdout, stderr io.Writer) int {
	schemaPath := findSchemaFile()
	if schemaPath == "" {
		fmt.Fprintln(stderr, "Error: could not find schemas/slo_v1.json")
		return exitError
	}

	validator, err := slo.NewValidator(schemaPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize validator: %v\n", err)
		return exitError
	}

	table, err := slo.LoadTable(sloDir, validator)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	adapter := synthetic.NewAdapter().WithClock(func() time.Time { return now })
	if err := loadInput(adapter, input); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	ctx := context.Background()
	recs, err := adapter.Snapshot(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	stats, _ := adapter.Stats(ctx)

	snap := dashboard.Build(dashboard.Inputs{
		Local:      telemetry.NormalizeAll(recs, telemetry.SourceLocal, now),
		CacheStats: stats,
	}, table, now)
	verdict := policy.NewEngine().EvaluateAll(snap, false)

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Snapshot *dashboard.Snapshot `json:"snapshot"`
			Verdict  *policy.Verdict     `json:"verdict"`
		}{snap, verdict}); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	} else {
		printReport(stdout, snap, verdict)
	}

	if verdict.Decision == policy.DecisionBLOCK {
		return exitBlocked
	}
	return exitOK
}

// loadInput accepts either a bare array of records or a fixture object
func loadInput(adapter *synthetic.Adapter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []telemetry.RawRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return fmt.Errorf("failed to parse input: %w", err)
		}
		adapter.SetFixture(&synthetic.Fixture{Records: recs})
		return nil
	}
	return adapter.LoadFixture(path)
}

func printReport(w io.Writer, snap *dashboard.Snapshot, verdict *policy.Verdict) {
	decisions := make(map[string]policy.Decision, len(verdict.Results))
	for _, r := range verdict.Results {
		decisions[r.Operation] = r.Decision
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tHEALTH\tCOMPLIANCE\tP50\tP95\tP99\tERRORS\tDECISION")
	for _, st := range snap.Operations {
		if st.Metric == nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t-\t%s\n", st.Operation, st.Evaluation.Health, decisions[st.Operation])
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%.0f\t%.0f\t%.0f\t%.2f%%\t%s\n",
			st.Operation, st.Evaluation.Health, st.CompliancePercent,
			st.Metric.P50, st.Metric.P95, st.Metric.P99, st.Metric.ErrorRate*100,
			decisions[st.Operation])
	}
	tw.Flush()

	fmt.Fprintf(w, "\nCompliant: %d/%d (%.1f%%)\n", snap.Summary.Compliant, snap.Summary.Total, snap.Summary.Percent)

	if len(snap.Violations) > 0 {
		fmt.Fprintln(w, "\nViolations:")
		for _, v := range snap.Violations {
			fmt.Fprintf(w, "  [%s] %s %s\n", v.Severity, v.DisplayName, v.Type)
		}
	}

	fmt.Fprintf(w, "\nDecision: %s\n", verdict.Decision)
}

// findSchemaFile looks for the schema file in common locations
func findSchemaFile() string {
	candidates := []string{
		"schemas/slo_v1.json",
		"../schemas/slo_v1.json",
		"../../schemas/slo_v1.json",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
