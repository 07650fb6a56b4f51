package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/practice/internal/domain/customfield"
	"github.com/ehr/practice/internal/formula"
)

// parseAssignments turns name=value pairs into formula inputs. Values that
// parse as numbers become numbers; anything else is passed as text so dates
// work.
func parseAssignments(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected name=value", pair)
		}
		raw = strings.TrimSpace(raw)
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			values[name] = n
		} else {
			values[name] = raw
		}
	}
	return values, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formulaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formula",
		Short: "Evaluate and check formulas offline",
	}

	evalCmd := &cobra.Command{
		Use:   "eval <formula>",
		Short: "Evaluate a formula",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, _ := cmd.Flags().GetStringArray("set")
			decimals, _ := cmd.Flags().GetInt("decimals")
			values, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			res := formula.EvaluateFormula(args[0], values, decimals)
			if !res.Success {
				return fmt.Errorf("%s", *res.Error)
			}
			fmt.Println(strconv.FormatFloat(*res.Result, 'f', -1, 64))
			return nil
		},
	}
	evalCmd.Flags().StringArray("set", nil, "Input value as name=value (repeatable)")
	evalCmd.Flags().Int("decimals", formula.DefaultDecimalPlaces, "Decimal places to round to")
	cmd.AddCommand(evalCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <formula>",
		Short: "Validate a formula and list its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := formula.ValidateFormula(args[0])
			if !v.Valid {
				return fmt.Errorf("%s", *v.Error)
			}
			fmt.Printf("valid, dependencies: %s\n", strings.Join(v.Dependencies, ", "))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deps <formula>",
		Short: "List the references in a formula",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := formula.ExtractDependencies(args[0])
			deps := make([]formula.Dependency, 0, len(names))
			for _, name := range names {
				deps = append(deps, formula.ClassifyDependency(name))
			}
			return printJSON(deps)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "operators",
		Short: "List supported operators and functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := formula.AvailableOperators()
			fmt.Printf("Operators: %s\n\n", strings.Join(cat.Operators, " "))
			fmt.Printf("%-12s %-14s %s\n", "CATEGORY", "FUNCTION", "EXAMPLE")
			for _, fn := range cat.Functions {
				fmt.Printf("%-12s %-14s %s\n", fn.Category, fn.Name, fn.Example)
			}
			return nil
		},
	})

	checkCmd := &cobra.Command{
		Use:   "check <catalog.toml>",
		Short: "Check a field catalog and optionally evaluate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, _ := cmd.Flags().GetStringArray("set")
			decimals, _ := cmd.Flags().GetInt("decimals")
			return runCheck(args[0], sets, decimals)
		},
	}
	checkCmd.Flags().StringArray("set", nil, "Input value as name=value (repeatable)")
	checkCmd.Flags().Int("decimals", formula.DefaultDecimalPlaces, "Default decimal places")
	cmd.AddCommand(checkCmd)

	return cmd
}

func runCheck(path string, sets []string, decimals int) error {
	catalog, err := customfield.LoadCatalog(path)
	if err != nil {
		return err
	}
	engine := formula.NewEngine()
	if issues := catalog.Check(engine); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Println(issue.String())
		}
		return fmt.Errorf("%d issue(s) in %s", len(issues), path)
	}
	fmt.Printf("%s: %d field(s) ok\n", path, len(catalog.Fields))
	if len(sets) == 0 {
		return nil
	}

	values, err := parseAssignments(sets)
	if err != nil {
		return err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	report, _ := catalog.Evaluate(engine, values, decimals, logger)

	for _, r := range report.Updated {
		fmt.Printf("  %s = %s\n", r.Field, strconv.FormatFloat(r.Value, 'f', -1, 64))
	}
	skipped := append([]string(nil), report.Skipped...)
	sort.Strings(skipped)
	for _, name := range skipped {
		fmt.Printf("  %s skipped (missing input)\n", name)
	}
	for _, f := range report.Failed {
		fmt.Printf("  %s failed: %s\n", f.Field, f.Error)
	}
	return nil
}
