// The weave binary runs and validates workflow files from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"weave/internal/config"
	"weave/internal/llm"
	"weave/internal/logging"
	"weave/internal/workflow/runtime"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "weave",
		Short:         "Run declarative LLM workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newValidateCommand(), newListCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var (
		configPath string
		inputPairs []string
		inputsJSON string
		dryRun     bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputPairs, inputsJSON)
			if err != nil {
				return err
			}

			client, err := buildClient(configPath, dryRun)
			if err != nil {
				return err
			}
			runner, err := runtime.NewRunner(client,
				runtime.WithLogger(logging.NewComponentLogger("Runner")),
			)
			if err != nil {
				return err
			}

			fmt.Printf("%s %s\n", cyan("Running"), bold(args[0]))
			result, err := runner.RunFile(cmd.Context(), args[0], inputs)
			if err != nil {
				if result != nil {
					printResult(result, asJSON)
				}
				return err
			}
			printResult(result, asJSON)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to weave.yaml")
	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "workflow input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputsJSON, "inputs-json", "", "workflow inputs as a JSON object")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "echo prompts instead of calling the model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>...",
		Short: "Parse and validate workflow files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				wf, err := config.LoadWorkflow(path)
				if err != nil {
					failed++
					fmt.Printf("%s %s\n  %s\n", red("✗"), path, gray(err.Error()))
					continue
				}
				fmt.Printf("%s %s %s\n", green("✓"), path,
					gray(fmt.Sprintf("(%s, %d nodes)", wf.Flow.Name, len(wf.Nodes))))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <dir>",
		Short: "List the workflows in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := config.NewCatalog(args[0])
			if err != nil {
				return err
			}
			for _, name := range catalog.Names() {
				wf, _ := catalog.Get(name)
				fmt.Printf("%s %s\n", bold(name), gray(fmt.Sprintf("%d nodes", len(wf.Nodes))))
			}
			return nil
		},
	}
}

func buildClient(configPath string, dryRun bool) (llm.Client, error) {
	if dryRun {
		return &llm.StubClient{Name: "dry-run"}, nil
	}
	cfg, err := config.LoadService(configPath)
	if err != nil {
		return nil, err
	}
	baseURL := cfg.LLM.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.LLM.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: baseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   model,
	})
}

// parseInputs merges --inputs-json with --input pairs, pairs winning. Pair
// values parse as JSON when possible and fall back to plain strings.
func parseInputs(pairs []string, inputsJSON string) (map[string]any, error) {
	inputs := make(map[string]any)
	if inputsJSON != "" {
		if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
			return nil, fmt.Errorf("parse --inputs-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("input %q must be key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		inputs[key] = parsed
	}
	return inputs, nil
}

func printResult(result *runtime.Result, asJSON bool) {
	if asJSON {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Println(string(encoded))
		}
		return
	}

	status := green(result.Status)
	if result.Status != "completed" {
		status = yellow(result.Status)
	}
	fmt.Printf("%s %s %s\n", status, gray("execution"), result.ExecutionID)
	fmt.Printf("%s %.2fs, %d tokens\n", gray("took"), result.DurationSeconds, result.TotalTokens)
	for key, value := range result.Outputs {
		rendered, ok := value.(string)
		if !ok {
			encoded, err := json.Marshal(value)
			if err != nil {
				continue
			}
			rendered = string(encoded)
		}
		fmt.Printf("  %s %s\n", bold(key+":"), rendered)
	}
}
