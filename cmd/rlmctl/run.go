package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/ertembiyik/rlm-go/internal/client"
	"github.com/ertembiyik/rlm-go/internal/driver"
	"github.com/ertembiyik/rlm-go/internal/observability"
	"github.com/ertembiyik/rlm-go/internal/sandbox"
	"github.com/ertembiyik/rlm-go/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run a single completion",
	Long: `Run drives one completion through the recursive language model engine.

The prompt is taken from the arguments, or from stdin if no arguments are
given. Context data, if any, comes from --context or --context-file.`,
	Example: `
# A trivial prompt with no context
rlmctl run "What is 2+2?"

# Analyze a document
rlmctl run --context-file report.json "Summarize the key findings"

# Pipe a prompt in
echo "Explain this error" | rlmctl run
`,
	RunE: runE,
}

func init() {
	runCmd.Flags().String("context", "", "inline JSON context data")
	runCmd.Flags().String("context-file", "", "path to a JSON file of context data")
}

func runE(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if prompt == "" {
		data, err := readAllStdin()
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		prompt = strings.TrimSpace(data)
	}
	if prompt == "" {
		return fmt.Errorf("no prompt provided")
	}

	payload, err := loadContext(cmd, prompt)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	eng, err := driver.New(cfg)
	if err != nil {
		return err
	}

	result, err := eng.Completion(context.Background(), payload, prompt)
	if err != nil {
		return err
	}

	fmt.Println(result.Response)
	for model, usage := range result.UsageSummary {
		fmt.Fprintf(os.Stderr, "%s: %d calls, %d in, %d out\n", model, usage.Calls, usage.InputTokens, usage.OutputTokens)
	}
	return nil
}

func buildConfig(cmd *cobra.Command) (driver.Config, error) {
	modelName, _ := cmd.Flags().GetString("model")
	subModelName, _ := cmd.Flags().GetString("sub-model")
	backend, _ := cmd.Flags().GetString("sandbox-backend")
	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	maxIterations, _ := cmd.Flags().GetInt("max-iterations")
	persistent, _ := cmd.Flags().GetBool("persistent")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if modelName == "" {
		modelName = os.Getenv("GEMINI_MODEL_NAME")
	}

	ctx := context.Background()
	root, err := client.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), modelName)
	if err != nil {
		return driver.Config{}, err
	}

	opts := []driver.Option{driver.WithSandboxBackend(sandbox.BackendName(backend), nil)}
	if subModelName != "" {
		sub, err := client.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), subModelName)
		if err != nil {
			return driver.Config{}, err
		}
		opts = append(opts, driver.WithSubAdapter(sub))
	}
	if maxDepth > 0 {
		opts = append(opts, driver.WithMaxDepth(maxDepth))
	}
	if maxIterations > 0 {
		opts = append(opts, driver.WithMaxIterations(maxIterations))
	}
	if persistent {
		opts = append(opts, driver.WithPersistent(true))
	}
	if verbose {
		opts = append(opts, driver.WithVerboseObserver(observability.NewVerboseObserver(os.Stderr)))
	}

	return driver.NewConfig(root, opts...), nil
}

// loadContext decodes --context/--context-file into the engine's payload
// shapes, peeking at the JSON kind with gjson before committing to a
// concrete Go type.
func loadContext(cmd *cobra.Command, fallbackPrompt string) (types.ContextPayload, error) {
	inline, _ := cmd.Flags().GetString("context")
	path, _ := cmd.Flags().GetString("context-file")

	var raw []byte
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading context file: %w", err)
		}
		raw = data
	case inline != "":
		raw = []byte(inline)
	default:
		return types.Text(fallbackPrompt), nil
	}

	parsed := gjson.ParseBytes(raw)
	switch {
	case parsed.IsArray():
		var seq types.Sequence
		if err := json.Unmarshal(raw, &seq); err != nil {
			return nil, fmt.Errorf("parsing context array: %w", err)
		}
		return seq, nil
	case parsed.IsObject():
		var keyed types.Keyed
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, fmt.Errorf("parsing context object: %w", err)
		}
		return keyed, nil
	case parsed.Type == gjson.String:
		return types.Text(parsed.String()), nil
	default:
		return types.Text(string(raw)), nil
	}
}

// readAllStdin returns "" without blocking when stdin is an interactive
// terminal rather than a pipe.
func readAllStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil || (info.Mode()&os.ModeCharDevice) != 0 {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
