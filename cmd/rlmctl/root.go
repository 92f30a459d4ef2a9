package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rlmctl",
	Short: "Run and inspect recursive language model completions",
	Long: `rlmctl drives the recursive language model engine from the command
line: a single prompt, optional context data, and the same sandbox and
routing machinery the server uses for HTTP requests.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("model", "", "root model name (defaults to GEMINI_MODEL_NAME or gemini-2.5-flash)")
	rootCmd.PersistentFlags().String("sub-model", "", "sub-model name for depth-1 recursive calls")
	rootCmd.PersistentFlags().String("sandbox-backend", "local", "sandbox backend: local or container")
	rootCmd.PersistentFlags().Int("max-depth", 0, "recursion depth budget (0 uses the driver default)")
	rootCmd.PersistentFlags().Int("max-iterations", 0, "iteration budget per completion (0 uses the driver default)")
	rootCmd.PersistentFlags().Bool("persistent", false, "keep the sandbox alive across completions in this process")
	rootCmd.PersistentFlags().Bool("verbose", false, "print each iteration's response and code blocks to stderr")

	rootCmd.AddCommand(runCmd)
}
