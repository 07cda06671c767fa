package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gatelet/gatelet/pkgs/policy/api"
)

var fCheck = pflag.NewFlagSet("check", pflag.ExitOnError)

func init() {

	initSharedFlagSet()

	fCheck.String("tool", "", "namespaced tool name to evaluate.")
	fCheck.String("arguments", "{}", "tool arguments as a JSON object.")

	Check.Flags().AddFlagSet(fCheck)
	Check.Flags().AddFlagSet(fPolicy)
	Check.Flags().AddFlagSet(fTLSClient)
}

// Check is the cobra command to run a one-shot policy evaluation.
var Check = &cobra.Command{
	Use:              "check",
	Short:            "Evaluate the configured policy against a sample tool call",
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,

	RunE: func(cmd *cobra.Command, args []string) error {

		tool, _ := fCheck.GetString("tool")
		if tool == "" {
			return fmt.Errorf("--tool must be set")
		}

		rawArgs, _ := fCheck.GetString("arguments")
		toolArgs := map[string]any{}
		if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
			return fmt.Errorf("unable to decode --arguments: %w", err)
		}

		evaluator, err := makeEvaluator(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to make evaluator: %w", err)
		}

		resp, err := evaluator.Evaluate(cmd.Context(), api.Request{Tool: tool, Arguments: toolArgs})
		if err != nil {
			return fmt.Errorf("unable to evaluate: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(resp)
	},
}
