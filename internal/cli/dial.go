package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Dial a browser and print its version",
	Long:  "Dials (or, with --launch, starts) a Chromium instance and reports its CDP version string, then exits.",
	RunE:  runDial,
}

func init() {
	rootCmd.AddCommand(dialCmd)
}

func runDial(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return outputError(err)
	}
	defer s.Close()

	h, err := s.newTab(s.tabOptions())
	if err != nil {
		return outputError(err)
	}
	defer h.Close()

	result, err := h.Command("Browser.getVersion", nil, s.cfg.DefaultTimeout)
	if err != nil {
		return outputError(err)
	}

	return outputSuccess(map[string]any{"version": string(result)})
}
