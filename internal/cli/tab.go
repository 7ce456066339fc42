package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cdpfleet/cdpfleet/internal/tab"
)

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Open, navigate, and close a single tab",
}

var tabCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tab and print its session, target, and browser context ids",
	RunE:  runTabCreate,
}

var tabGotoCmd = &cobra.Command{
	Use:   "goto <url>",
	Short: "Create a tab, navigate it, wait for load, and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTabGoto,
}

var tabCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Create and immediately close a tab, verifying the teardown sequence",
	RunE:  runTabClose,
}

var tabBlockedResources []string

func init() {
	tabGotoCmd.Flags().StringSliceVar(&tabBlockedResources, "block", nil, "resource categories to block (e.g. image,stylesheet)")
	tabCmd.AddCommand(tabCreateCmd, tabGotoCmd, tabCloseCmd)
	rootCmd.AddCommand(tabCmd)
}

func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "localhost") || strings.HasPrefix(lower, "127.0.0.1") {
		return "http://" + raw
	}
	return "https://" + raw
}

func runTabCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return outputError(err)
	}
	defer s.Close()

	h, err := s.newTab(s.tabOptions())
	if err != nil {
		return outputError(err)
	}
	defer h.Close()

	return outputSuccess(map[string]string{
		"session": h.Session(),
		"target":  h.Target(),
		"context": h.Context(),
	})
}

func runTabGoto(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return outputError(err)
	}
	defer s.Close()

	h, err := s.newTab(tab.Options{Timeout: s.cfg.OperationTimeout, BlockedResources: tabBlockedResources})
	if err != nil {
		return outputError(err)
	}
	defer h.Close()

	url := normalizeURL(args[0])
	if _, err := h.Command("Page.navigate", map[string]string{"url": url}, s.cfg.NavigationTimeout); err != nil {
		return outputError(err)
	}
	if _, err := h.WaitEvent(context.Background(), "Page.loadEventFired", nil, s.cfg.NavigationTimeout); err != nil {
		return outputError(err)
	}

	return outputSuccess(map[string]any{
		"url":          url,
		"interception": string(h.InterceptionState()),
	})
}

func runTabClose(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return outputError(err)
	}
	defer s.Close()

	h, err := s.newTab(s.tabOptions())
	if err != nil {
		return outputError(err)
	}
	session := h.Session()
	h.Close()

	return outputSuccess(map[string]string{"closed": session})
}
