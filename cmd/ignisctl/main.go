package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ivan-cavero/Ignis/pkg/config"
)

var buildVersion = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globals struct {
	url string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "ignisctl",
		Short:         "Operate an Ignis deployment dispatcher",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.url, "url", config.GetString("IGNIS_URL", "http://localhost:3333"), "Dispatcher base URL")

	root.AddCommand(
		newHealthCmd(g),
		newTriggerCmd(g),
		newPlanCmd(),
		newSignCmd(),
		newTokenCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readSecret returns value unchanged, or prompts for it when value is blank
// and stdin is a terminal. Secrets are never trimmed.
func readSecret(value, label string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s is required", label)
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	return string(raw), nil
}
