// Command tierqctl is a command line client for a tierq server.
//
// The server address and credentials come from flags or from the
// TIERQ_ADDR, TIERQ_USER, and TIERQ_OPERATOR_TOKEN environment
// variables. User commands (submit, status, cancel, position) need
// --user; operator commands (admit, stats, list) need --token.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scribely/tierq/client"
)

var (
	addr  string
	user  string
	token string
)

var rootCmd = &cobra.Command{
	Use:          "tierqctl",
	Short:        "Control a tierq transcription queue server",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr",
		envOr("TIERQ_ADDR", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&user, "user",
		envOr("TIERQ_USER", ""), "user subject sent with each request")
	rootCmd.PersistentFlags().StringVar(&token, "token",
		envOr("TIERQ_OPERATOR_TOKEN", ""), "operator secret for admin commands")

	rootCmd.AddCommand(SubmitCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(CancelCmd())
	rootCmd.AddCommand(PositionCmd())
	rootCmd.AddCommand(StatsCmd())
	rootCmd.AddCommand(AdmitCmd())
	rootCmd.AddCommand(ListCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	var opts []client.Option
	if user != "" {
		opts = append(opts, client.WithUser(user))
	}
	if token != "" {
		opts = append(opts, client.WithOperatorToken(token))
	}
	return client.New(addr, opts...)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
