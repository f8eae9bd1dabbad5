// Command inlineimages imports WordPress records into a local store, rewrites
// their inline images into responsive markup and serves a preview of the
// result.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   "inlineimages",
		Short: "Rewrite inline WordPress images into responsive markup",
		Long: `inlineimages post-processes the HTML of WordPress records.

Every <img> that points at a WordPress size variant is replaced with a
responsive block: the full-size asset is fetched, derivatives are generated
at several widths and the tag is rewritten with a srcset, a tiny placeholder
and the aspect ratio.

Records live in a local SQLite database. Use "import" to load them from a
JSON export, "process" to rewrite them and "serve" to preview the result.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "inlineimages.db", "SQLite database holding the records")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		importCmd(&g),
		processCmd(&g),
		serveCmd(&g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "inlineimages %s\n", version)
			},
		},
	)
	return cmd
}
