package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eringen/inlineimages"
	"github.com/eringen/inlineimages/server"
)

func importCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <records.json>",
		Short: "Load records from a JSON array into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := readRecords(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Import(cmd.Context(), recs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", len(recs))
			return nil
		},
	}
}

func readRecords(path string) ([]*inlineimages.ContentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()

	var recs []*inlineimages.ContentRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	for i, r := range recs {
		if r == nil || r.ID == "" {
			return nil, fmt.Errorf("record %d: missing id", i)
		}
	}
	return recs, nil
}

func processCmd(g *globalFlags) *cobra.Command {
	var p pipelineFlags
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Rewrite inline images of every matching record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			plugin, release, err := a.plugin(p)
			if err != nil {
				return err
			}
			defer release()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := plugin.Run(ctx)
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
	p.register(cmd)
	return cmd
}

func printReport(w io.Writer, r inlineimages.Report) {
	for _, rec := range r.Records {
		status := "unchanged"
		switch {
		case rec.Err != nil:
			status = "save failed: " + rec.Err.Error()
		case rec.Saved:
			status = "saved"
		}
		fmt.Fprintf(w, "%s: %s\n", rec.ID, status)
		for _, f := range rec.Fields {
			if f.Err != nil {
				fmt.Fprintf(w, "  %s: %v\n", f.Path, f.Err)
			}
			for _, o := range f.Outcomes {
				if o.Status == inlineimages.Replaced {
					continue
				}
				fmt.Fprintf(w, "  %s %s %s: %s\n", f.Path, o.Status, o.Src, o.Reason)
			}
		}
		for _, is := range rec.Issues {
			fmt.Fprintf(w, "  %s: %v\n", is.Path, is.Err)
		}
	}
	fmt.Fprintf(w, "run %s: %d records, %d replaced, %d skipped, %d failed, %d saved in %s\n",
		r.RunID, len(r.Records), r.Replaced, r.Skipped, r.Failed, r.Saved,
		r.Finished.Sub(r.Started).Round(time.Millisecond))
}

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		p       pipelineFlags
		addr    string
		process bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a preview of the rewritten records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithGatherer(a.registry),
			}
			if process {
				plugin, release, err := a.plugin(p)
				if err != nil {
					return err
				}
				defer release()
				opts = append(opts, server.WithRunner(plugin))
			}

			srv := server.New(server.Config{
				Addr:       addr,
				StaticDir:  p.publicDir,
				StaticPath: p.publicPath,
			}, a.store, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
	p.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "localhost:3000", "Listen address")
	cmd.Flags().BoolVar(&process, "process", false, "Enable POST /api/process")
	return cmd
}
