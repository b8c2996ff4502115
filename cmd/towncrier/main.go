// Command towncrier syndicates developer-tool announcements to the
// configured platforms.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"towncrier/internal/app"
	"towncrier/internal/engine"
	"towncrier/internal/platform"
	"towncrier/internal/publication"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "towncrier",
		Short:         "Announce developer tools across platforms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "towncrier.yaml", "path to config file")

	root.AddCommand(
		syndicateCmd(),
		retryCmd(),
		unpublishCmd(),
		validateCmd(),
		platformsCmd(),
		statusCmd(),
		daemonCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syndicateCmd() *cobra.Command {
	var (
		platforms  []string
		dryRun     bool
		concurrent bool
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "syndicate <tool-id>",
		Short: "Publish a tool announcement to the enabled platforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Source == nil {
				return fmt.Errorf("tools_dir is not configured")
			}
			t, err := a.Source.Lookup(args[0])
			if err != nil {
				return err
			}

			res, err := a.Engine.Syndicate(ctx, t, engine.Options{
				Platforms:          platforms,
				DryRun:             dryRun,
				Concurrent:         concurrent,
				SkipPublishedCheck: force,
			})
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("syndication finished with %d failure(s)", res.Summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&platforms, "platforms", "p", nil, "restrict to these platforms")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "format content without publishing")
	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "dispatch platforms concurrently")
	cmd.Flags().BoolVar(&force, "force", false, "publish even if already published")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <tool-id>",
		Short: "Retry failed publications for a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.RetryFailed(ctx, args[0], engine.Options{})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func unpublishCmd() *cobra.Command {
	var platforms []string
	cmd := &cobra.Command{
		Use:   "unpublish <tool-id>",
		Short: "Delete a tool's posts on platforms that support deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Archive == nil {
				return fmt.Errorf("archive is not configured; post ids are unknown")
			}
			recs, err := a.Archive.ByTool(ctx, args[0])
			if err != nil {
				return err
			}

			restrict := map[string]bool{}
			for _, p := range platforms {
				restrict[p] = true
			}

			// latest successful real post per platform
			latest := map[string]string{}
			for _, r := range recs {
				if r.Status != publication.StatusSuccess || r.DryRun || r.PlatformPostID == "" {
					continue
				}
				if len(restrict) > 0 && !restrict[r.Platform] {
					continue
				}
				latest[r.Platform] = r.PlatformPostID
			}
			if len(latest) == 0 {
				return fmt.Errorf("no published posts found for %s", args[0])
			}

			var failed int
			for name, postID := range latest {
				ad, ok := a.Registry.Get(name)
				if !ok {
					fmt.Printf("%-12s skipped: platform not configured\n", name)
					continue
				}
				if !ad.HasCapability(platform.CapDelete) {
					fmt.Printf("%-12s skipped: deletion not supported\n", name)
					continue
				}
				if !ad.IsAuthenticated(ctx) && !ad.Authenticate(ctx) {
					fmt.Printf("%-12s failed: authentication failed\n", name)
					failed++
					continue
				}
				if err := ad.(platform.Deleter).DeletePost(ctx, postID); err != nil {
					fmt.Printf("%-12s failed: %v\n", name, err)
					failed++
					continue
				}
				fmt.Printf("%-12s deleted %s\n", name, postID)
			}
			if failed > 0 {
				return fmt.Errorf("%d deletion(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&platforms, "platforms", "p", nil, "restrict to these platforms")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration of every configured platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			problems := a.ValidateConfigs()
			if len(problems) == 0 {
				fmt.Println("configuration ok")
				return nil
			}
			for name, errs := range problems {
				for _, e := range errs {
					fmt.Printf("%s: %s\n", name, e)
				}
			}
			return fmt.Errorf("%d platform(s) misconfigured", len(problems))
		},
	}
}

func platformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List known platforms and their enabled state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range app.KnownPlatforms() {
				state := "not configured"
				if ad, ok := a.Registry.Get(name); ok {
					if ad.Enabled() {
						state = "enabled"
					} else {
						state = "disabled"
					}
				}
				fmt.Printf("%-12s %s\n", name, state)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent publication history from the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Archive == nil {
				return fmt.Errorf("archive is not configured")
			}
			recent, err := a.Archive.Recent(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(recent)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run with config hot reload and a periodic retry sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.RunDaemon(ctx)
		},
	}
}
