package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"am-go/internal/am"
	"am-go/internal/app"
	"am-go/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts.Verbose = verbose
	a, err := app.NewApp(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("a passphrase is required but stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "am",
	Short:        "Addon manager: catalogs game addon packages",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		addonsDir, _ := cmd.Flags().GetString("addons-dir")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir, addonsDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", defaults.BaseDir)
		if addonsDir == "" {
			fmt.Println("Set [scan] addons_dir before running a scan.")
		} else {
			fmt.Printf("Addons Dir: %s\n", addonsDir)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Addons Dir: %s\n", cfg.Scan.AddonsDir)
		fmt.Printf("Speed:      %s\n", cfg.Scan.Speed)
		if len(cfg.Scan.Ignore) > 0 {
			fmt.Printf("Ignore:     %s\n", strings.Join(cfg.Scan.Ignore, ", "))
		}
		fmt.Printf("Workshop:   %s\n", cfg.Workshop.Type)
		fmt.Printf("Vault:      %s\n", cfg.Vault.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the addons folder into the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, _ := cmd.Flags().GetString("speed")
		ctx := cmd.Context()

		progress := newProgressPrinter(term.IsTerminal(int(os.Stderr.Fd())))
		a, err := newApp(ctx, app.Options{Sink: progress})
		if err != nil {
			return err
		}
		defer a.Close()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			if sig, ok := <-sigs; ok {
				a.AbortScan("received " + sig.String())
			}
		}()

		summary, err := a.Scan(ctx, speed)
		progress.finish()
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		return nil
	},
}

func printSummary(s *am.Summary) {
	switch s.Status {
	case am.RunStatusCompleted:
		fmt.Printf("Scanned %d file(s) in %s: %d added, %d updated, %d failed, %d missing\n",
			s.Total, s.Elapsed.Truncate(time.Millisecond), s.Added, s.Updated, s.Failed, s.Missing)
	default:
		reason := "aborted"
		if s.Reason != nil {
			reason = *s.Reason
		}
		fmt.Printf("Scan aborted after %d file(s): %s\n", s.Total, reason)
	}
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued addons",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		addons, err := a.ListAddons(cmd.Context())
		if err != nil {
			return err
		}
		if len(addons) == 0 {
			fmt.Println("No addons catalogued.")
			return nil
		}

		for _, ad := range addons {
			filename := "(missing)"
			if ad.Filename != nil {
				filename = *ad.Filename
			}
			tags := ""
			if len(ad.Tags) > 0 {
				tags = "  [" + strings.Join(ad.Tags, ",") + "]"
			}
			fmt.Printf("%s  %-40s  %-10s  %s%s\n",
				ad.ContentHash.String()[:12], ad.Title, ad.Version, filename, tags)
		}
		return nil
	},
}

// workshop command
var workshopCmd = &cobra.Command{
	Use:   "workshop",
	Short: "Workshop items",
}

var workshopListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workshop items in the mirror folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.ListWorkshop(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No workshop items.")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%-12d  %s  %s\n", it.PublishedFileID, it.TimeUpdated.Format("2006-01-02"), it.Title)
		}
		return nil
	},
}

// tag command
var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Label addons",
}

var tagAddCmd = &cobra.Command{
	Use:   "add HASH TAG",
	Short: "Add a tag to an addon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		return a.AddTag(cmd.Context(), args[0], args[1])
	},
}

var tagRmCmd = &cobra.Command{
	Use:   "rm HASH TAG",
	Short: "Remove a tag from an addon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RemoveTag(cmd.Context(), args[0], args[1])
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View scan history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %s  %-10s  %-10s  total=%d added=%d updated=%d failed=%d  %s  %s\n",
				r.ID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Speed,
				r.Status,
				r.Total, r.Added, r.Updated, r.Failed,
				duration,
				r.Reason,
			)
		}
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Addons:   %d\n", stats.Addons)
		fmt.Printf("Workshop: %d\n", stats.Workshop)
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog snapshots",
}

var catalogBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a catalog snapshot to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		version, err := a.BackupCatalog(cmd.Context(), force)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		if version == 0 {
			fmt.Println("Vault is already up to date.")
			return nil
		}
		fmt.Printf("Uploaded catalog version %d\n", version)
		return nil
	},
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local catalog with the vault snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{SkipVersionCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.NeedsPassphrase() {
			passphrase, err = readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		version, err := a.RestoreCatalog(cmd.Context(), passphrase)
		if errors.Is(err, am.ErrSnapshotNotFound) {
			return fmt.Errorf("the vault holds no catalog snapshot")
		}
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored catalog version %d\n", version)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.InitKeys(cmd.Context(), passphrase); err != nil {
			return err
		}
		fmt.Println("Snapshot keys created.")
		return nil
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the snapshot vault",
}

var vaultCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the vault is reachable and writable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{ReadOnly: true, SkipVersionCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CheckVault(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Vault OK.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("addons-dir", "", "Folder holding the addon packages")
	configCmd.AddCommand(configListCmd)

	workshopCmd.AddCommand(workshopListCmd)

	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagRmCmd)

	catalogCmd.AddCommand(catalogBackupCmd)
	catalogBackupCmd.Flags().Bool("force", false, "Upload even if the vault is up to date")
	catalogCmd.AddCommand(catalogRestoreCmd)

	keysCmd.AddCommand(keysInitCmd)
	vaultCmd.AddCommand(vaultCheckCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringP("speed", "s", "", "maximum, normal or background (default from config)")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(workshopCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of scans to show")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(vaultCmd)
}
