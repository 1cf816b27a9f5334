package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otaresolve/resolver/pkg/download"
	"github.com/otaresolve/resolver/pkg/installer"
	"github.com/otaresolve/resolver/pkg/keyring"
	"github.com/otaresolve/resolver/pkg/observability"
	"github.com/otaresolve/resolver/pkg/resolver"
)

var (
	channelFlag string
	deviceFlag  string
	buildFlag   int
	keepScratch bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for an available update without downloading anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachine(cmd, true)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Resolve, download, and verify the winning upgrade path",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMachine(cmd, false)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{checkCmd, updateCmd} {
		cmd.Flags().StringVar(&channelFlag, "channel", "", "Override the configured channel")
		cmd.Flags().StringVar(&deviceFlag, "device", "", "Override the configured device model")
		cmd.Flags().IntVar(&buildFlag, "build", -1, "Override the current build number from the build file")
	}
	updateCmd.Flags().BoolVar(&keepScratch, "keep-scratch", false, "Keep the scratch directory after the run")
}

// runMachine wires every component together from configuration and drives
// one state-machine run.
func runMachine(cmd *cobra.Command, dryRun bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if channelFlag != "" {
		cfg.Upgrade.Channel = channelFlag
	}
	if deviceFlag != "" {
		cfg.Upgrade.Device = deviceFlag
	}
	if cfg.Upgrade.Device == "" {
		return fmt.Errorf("no device model configured; set upgrade.device or pass --device")
	}

	currentBuild := buildFlag
	if currentBuild < 0 {
		currentBuild, err = cfg.CurrentBuild()
		if err != nil {
			return err
		}
	}

	ctx := context.Background()

	obs, err := observability.NewManager(&cfg.Observability)
	if err != nil {
		return err
	}
	defer obs.Shutdown(ctx)

	cacheDir, err := cfg.CacheDir()
	if err != nil {
		return err
	}
	store := keyring.New(filepath.Join(cacheDir, "gpg"), cfg.Upgrade.Device)
	store.SetPartitions(cfg.Partitions.Cache, cfg.Partitions.Data)
	if err := store.LoadArchiveMaster(cfg.Keyring.ArchiveMasterPath); err != nil {
		return fmt.Errorf("loading archive-master trust anchor: %w", err)
	}

	// Each run owns a fresh scratch directory. It is left in place on
	// failure (and with --keep-scratch) so a failed run can be inspected.
	scratch := filepath.Join(os.TempDir(), "otaresolve-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return err
	}

	dl := download.New(cfg.Download.Workers, time.Duration(cfg.Download.Timeout))

	notifier, err := installer.DialGRPC(cfg.Installer)
	if err != nil {
		return err
	}
	defer notifier.Close()

	m := resolver.New(cfg, store, dl, dl, scratch, currentBuild).
		WithTelemetry(obs.Telemetry()).
		WithNotifier(notifier)
	if dryRun {
		m.DryRun()
	}

	if err := m.Run(ctx); err != nil {
		return err
	}

	if len(m.Winner) == 0 {
		fmt.Println("Device is up to date.")
	} else {
		for kind, path := range m.Winner {
			last := path[len(path)-1]
			fmt.Printf("%s: %d image(s) to build %d\n", kind, len(path), last.Version)
		}
		if !dryRun {
			fmt.Printf("Verified artifacts staged under %s\n", scratch)
		}
	}

	if dryRun || (!keepScratch && len(m.Winner) == 0) {
		os.RemoveAll(scratch)
	}
	return nil
}
