package main

import (
	"fmt"

	"github.com/marlin-tools/eeprom-backup/internal/mirror"
	"github.com/marlin-tools/eeprom-backup/internal/retention"
	"github.com/spf13/cobra"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Mirror backups to and from storage pools",
	Long: `Copy backups between the local data directory and a storage pool.

Examples:
  # Configure an S3 pool and upload all backups
  eeprom-backup mirror push --storage-opt offsite.type=s3 --storage-opt offsite.bucket=printer-backups

  # Restore backups from a local pool
  eeprom-backup mirror pull --storage nas --storage-opt nas.type=local --storage-opt nas.path=/mnt/nas/eeprom`,
}

var mirrorPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload local backups missing from the pool",
	Args:  cobra.NoArgs,
	RunE:  runMirrorPush,
}

var mirrorPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore backups missing locally from the pool",
	Args:  cobra.NoArgs,
	RunE:  runMirrorPull,
}

var mirrorPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest objects in the pool",
	Args:  cobra.NoArgs,
	RunE:  runMirrorPrune,
}

var (
	mirrorStorage string
	mirrorKeep    int
)

func init() {
	mirrorCmd.PersistentFlags().StringVar(&mirrorStorage, "storage", "", "Storage pool to use (default: the default storage pool)")
	mirrorPruneCmd.Flags().IntVar(&mirrorKeep, "keep", 0, "Number of objects to keep (default from config)")

	mirrorCmd.AddCommand(mirrorPushCmd)
	mirrorCmd.AddCommand(mirrorPullCmd)
	mirrorCmd.AddCommand(mirrorPruneCmd)
}

func newSyncer() (*mirror.Syncer, error) {
	pools, err := openPools()
	if err != nil {
		return nil, err
	}

	poolName := mirrorStorage
	if poolName == "" {
		poolName = cfg.DefaultStorage
	}

	store, err := pools.Resolve(poolName)
	if err != nil {
		return nil, err
	}

	h, err := openHandler()
	if err != nil {
		return nil, err
	}

	return mirror.New(h, store, poolName, nil), nil
}

func runMirrorPush(cmd *cobra.Command, args []string) error {
	syncer, err := newSyncer()
	if err != nil {
		return err
	}

	result, err := syncer.Push(cmd.Context())
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d, skipped %d, failed %d\n", result.Transferred, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d backup(s) could not be uploaded", result.Failed)
	}
	return nil
}

func runMirrorPull(cmd *cobra.Command, args []string) error {
	syncer, err := newSyncer()
	if err != nil {
		return err
	}

	result, err := syncer.Pull(cmd.Context())
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restored %d, skipped %d, failed %d\n", result.Transferred, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d backup(s) could not be restored", result.Failed)
	}
	return nil
}

func runMirrorPrune(cmd *cobra.Command, args []string) error {
	keep := cfg.RemoteKeep
	if cmd.Flags().Changed("keep") {
		keep = mirrorKeep
	}
	if keep <= 0 {
		return fmt.Errorf("nothing to do, set --keep to a positive number")
	}

	pools, err := openPools()
	if err != nil {
		return err
	}

	h, err := openHandler()
	if err != nil {
		return err
	}

	deleted, err := retention.New(h, pools, nil).PruneRemote(cmd.Context(), mirrorStorage, keep)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d object(s)\n", deleted)
	return nil
}
