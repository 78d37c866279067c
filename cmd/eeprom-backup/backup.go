package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/marlin-tools/eeprom-backup/internal/retention"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List backups",
	Long:    "List all indexed backups in creation order.",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a backup",
	Long: `Create a backup from a JSON document.

Examples:
  # From a file
  eeprom-backup create before-pid-tune --data-file eeprom.json

  # From stdin, keeping the time it was taken
  cat eeprom.json | eeprom-backup create mk3s --data-file - --time "2024-01-01 12:00:00"`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a backup",
	Long:  "Print the content of a backup file as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Check that a backup is well-formed",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a backup",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Rebuild the index from the backup files",
	Args:  cobra.NoArgs,
	RunE:  runRescan,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest local backups",
	Long:  "Delete the oldest local backups so that at most --keep remain.",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

var (
	listRefresh bool
	listRescan  bool
	createFile  string
	createTime  string
	showStrict  bool
	deleteYes   bool
	pruneKeep   int
)

func init() {
	listCmd.Flags().BoolVar(&listRefresh, "refresh", false, "Re-read the index file instead of using the loaded copy")
	listCmd.Flags().BoolVar(&listRescan, "rescan", false, "Rebuild the index from the backup files first")
	listCmd.MarkFlagsMutuallyExclusive("refresh", "rescan")

	createCmd.Flags().StringVarP(&createFile, "data-file", "f", "", "JSON file with the backup data (- for stdin)")
	createCmd.Flags().StringVar(&createTime, "time", "", "Backup time (format: 2006-01-02 15:04:05, default now)")
	_ = createCmd.MarkFlagRequired("data-file")

	showCmd.Flags().BoolVar(&showStrict, "strict", false, "Fail if the backup is missing required keys")

	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")

	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "Number of backups to keep (default from config)")
}

func runList(cmd *cobra.Command, args []string) error {
	h, err := openHandler()
	if err != nil {
		return err
	}

	var summaries []backup.Summary
	if listRescan {
		summaries, err = h.Rescan()
	} else {
		summaries, err = h.ListBackups(!listRefresh)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(out, "No backups found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTIME\tAGE")
	_, _ = fmt.Fprintln(w, "----\t----\t---")

	for _, s := range summaries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Time, age(s.Time))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nTotal: %d backup(s)\n", len(summaries))

	return nil
}

// age renders a backup time relative to now, or "-" if it does not parse
func age(backupTime string) string {
	t, err := backup.ParseTime(backupTime)
	if err != nil {
		return "-"
	}
	return humanize.Time(t)
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	data, err := readDataFile(cmd.InOrStdin(), createFile)
	if err != nil {
		return err
	}

	if !json.Valid(data) {
		return fmt.Errorf("data file %s does not contain valid JSON", createFile)
	}

	if createTime != "" {
		if _, err := backup.ParseTime(createTime); err != nil {
			return fmt.Errorf("invalid --time %q (expected %s): %w", createTime, backup.TimeLayout, err)
		}
	}

	h, err := openHandler()
	if err != nil {
		return err
	}

	if err := h.CreateBackup(name, json.RawMessage(data), createTime); err != nil {
		return err
	}

	backupTime, _ := h.BackupTime(name)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (%s, %s)\n", name, backupTime, humanize.Bytes(uint64(len(data))))
	return nil
}

func readDataFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read data from stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return data, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	name := args[0]

	h, err := openHandler()
	if err != nil {
		return err
	}

	var content any
	if showStrict {
		content, err = h.RequireValid(name)
	} else {
		content, err = h.ReadBackup(name)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format backup: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	name := args[0]

	h, err := openHandler()
	if err != nil {
		return err
	}

	valid, err := h.ValidateBackup(name)
	if err != nil {
		return err
	}

	if !valid {
		return fmt.Errorf("backup %s: %w", name, backup.ErrBackupInvalid)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Backup is valid: %s\n", name)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !deleteYes {
		ok, err := confirm(fmt.Sprintf("Delete backup %s?", name))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted")
		}
	}

	h, err := openHandler()
	if err != nil {
		return err
	}

	if err := h.DeleteBackup(name); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Backup deleted: %s\n", name)
	return nil
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// refuses so scripts have to pass --yes.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return false, errors.New("stdin is not a terminal, pass --yes to confirm")
	}

	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	return isYes(answer), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func runRescan(cmd *cobra.Command, args []string) error {
	h, err := openHandler()
	if err != nil {
		return err
	}

	summaries, err := h.Rescan()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Index rebuilt: %d backup(s)\n", len(summaries))
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	keep := cfg.Keep
	if cmd.Flags().Changed("keep") {
		keep = pruneKeep
	}
	if keep <= 0 {
		return errors.New("nothing to do, set --keep to a positive number")
	}

	h, err := openHandler()
	if err != nil {
		return err
	}

	deleted, err := retention.New(h, nil, nil).Prune(keep)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d backup(s)\n", deleted)
	return nil
}
