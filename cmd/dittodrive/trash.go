package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittodrive/pkg/metadata"
)

var (
	flagTrashLimit     int
	flagTrashCursor    string
	flagTrashRetention time.Duration
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Trash, restore and purge files",
}

var trashListCmd = &cobra.Command{
	Use:   "list <tenant> <space>",
	Short: "List a space's trash in purge order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		space, err := parseSpace(args[0], args[1])
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		page, err := rt.Lifecycle.ListTrash(cmd.Context(), space, flagTrashCursor, flagTrashLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(page)
		}

		if len(page.Items) == 0 {
			fmt.Println("Trash is empty.")
			return nil
		}
		w := newTable("FILE ID", "PATH", "SIZE", "DELETED", "PURGE DUE")
		for _, e := range page.Items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				e.FileID, e.TrashedPath, e.Size, formatTime(e.DeletedAt), formatTime(e.PurgeDueAt))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if page.NextCursor != "" {
			fmt.Printf("\nMore entries: --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}

var trashAddCmd = &cobra.Command{
	Use:   "add <tenant> <space> <file-id>",
	Short: "Move a file to the trash",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		space, err := parseSpace(args[0], args[1])
		if err != nil {
			return err
		}
		retention := cfg.Lifecycle.Retention
		if cmd.Flags().Changed("retention") {
			retention = flagTrashRetention
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		file, err := rt.Lifecycle.Trash(cmd.Context(), space, args[2], retention)
		if err != nil {
			return err
		}
		return printFile(file, fmt.Sprintf("Trashed %s (purge due %s)", file.TrashedPath, formatTime(*file.PurgeDueAt)))
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <tenant> <space> <file-id>",
	Short: "Restore a trashed file to its original path",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		space, err := parseSpace(args[0], args[1])
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		file, err := rt.Lifecycle.Restore(cmd.Context(), space, args[2])
		if err != nil {
			return err
		}
		return printFile(file, fmt.Sprintf("Restored %s as %s", file.ID, file.Name))
	},
}

var trashPurgeNowCmd = &cobra.Command{
	Use:   "purge-now <tenant> <space> <file-id>",
	Short: "Hard-delete a trashed file ignoring its retention",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		space, err := parseSpace(args[0], args[1])
		if err != nil {
			return err
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		if err := rt.Lifecycle.PurgeNow(cmd.Context(), space, args[2]); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]string{"fileId": args[2], "state": metadata.StatePurged.String()})
		}
		fmt.Printf("Purged %s\n", args[2])
		return nil
	},
}

func printFile(file *metadata.FileNode, message string) error {
	if flagJSON {
		return printJSON(file)
	}
	fmt.Println(message)
	return nil
}

func init() {
	trashListCmd.Flags().IntVar(&flagTrashLimit, "limit", 50, "Maximum entries per page")
	trashListCmd.Flags().StringVar(&flagTrashCursor, "cursor", "", "Cursor returned by a previous page")
	trashAddCmd.Flags().DurationVar(&flagTrashRetention, "retention", 0, "Time before the file is purged (default: lifecycle.retention)")

	trashCmd.AddCommand(trashListCmd, trashAddCmd, trashRestoreCmd, trashPurgeNowCmd)
	rootCmd.AddCommand(trashCmd)
}
