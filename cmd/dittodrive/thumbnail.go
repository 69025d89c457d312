package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittodrive/pkg/thumbnail"
)

var (
	flagDeadLetterLimit int
	flagDrainMax        int
)

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail",
	Short: "Thumbnail queue operations",
}

var thumbnailEnqueueCmd = &cobra.Command{
	Use:   "enqueue <tenant> <space> <file-id>",
	Short: "Queue thumbnail generation for an active file",
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

		file, err := rt.Directory.GetFile(cmd.Context(), space, args[2])
		if err != nil {
			return err
		}
		queued, err := rt.Thumbnails.Enqueue(cmd.Context(), space, file)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(map[string]any{"fileId": file.ID, "etag": file.ETag, "queued": queued})
		}
		if queued {
			fmt.Printf("Queued thumbnail for %s (etag %s)\n", file.ID, file.ETag)
		} else {
			fmt.Printf("Thumbnail for %s is already READY\n", file.ID)
		}
		return nil
	},
}

var thumbnailDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process queued thumbnail jobs until the queue has nothing visible",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		total := 0
		for flagDrainMax <= 0 || total < flagDrainMax {
			n, err := rt.Worker.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			total += n
		}
		if flagJSON {
			return printJSON(map[string]int{"processed": total})
		}
		fmt.Printf("Processed %d job(s)\n", total)
		return nil
	},
}

var thumbnailDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "Show messages in the dead-letter queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		letters, err := thumbnail.ListDeadLetters(cmd.Context(), rt.Stores().Queue, flagDeadLetterLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(letters)
		}
		if len(letters) == 0 {
			fmt.Println("No dead letters.")
			return nil
		}
		w := newTable("REASON", "FILE", "ATTEMPT", "FAILED", "ERROR")
		for _, dl := range letters {
			file := "-"
			if dl.FileID != "" {
				file = dl.TenantID + "/" + dl.SpaceID + "/" + dl.FileID
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", dl.Reason, file, dl.Attempt, formatTime(dl.FailedAt), dl.Error)
		}
		return w.Flush()
	},
}

func init() {
	thumbnailDeadLettersCmd.Flags().IntVar(&flagDeadLetterLimit, "limit", 20, "Maximum dead letters to show")
	thumbnailDrainCmd.Flags().IntVar(&flagDrainMax, "max", 0, "Stop after this many jobs, 0 = no limit")

	thumbnailCmd.AddCommand(thumbnailEnqueueCmd, thumbnailDrainCmd, thumbnailDeadLettersCmd)
	rootCmd.AddCommand(thumbnailCmd)
}
