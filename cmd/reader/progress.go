package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show or update reading progress",
}

var progressShowCmd = &cobra.Command{
	Use:   "show [book-id]",
	Short: "Show progress for one book, or all books",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			client, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			items, err := client.ListProgress(cmd.Context())
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No books started yet.")
			}
			for _, p := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tchapter %d of %d (%d%%)\n", p.BookID, p.CurrentChapter, p.TotalChapters, p.ProgressPercentage)
			}
			return nil
		}
		view, err := openBook(cmd, args[0])
		if err != nil {
			return err
		}
		defer view.Close()
		fmt.Fprintln(cmd.OutOrStdout(), view.Status())
		return nil
	},
}

var progressSetCmd = &cobra.Command{
	Use:   "set <book-id> <chapter>",
	Short: "Record the last chapter you finished",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chapter, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("chapter must be a number: %w", err)
		}
		total, _ := cmd.Flags().GetInt("total")
		view, err := openBook(cmd, args[0])
		if err != nil {
			return err
		}
		defer view.Close()
		if _, err := view.SaveProgress(cmd.Context(), chapter, total); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), view.Status())
		return nil
	},
}

func init() {
	progressSetCmd.Flags().Int("total", 0, "Total chapters (defaults to the stored total or the book's chapter count)")
	progressCmd.AddCommand(progressShowCmd)
	progressCmd.AddCommand(progressSetCmd)
}
