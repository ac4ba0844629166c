package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chapterwise/pkg/domain"
)

var historyCmd = &cobra.Command{
	Use:   "history <book-id>",
	Short: "List your questions and answers for a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := openBook(cmd, args[0])
		if err != nil {
			return err
		}
		defer view.Close()
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, view.Status())
		entries := view.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No questions yet.")
			return nil
		}
		for _, e := range entries {
			q := e.Question
			fmt.Fprintf(out, "\n[%s] Q (to ch. %d): %s\n", q.CreatedAt.Local().Format("2006-01-02 15:04"), q.ChapterLimit, q.Text)
			switch {
			case q.AnswerText != "":
				fmt.Fprintf(out, "A: %s\n", q.AnswerText)
				printSources(cmd, q.Sources)
			case e.Message() != "":
				fmt.Fprintf(out, "!: %s\n", e.Message())
			default:
				fmt.Fprintln(out, "(generating)")
			}
		}
		return nil
	},
}

func printSources(cmd *cobra.Command, sources []domain.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), "Sources:")
	for _, s := range sources {
		fmt.Fprintf(cmd.OutOrStdout(), " ch.%d", s.Chapter)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}
