package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chapterwise/pkg/ask"
	"chapterwise/pkg/boundary"
	"chapterwise/pkg/conversation"
	"chapterwise/pkg/poller"
)

var askCmd = &cobra.Command{
	Use:   "ask <book-id> <question...>",
	Short: "Ask a question answered only from chapters you have read",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := openBook(cmd, args[0])
		if err != nil {
			return err
		}
		defer view.Close()
		out := cmd.OutOrStdout()

		sub, err := view.Ask(cmd.Context(), strings.Join(args[1:], " "))
		var sErr *ask.SubmitError
		switch {
		case errors.Is(err, boundary.ErrNoProgress):
			return fmt.Errorf("%s (run: reader progress set %s <chapter>)", view.Notice(), args[0])
		case errors.As(err, &sErr) && sErr.Stage == ask.StageTrigger:
			return fmt.Errorf("failed to generate answer: %w", sErr.Err)
		case err != nil:
			return err
		}
		fmt.Fprintln(out, view.Notice())

		noWait, _ := cmd.Flags().GetBool("no-wait")
		if noWait {
			fmt.Fprintf(out, "Question %s submitted.\n", sub.QuestionID)
			return nil
		}
		select {
		case <-sub.Poll.Done():
		case <-cmd.Context().Done():
			sub.Poll.Cancel()
		}
		res := sub.Poll.Wait()
		switch res.Outcome {
		case poller.OutcomeAnswered:
			fmt.Fprintln(out, res.Question.AnswerText)
			printSources(cmd, res.Question.Sources)
		case poller.OutcomeAuthRequired:
			return fmt.Errorf("session expired while waiting; sign in again and run: reader history %s", args[0])
		case poller.OutcomeNotFound:
			fmt.Fprintln(out, "The question was deleted before it was answered.")
		default:
			if e, ok := lookup(view.Entries(), sub.QuestionID); ok && e.Message() != "" {
				fmt.Fprintln(out, e.Message())
				return nil
			}
			fmt.Fprintf(out, "No answer yet (%s). Check again with: reader history %s\n", res.Outcome, args[0])
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("no-wait", false, "Return after submitting instead of waiting for the answer")
}

func lookup(entries []conversation.Entry, questionID string) (conversation.Entry, bool) {
	for _, e := range entries {
		if e.ID == conversation.PersistedID(questionID) {
			return e, true
		}
	}
	return conversation.Entry{}, false
}
