// Command importbook splits a book file into chapters and publishes them to
// the api service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"chapterwise/internal/publishtoken"
	"chapterwise/internal/util"
	"chapterwise/pkg/apiclient"
	"chapterwise/pkg/bookimport"
	"chapterwise/pkg/domain"
	"chapterwise/pkg/session"
)

var rootCmd = &cobra.Command{
	Use:          "importbook <book-id> <file>",
	Short:        "Publish a .txt, .pdf or .epub book chapter by chapter",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE:         runImport,
}

func init() {
	rootCmd.Flags().String("api", "http://localhost:8080", "API base URL")
	rootCmd.Flags().String("key", "", "Publisher RSA private key (PEM); signs a publish token")
	rootCmd.Flags().String("issuer", "importer", "Publisher issuer name the api allows")
	rootCmd.Flags().String("token", "", "Reader token, for servers without a publisher key")
	rootCmd.Flags().Bool("dry-run", false, "Print the chapter list without publishing")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	bookID := strings.TrimSpace(args[0])
	chapters, err := bookimport.ParseFile(args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		for _, ch := range chapters {
			fmt.Fprintf(out, "%3d  %-40s %d chars\n", ch.Order, ch.Name, len([]rune(ch.Content)))
		}
		return nil
	}

	token, err := publishToken(cmd)
	if err != nil {
		return err
	}
	creds := session.NewMemory(nil)
	creds.Set("publisher", token)
	api, _ := cmd.Flags().GetString("api")
	client := apiclient.NewClient(api, creds, apiclient.WithLogger(util.InitTextLogger("warn")))

	for _, ch := range chapters {
		_, err := client.CreateChapter(cmd.Context(), domain.Chapter{
			BookID:  bookID,
			Order:   ch.Order,
			Name:    ch.Name,
			Content: ch.Content,
		})
		if err != nil {
			return fmt.Errorf("publish chapter %d: %w", ch.Order, err)
		}
		fmt.Fprintf(out, "published chapter %d: %s\n", ch.Order, ch.Name)
	}
	fmt.Fprintf(out, "%s: %d chapters\n", bookID, len(chapters))
	return nil
}

func publishToken(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("key"); path != "" {
		pem, err := publishtoken.ReadKeyFile(path)
		if err != nil {
			return "", err
		}
		issuer, _ := cmd.Flags().GetString("issuer")
		signer, err := publishtoken.NewSigner(publishtoken.SignerConfig{PrivateKeyPEM: pem, Issuer: issuer})
		if err != nil {
			return "", err
		}
		return signer.Sign()
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv("READER_TOKEN")); token != "" {
		return token, nil
	}
	return "", errors.New("pass --key or --token")
}
