package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/models"
	"github.com/reclabs/recbridge/internal/rec"
	"github.com/reclabs/recbridge/internal/services"
	"github.com/reclabs/recbridge/internal/webdav"
)

// connect builds a Rec client from the cached tokens of an account.
func connect(ctx context.Context, cfg config.Service, account string) (*rec.Client, error) {
	if account == "" {
		return nil, fmt.Errorf("--account is required")
	}
	client := rec.NewClient(cfg.RecBaseURL, logger.Child("rec"))
	if _, err := client.LoginWithCache(ctx, account, ""); err != nil {
		return nil, fmt.Errorf("no valid cached login for %s (run `recbridge login` first): %w", account, err)
	}
	return client, nil
}

// davClient builds a WebDAV client from the account's cached credentials.
func davClient(cfg config.Service, account string) (*webdav.Client, error) {
	creds, err := config.LoadWebDAVCredentials(account)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("no cached webdav credentials for %s (run `recbridge login --webdav`)", account)
	}
	url := creds.URL
	if url == "" {
		url = cfg.WebDAVURL
	}
	if url == "" {
		return nil, fmt.Errorf("webdavUrl is not configured")
	}
	return webdav.New(url, creds.Account, creds.Password), nil
}

func newLsCmd() *cobra.Command {
	var account string
	var local, dav, showHidden bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory on Rec, PanDav or the local disk",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}

			var entries []models.Entry
			switch {
			case local:
				entries, err = services.NewLocalBrowser().List(path, showHidden)
			case dav:
				var client *webdav.Client
				client, err = davClient(cfg, account)
				if err != nil {
					return err
				}
				entries, err = client.List(path)
			default:
				var client *rec.Client
				client, err = connect(cmd.Context(), cfg, account)
				if err != nil {
					return err
				}
				entries, err = rec.NewFS(client).List(cmd.Context(), path)
			}
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Rec account name")
	cmd.Flags().BoolVar(&local, "local", false, "list the local disk")
	cmd.Flags().BoolVar(&dav, "webdav", false, "list the PanDav endpoint")
	cmd.Flags().BoolVar(&showHidden, "all", false, "include hidden files (local only)")
	return cmd
}

func printEntries(entries []models.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, e := range entries {
		kind := "-"
		size := fmt.Sprintf("%d", e.Size)
		if e.IsDir() {
			kind = "d"
			size = "-"
		}
		mod := ""
		if e.LastModified != nil {
			mod = e.LastModified.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, size, mod, e.Name)
	}
	w.Flush()
}
