package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/rec"
)

func newLoginCmd() *cobra.Command {
	var account string
	var withDav bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log into Rec and cache the tokens",
		Long: `Log into Rec and cache the auth tokens on disk. With --webdav the
PanDav credentials are prompted for and cached alongside, so transfers to
the WebDAV endpoint work in later sessions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if account == "" {
				account, err = promptLine("Rec account: ")
				if err != nil {
					return err
				}
			}
			password, err := promptPassword("Rec password: ")
			if err != nil {
				return err
			}

			client := rec.NewClient(cfg.RecBaseURL, logger.Child("rec"))
			user, err := client.LoginWithCache(cmd.Context(), account, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Printf("Logged in as %s (%s)\n", user.Username, user.Email)

			if withDav {
				davAccount, err := promptLine("PanDav account: ")
				if err != nil {
					return err
				}
				davPassword, err := promptPassword("PanDav password: ")
				if err != nil {
					return err
				}
				creds := &config.WebDAVCredentials{
					Account:  davAccount,
					Password: davPassword,
					URL:      cfg.WebDAVURL,
				}
				if err := config.SaveWebDAVCredentials(account, creds); err != nil {
					return fmt.Errorf("failed to cache webdav credentials: %w", err)
				}
				fmt.Println("WebDAV credentials cached")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Rec account name")
	cmd.Flags().BoolVar(&withDav, "webdav", false, "also prompt for and cache PanDav credentials")
	return cmd
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo on a terminal, falling back to plain
// reads for piped input.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
