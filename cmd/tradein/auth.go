package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tradein/internal/auth"
	"tradein/internal/calendar"
)

func newAuthCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Calendar access and save the token",
		Long: "Runs the installed-app OAuth flow using credentials.json from the\n" +
			"credentials directory and writes token.json next to it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			o := calendar.OAuth{Dir: cfg.Calendar.CredentialsDir, Port: cfg.Calendar.CallbackPort}
			return o.RunAuthFlow(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var insecureUnmask bool
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a basic auth password (Argon2id) for basic_auth.password_hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			read := readPasswordMasked
			if insecureUnmask {
				fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: Password will be visible on screen!")
				read = readLine(bufio.NewReader(cmd.InOrStdin()))
			}
			password, err := read(out, "Enter password:   ")
			if err != nil {
				return err
			}
			confirm, err := read(out, "Confirm password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&insecureUnmask, "insecure-unmask-password", false, "Show password as plain text (INSECURE!)")
	return cmd
}

type passwordReader func(out io.Writer, prompt string) (string, error)

func readLine(r *bufio.Reader) passwordReader {
	return func(out io.Writer, prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// readPasswordMasked reads from the terminal without echo.
func readPasswordMasked(out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; use --insecure-unmask-password to read a piped password")
	}
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
