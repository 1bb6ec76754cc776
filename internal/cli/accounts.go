package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/asad/accstore/internal/core"
	"github.com/asad/accstore/internal/logging"
	"github.com/asad/accstore/internal/services/accounts"
	"github.com/asad/accstore/internal/state"
)

func newAccountCmd(s *session) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:     "account",
		Aliases: []string{"accounts"},
		Short:   "Manage stored accounts",
		Long: `Manage stored accounts.

Each invocation loads the whole state, applies one change and writes the whole
state back. Commands run at the same time against the same data directory are
not serialized: the last write wins, so an update can be lost and two adds can
get the same id. Run one command at a time per data directory.`,
	}

	accountCmd.AddCommand(
		newAddCmd(s),
		newListCmd(s),
		newUpdateCmd(s),
		newRemoveCmd(s),
		newTypeCmd(s),
		newExportCmd(s),
	)
	return accountCmd
}

// credentialFlags are the account fields shared by add and update.
type credentialFlags struct {
	login       string
	password    string
	noPassword  bool
	accountType accounts.AccountType
	labels      []string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.login, "login", "", "login name")
	cmd.Flags().StringVar(&f.password, "password", "", "password")
	cmd.Flags().BoolVar(&f.noPassword, "no-password", false, "store no password (e.g. for ldap accounts)")
	cmd.Flags().Var(&f.accountType, "type", "account type (local or ldap)")
	cmd.Flags().StringArrayVar(&f.labels, "label", nil, "label, repeat for several")
	cmd.MarkFlagsMutuallyExclusive("password", "no-password")
}

func newAddCmd(s *session) *cobra.Command {
	var f credentialFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account",
		Long: `Add an account. It gets the next free id; ids are never reused.
Without --type the currently selected type (see "account type") is used.`,
		Args: cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string, app *core.App) error {
			na := accounts.NewAccount{
				Labels: f.labels,
				Type:   app.Accounts.AccountType(),
				Login:  f.login,
			}
			if cmd.Flags().Changed("type") {
				na.Type = f.accountType
			}
			if !f.noPassword {
				na.Password = accounts.StringPtr(f.password)
			}

			added, err := app.Accounts.AddAccount(cmd.Context(), na)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added account %d\n", added.ID)
			return nil
		}),
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("login")
	return cmd
}

func newListCmd(s *session) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts in display order",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string, app *core.App) error {
			if watch {
				return watchAccounts(cmd.Context(), app, cmd.OutOrStdout())
			}
			return printAccounts(cmd.OutOrStdout(), app.Accounts.Accounts())
		}),
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print again whenever the stored accounts change (file backend)")
	return cmd
}

func newUpdateCmd(s *session) *cobra.Command {
	var (
		f           credentialFlags
		clearLabels bool
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of an account",
		Long: `Change fields of an account. Only the flags given are changed.
--label replaces the whole label list; --clear-labels empties it.`,
		Args: cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string, app *core.App) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var u accounts.AccountUpdate
			flags := cmd.Flags()
			if flags.Changed("login") {
				u.Login = &f.login
			}
			if flags.Changed("password") {
				u.Password = &f.password
			}
			u.ClearPassword = f.noPassword
			if flags.Changed("type") {
				u.Type = &f.accountType
			}
			switch {
			case clearLabels:
				u.Labels = &[]string{}
			case flags.Changed("label"):
				u.Labels = &f.labels
			}
			if u.Empty() {
				return errors.New("nothing to update, pass at least one field flag")
			}

			found, err := app.Accounts.UpdateAccount(cmd.Context(), id, u)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "no account %d, nothing changed\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated account %d\n", id)
			return nil
		}),
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&clearLabels, "clear-labels", false, "remove all labels")
	cmd.MarkFlagsMutuallyExclusive("label", "clear-labels")
	return cmd
}

func newRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Remove an account",
		Args:    cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string, app *core.App) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			removed, err := app.Accounts.RemoveAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "no account %d, nothing removed\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed account %d\n", id)
			return nil
		}),
	}
}

func newTypeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:       "type [local|ldap]",
		Short:     "Print or set the selected account type",
		Long:      `Print the selected account type, or select another one. New accounts get it unless --type is given.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(accounts.AccountTypeLocal), string(accounts.AccountTypeLDAP)},
		RunE: s.run(func(cmd *cobra.Command, args []string, app *core.App) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), app.Accounts.AccountType())
				return nil
			}

			t, err := accounts.ParseAccountType(args[0])
			if err != nil {
				return err
			}
			if err := app.Accounts.SetAccountType(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected account type %s\n", t)
			return nil
		}),
	}
}

func newExportCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the stored state as JSON",
		Args:  cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string, app *core.App) error {
			data, err := app.Accounts.Export()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}),
	}
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid account id %q: must be an integer", arg)
	}
	return id, nil
}

func printAccounts(out io.Writer, list []accounts.Account) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tLOGIN\tPASSWORD\tLABELS")
	for _, account := range list {
		password := "-"
		if account.Password != nil {
			password = "set"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			account.ID, account.Type, account.Login, password, strings.Join(account.Labels, ","))
	}
	return w.Flush()
}

// watchAccounts prints the accounts, then hydrates and prints them again each
// time the storage file is replaced, until ctx is done.
func watchAccounts(ctx context.Context, app *core.App, out io.Writer) error {
	fs, ok := app.Storage.(*state.FileStorage)
	if !ok {
		return fmt.Errorf("--watch needs the file storage backend, not %s", app.Config.StorageBackend)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// The file is replaced by rename on every write, so watch its directory.
	if err := watcher.Add(fs.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", fs.Dir(), err)
	}
	target := fs.Path(app.Accounts.Key())

	if err := printAccounts(out, app.Accounts.Accounts()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := app.Accounts.Hydrate(ctx); err != nil {
				app.Logger.Warn("failed to reload accounts", logging.ErrorField(err))
				continue
			}
			fmt.Fprintln(out)
			if err := printAccounts(out, app.Accounts.Accounts()); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.Logger.Warn("watch error", logging.ErrorField(err))
		}
	}
}
