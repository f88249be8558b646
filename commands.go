package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"wifip2p/models"
	"wifip2p/storage"
)

// Version is the wifip2p release.
const Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wifip2p %s\n", Version)
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Inspect the stored persistent groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persistent groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			groups, err := store.ListPersistentGroups()
			if err != nil {
				return err
			}
			return printGroups(cmd.OutOrStdout(), groups)
		})
	},
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <network-id>",
	Short: "Forget a persistent group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		netID, err := strconv.Atoi(args[0])
		if err != nil || netID < 0 {
			return fmt.Errorf("invalid network id %q", args[0])
		}
		return withStore(func(store *storage.Store) error {
			if err := store.DeletePersistentGroup(netID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no persistent group with network id %d", netID)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted:  %d\n", netID)
			return nil
		})
	},
}

var (
	historyLimit int
	historyPeer  string
	historyKind  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent group formation history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *storage.Store) error {
			events, err := store.GetGroupEvents(storage.GroupEventFilter{
				Kind:        models.GroupEventKind(historyKind),
				PeerAddress: models.NormalizeAddress(historyPeer),
				Limit:       historyLimit,
			})
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), events)
		})
	},
}

func init() {
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsDeleteCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of events")
	historyCmd.Flags().StringVar(&historyPeer, "peer", "", "Only events involving this peer address")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Only events of this kind (formed, removed, failed)")
}

// withStore opens the database for a one-shot command.
func withStore(fn func(store *storage.Store) error) (err error) {
	_, dataDir, err := loadConfig()
	if err != nil {
		return err
	}
	store, _, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()
	return fn(store)
}

func printGroups(out io.Writer, groups []models.PersistentGroup) error {
	if len(groups) == 0 {
		_, err := fmt.Fprintln(out, "No persistent groups")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNETWORK\tOWNER\tROLE\tCLIENTS")
	for _, group := range groups {
		role := "client"
		if group.IsOwner {
			role = "owner"
		}
		clients := "-"
		if len(group.Clients) > 0 {
			clients = strings.Join(group.Clients, ",")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", group.NetworkID, group.NetworkName, group.OwnerAddress, role, clients)
	}
	return w.Flush()
}

func printHistory(out io.Writer, events []models.GroupEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "No group events")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tNETWORK\tPEER\tREASON")
	for _, event := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			event.At.Local().Format(time.DateTime),
			event.Kind,
			orDash(event.NetworkName),
			orDash(event.PeerAddress),
			orDash(event.Reason),
		)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func dataDirOf(cfgPath string) string {
	return filepath.Dir(cfgPath)
}
