package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/ledgersync/internal/config"
	"github.com/hyperengineering/ledgersync/internal/ledger"
	"github.com/hyperengineering/ledgersync/internal/store"
)

var (
	likesDBOverride string
	likesJSONOutput bool
	likesUserID     string
	mergeFile       string
	resetPurge      bool
)

var likesCmd = &cobra.Command{
	Use:   "likes",
	Short: "Inspect and edit a user's likes ledger",
	Long:  "Show, toggle, and merge likes directly against the profile store without running the server.",
}

var likesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's likes",
	Args:  cobra.NoArgs,
	RunE:  runLikesShow,
}

var likesToggleCmd = &cobra.Command{
	Use:   "toggle <table> <record-id>",
	Short: "Toggle a like on a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runLikesToggle,
}

var likesMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a likes document into a user's ledger",
	Long:  `Reads {"<table>": ["<id>", ...]} from --file, or stdin when --file is "-" or unset.`,
	Args:  cobra.NoArgs,
	RunE:  runLikesMerge,
}

var likesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all of a user's likes",
	Long:  "Clears every category. With --purge the user's entire profile is deleted instead.",
	Args:  cobra.NoArgs,
	RunE:  runLikesReset,
}

func init() {
	likesCmd.PersistentFlags().StringVar(&likesDBOverride, "db", "",
		"Database path (overrides config and LEDGER_DB_PATH)")
	likesCmd.PersistentFlags().BoolVar(&likesJSONOutput, "json", false,
		"Output in JSON format")
	likesCmd.PersistentFlags().StringVar(&likesUserID, "user", "",
		"User ID whose ledger to operate on (required)")
	likesCmd.MarkPersistentFlagRequired("user")

	likesMergeCmd.Flags().StringVar(&mergeFile, "file", "-",
		`Path to the likes JSON document, or "-" for stdin`)

	likesCmd.AddCommand(likesShowCmd)
	likesCmd.AddCommand(likesToggleCmd)
	likesResetCmd.Flags().BoolVar(&resetPurge, "purge", false,
		"Delete the whole profile, not only the likes")

	likesCmd.AddCommand(likesMergeCmd)
	likesCmd.AddCommand(likesResetCmd)
}

// openLedger opens the profile store from config with optional --db override.
// Snapshots are disabled: every read goes to the store.
func openLedger() (*ledger.Ledger, store.ProfileStore, error) {
	dbPath := likesDBOverride
	if dbPath == "" {
		dbCfg, err := config.LoadDatabaseConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		dbPath = dbCfg.Path
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(s, ledger.Options{SnapshotTTL: -1}), s, nil
}

func runLikesShow(cmd *cobra.Command, args []string) error {
	l, s, err := openLedger()
	if err != nil {
		return err
	}
	defer s.Close()

	likes, err := l.Get(context.Background(), likesUserID, true)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if likesJSONOutput {
		return printJSON(out, map[string]any{
			"user":  likesUserID,
			"likes": likes,
			"total": likes.Total(),
		})
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "TABLE\tCOUNT\tRECORDS")
	for _, c := range ledger.Categories {
		ids := likes[c]
		records := "-"
		if len(ids) > 0 {
			records = strings.Join(ids, ",")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", c, len(ids), records)
	}
	return w.Flush()
}

func runLikesToggle(cmd *cobra.Command, args []string) error {
	l, s, err := openLedger()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := l.Toggle(context.Background(), likesUserID, args[0], args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if likesJSONOutput {
		return printJSON(out, map[string]any{
			"liked": res.Liked,
			"count": res.Count,
			"likes": res.Likes,
		})
	}

	verb := "Unliked"
	if res.Liked {
		verb = "Liked"
	}
	fmt.Fprintf(out, "%s %s/%s for %s (%d in %s)\n", verb, args[0], args[1], likesUserID, res.Count, args[0])
	return nil
}

func runLikesMerge(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if mergeFile != "" && mergeFile != "-" {
		f, err := os.Open(mergeFile)
		if err != nil {
			return fmt.Errorf("open likes file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var incoming map[string][]string
	if err := json.NewDecoder(r).Decode(&incoming); err != nil {
		return fmt.Errorf("parse likes document: %w", err)
	}

	l, s, err := openLedger()
	if err != nil {
		return err
	}
	defer s.Close()

	merged, err := l.Merge(context.Background(), likesUserID, incoming)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if likesJSONOutput {
		return printJSON(out, map[string]any{"ok": true, "likes": merged})
	}
	fmt.Fprintf(out, "Merged likes for %s: %d total\n", likesUserID, merged.Total())
	return nil
}

func runLikesReset(cmd *cobra.Command, args []string) error {
	l, s, err := openLedger()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	action := "Cleared likes"
	if resetPurge {
		action = "Purged profile"
		err = l.Purge(ctx, likesUserID)
	} else {
		err = l.Clear(ctx, likesUserID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if likesJSONOutput {
		return printJSON(out, map[string]any{"ok": true, "user": likesUserID, "purged": resetPurge})
	}
	fmt.Fprintf(out, "%s for %s\n", action, likesUserID)
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
