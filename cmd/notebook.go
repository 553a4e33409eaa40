package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"saladict/pkg/browser/memhost"
	"saladict/pkg/config"
	"saladict/pkg/message"
	"saladict/pkg/record"
	"saladict/pkg/selection"
	"saladict/pkg/storage"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

type notebookOptions struct {
	area      string
	context   string
	trans     string
	note      string
	url       string
	title     string
	search    string
	sortField string
	sortOrder string
	page      int
	perPage   int
	all       bool
	asJSON    bool
}

var notebookOpts notebookOptions

var notebookCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Manage saved words",
	Long:  "Reads and writes the notebook and history word lists through the background word store, persisted in the configured state directory.",
}

var notebookAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Save a word",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runNotebook(cmd, func(ctx context.Context, ext *extension, w io.Writer) error {
			return notebookAdd(ctx, ext.client, notebookOpts, strings.Join(args, " "), w)
		})
	},
}

var notebookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved words",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runNotebook(cmd, func(ctx context.Context, ext *extension, w io.Writer) error {
			return notebookList(ctx, ext.client, notebookOpts, w)
		})
	},
}

var notebookLookupCmd = &cobra.Command{
	Use:   "lookup <text>",
	Short: "Show every saved entry of a word",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runNotebook(cmd, func(ctx context.Context, ext *extension, w io.Writer) error {
			return notebookLookup(ctx, ext.client, notebookOpts, strings.Join(args, " "), w)
		})
	},
}

var notebookDeleteCmd = &cobra.Command{
	Use:   "delete [date...]",
	Short: "Delete words by date, or every word with --all",
	Run: func(cmd *cobra.Command, args []string) {
		runNotebook(cmd, func(ctx context.Context, ext *extension, w io.Writer) error {
			return notebookDelete(ctx, ext.client, notebookOpts, args, w)
		})
	},
}

func init() {
	rootCmd.AddCommand(notebookCmd)
	notebookCmd.AddCommand(notebookAddCmd, notebookListCmd, notebookLookupCmd, notebookDeleteCmd)

	notebookCmd.PersistentFlags().StringVarP(&notebookOpts.area, "area", "a", string(record.AreaNotebook), "word list: notebook or history")
	notebookCmd.PersistentFlags().BoolVar(&notebookOpts.asJSON, "json", false, "print JSON instead of a table")

	notebookAddCmd.Flags().StringVarP(&notebookOpts.context, "context", "c", "", "sentence the word was found in")
	notebookAddCmd.Flags().StringVarP(&notebookOpts.trans, "trans", "t", "", "translation")
	notebookAddCmd.Flags().StringVarP(&notebookOpts.note, "note", "n", "", "personal note")
	notebookAddCmd.Flags().StringVar(&notebookOpts.url, "url", "", "page the word was found on")
	notebookAddCmd.Flags().StringVar(&notebookOpts.title, "title", "", "title of that page")

	notebookListCmd.Flags().StringVarP(&notebookOpts.search, "search", "s", "", "only words whose text, context, translation or note contains this")
	notebookListCmd.Flags().StringVar(&notebookOpts.sortField, "sort", "", "field to sort by (default date)")
	notebookListCmd.Flags().StringVar(&notebookOpts.sortOrder, "order", "", "ascend or descend")
	notebookListCmd.Flags().IntVar(&notebookOpts.page, "page", 1, "page number")
	notebookListCmd.Flags().IntVar(&notebookOpts.perPage, "per-page", 0, "words per page (0 lists everything)")

	notebookDeleteCmd.Flags().BoolVar(&notebookOpts.all, "all", false, "delete every word of the area")
}

// extension wires the background word store and a notebook page client on
// one browser host.
type extension struct {
	host   *memhost.Host
	store  *record.Store
	client *record.Client
}

func openExtension(cfg *config.Config, log *slog.Logger) (*extension, error) {
	host, err := openHost(cfg, log, nil)
	if err != nil {
		return nil, err
	}

	bg := host.Background()
	bgRouter := message.New(bg, bg.Tabs(), message.WithLogger(log), message.WithBuildMode(cfg.Build.Mode))
	bgRouter.Self().InitServer()
	local := storage.New(bg.Storage(), storage.WithLogger(log)).Local()
	store := record.NewStore(bgRouter, local, record.WithStoreLogger(log))
	store.Start()

	page := host.OpenTab(memhost.TabSpec{URL: host.GetURL("notebook.html"), Title: "Notebook"})
	pageRouter := message.New(page, page.Tabs(), message.WithLogger(log), message.WithBuildMode(cfg.Build.Mode))

	return &extension{
		host:   host,
		store:  store,
		client: record.NewClient(pageRouter, record.WithClientLogger(log)),
	}, nil
}

func runNotebook(cmd *cobra.Command, fn func(ctx context.Context, ext *extension, w io.Writer) error) {
	cfg, log, err := setup("cmd.notebook")
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}

	ext, err := openExtension(cfg, log)
	if err != nil {
		log.Error("Failed to open extension", "error", err)
		return
	}
	defer ext.store.Stop()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx, ext, os.Stdout); err != nil {
		fmt.Printf("notebook: %v\n", err)
	}
}

func notebookAdd(ctx context.Context, client *record.Client, opts notebookOptions, text string, w io.Writer) error {
	area, err := record.ParseArea(opts.area)
	if err != nil {
		return err
	}
	info := selection.Info{
		Text:    strings.TrimSpace(text),
		Context: selection.CleanText(opts.context),
		Title:   opts.title,
		URL:     opts.url,
		Trans:   opts.trans,
		Note:    opts.note,
	}
	if info.Text == "" {
		return errors.New("word text is empty")
	}
	if err := client.SaveWord(ctx, area, info); err != nil {
		return err
	}
	fmt.Fprintf(w, "saved %q to %s\n", info.Text, area)
	return nil
}

func notebookList(ctx context.Context, client *record.Client, opts notebookOptions, w io.Writer) error {
	area, err := record.ParseArea(opts.area)
	if err != nil {
		return err
	}
	page, err := client.GetWords(ctx, area, record.Query{
		ItemsPerPage: opts.perPage,
		PageNum:      opts.page,
		SortField:    opts.sortField,
		SortOrder:    record.SortOrder(opts.sortOrder),
		SearchText:   opts.search,
	})
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(w, page)
	}
	fmt.Fprintln(w, renderWords(page.Words))
	fmt.Fprintf(w, "%d of %d words\n", len(page.Words), page.Total)
	return nil
}

func notebookLookup(ctx context.Context, client *record.Client, opts notebookOptions, text string, w io.Writer) error {
	area, err := record.ParseArea(opts.area)
	if err != nil {
		return err
	}
	words, err := client.GetWordsByText(ctx, area, text)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(w, words)
	}
	if len(words) == 0 {
		fmt.Fprintf(w, "%q is not in %s\n", text, area)
		return nil
	}
	fmt.Fprintln(w, renderWords(words))
	return nil
}

func notebookDelete(ctx context.Context, client *record.Client, opts notebookOptions, args []string, w io.Writer) error {
	area, err := record.ParseArea(opts.area)
	if err != nil {
		return err
	}
	if len(args) == 0 && !opts.all {
		return errors.New("pass word dates or --all")
	}
	dates := make([]int64, 0, len(args))
	for _, arg := range args {
		date, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("parse date %q: %w", arg, err)
		}
		dates = append(dates, date)
	}
	removed, err := client.DeleteWords(ctx, area, dates)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		fmt.Fprintf(w, "cleared %s\n", area)
		return nil
	}
	fmt.Fprintf(w, "deleted %d word(s) from %s\n", removed, area)
	return nil
}

func renderWords(words []record.Word) string {
	rows := make([][]string, 0, len(words))
	for _, word := range words {
		rows = append(rows, []string{
			strconv.FormatInt(word.Date, 10),
			time.UnixMilli(word.Date).Format(time.DateTime),
			word.Text,
			word.Trans,
			word.Context,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("65"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("DATE", "SAVED", "TEXT", "TRANS", "CONTEXT").
		Rows(rows...).
		Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
