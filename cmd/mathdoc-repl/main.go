package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/phroun/mathdoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
	logger     *zap.Logger
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

var rootCmd = &cobra.Command{
	Use:   "mathdoc-repl",
	Short: "Interactive shell for a mathdoc document",
	Long: `mathdoc-repl opens the configured document store and lets you edit the
document with commands: text, paragraphs, lists, tables and TeX equations,
with undo/redo and durable snapshots.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runREPL(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mathdoc.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// toolbar mirrors the CAN_UNDO / CAN_REDO signals the way a toolbar would.
type toolbar struct {
	canUndo atomic.Bool
	canRedo atomic.Bool
}

func (t *toolbar) plugin(e *mathdoc.Editor) func() {
	return e.Bus().Subscribe(func(r *mathdoc.Registrar) {
		mathdoc.On(r, mathdoc.CanUndoCommand, mathdoc.PriorityLow, func(_ *mathdoc.Editor, v bool) bool {
			t.canUndo.Store(v)
			return false
		})
		mathdoc.On(r, mathdoc.CanRedoCommand, mathdoc.PriorityLow, func(_ *mathdoc.Editor, v bool) bool {
			t.canRedo.Store(v)
			return false
		})
	})
}

// REPL holds the state of the interactive session
type REPL struct {
	lib     *mathdoc.Library
	editor  *mathdoc.Editor
	toolbar *toolbar
	reader  *bufio.Reader
	ctx     context.Context
}

func runREPL(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := mathdoc.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if !verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(cfg.ZapLevel()))
	}

	store, err := cfg.OpenStore(logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	lib, err := mathdoc.Init(mathdoc.LibraryOptions{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	defer lib.Close()

	r := &REPL{
		lib:     lib,
		toolbar: &toolbar{},
		reader:  bufio.NewReader(os.Stdin),
		ctx:     ctx,
	}
	opts := cfg.EditorOptions()
	opts.Plugins = append(opts.Plugins, r.toolbar.plugin)
	opts.OnStoreChange = func(_ *mathdoc.Editor, _ mathdoc.StoreChangeStatus, info mathdoc.StoreChangeInfo) {
		fmt.Println(errorStyle.Render(fmt.Sprintf("\nstore %s externally; use 'reload' or 'keep'", info.Type)))
	}
	r.editor, err = lib.Open(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Println(promptStyle.Render("mathdoc REPL"))
	fmt.Println(dimStyle.Render(fmt.Sprintf("store: %s, loaded from %s. Type 'help' for commands.",
		cfg.Store.Backend, r.editor.LoadResult().Source)))

	for {
		fmt.Print(promptStyle.Render("mathdoc> "))
		input, err := r.reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nGoodbye!")
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !r.handleCommand(input) {
			break
		}
	}
	return r.editor.Close()
}

func (r *REPL) handleCommand(input string) bool {
	cmd, rest, _ := strings.Cut(input, " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "help":
		r.printHelp()
	case "quit", "exit":
		fmt.Println("Goodbye!")
		return false

	case "text":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertTextCommand, rest))
	case "para", "enter":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertParagraphCommand, struct{}{}))
	case "format":
		r.cmdFormat(args)
	case "ol":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertOrderedListCommand, struct{}{}))
	case "ul":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertUnorderedListCommand, struct{}{}))
	case "select":
		r.cmdSelect(args)

	case "table":
		r.cmdTable(args)
	case "row":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertTableRowCommand, len(args) == 0 || args[0] != "above"))
	case "col":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertTableColumnCommand, len(args) == 0 || args[0] != "before"))
	case "delrow":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.DeleteTableRowCommand, struct{}{}))
	case "delcol":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.DeleteTableColumnCommand, struct{}{}))

	case "math":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertMathCommand, mathdoc.InsertMathPayload{Equation: rest}))
	case "imath":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertMathCommand, mathdoc.InsertMathPayload{Equation: rest, Inline: true}))
	case "edit":
		r.cmdEdit(args)

	case "undo":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.UndoCommand, struct{}{}))
	case "redo":
		r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.RedoCommand, struct{}{}))
	case "clear":
		r.cmdClear()
	case "revisions":
		r.cmdRevisions()

	case "html":
		fmt.Println(r.editor.HTML())
	case "export":
		fmt.Println(r.editor.ExportHTML())
	case "json":
		r.cmdJSON()
	case "tree":
		r.cmdTree()
	case "status":
		r.cmdStatus()
	case "flush":
		r.cmdFlush()
	case "reload", "keep":
		if err := r.editor.AcknowledgeStoreChange(r.ctx, cmd == "reload"); err != nil {
			r.fail(err)
		}

	default:
		fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", cmd)
	}
	return true
}

func (r *REPL) printHelp() {
	help := `
Available Commands:
-------------------

EDITING:
  text <text>             Insert text at the caret
  para                    Split the paragraph at the caret
  format <style>          Toggle bold|italic|underline|strikethrough|code
  ol | ul                 Wrap the caret's paragraph in a list
  select <key> [offset]   Put the caret in node <key>

TABLES:
  table <rows> <cols> [hrow] [hcol]   Insert a table, optional header row/column
  row [above|below]       Insert a row next to the selected cell
  col [before|after]      Insert a column next to the selected cell
  delrow | delcol         Delete the selected row or column

MATH:
  math <tex>              Insert a display equation
  imath <tex>             Insert an inline equation
  edit <key> <tex>        Edit an equation through its view

HISTORY:
  undo | redo             Step through history
  revisions               List retained revisions
  clear                   Clear the document (asks for confirmation)

INSPECTION:
  html | export | json    Show rendered HTML, sanitised HTML, or the snapshot
  tree                    Show the node tree
  status                  Show editor status
  flush                   Wait for the snapshot to be written
  reload | keep           Resolve a foreign change to the store

OTHER:
  help                    Show this help message
  quit, exit              Exit the REPL
`
	fmt.Println(help)
}

func (r *REPL) dispatch(handled bool) {
	if handled {
		fmt.Println(okStyle.Render("ok"))
		return
	}
	fmt.Println(dimStyle.Render("not handled"))
}

func (r *REPL) fail(err error) {
	fmt.Println(errorStyle.Render("Error: " + err.Error()))
}

func (r *REPL) cmdFormat(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: format bold|italic|underline|strikethrough|code")
		return
	}
	r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.FormatTextCommand, args[0]))
}

func (r *REPL) cmdSelect(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: select <key> [offset]")
		return
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid key: %v\n", err)
		return
	}
	offset := 0
	if len(args) > 1 {
		if offset, err = strconv.Atoi(args[1]); err != nil {
			fmt.Printf("Invalid offset: %v\n", err)
			return
		}
	}
	typ := mathdoc.PointElement
	_ = r.editor.Read(func(tx *mathdoc.Txn) error {
		if n, ok := tx.Node(mathdoc.NodeKey(key)); ok && n.Type() == mathdoc.TypeText {
			typ = mathdoc.PointText
		}
		return nil
	})
	if err := r.editor.SetSelection(mathdoc.Caret(mathdoc.NodeKey(key), offset, typ)); err != nil {
		r.fail(err)
		return
	}
	fmt.Printf("Selection: %s\n", mathdoc.SelectionType(r.editor.Selection()))
}

func (r *REPL) cmdTable(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: table <rows> <cols> [hrow] [hcol]")
		return
	}
	rows, err1 := strconv.Atoi(args[0])
	cols, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Println("Rows and columns must be numbers")
		return
	}
	var headers mathdoc.TableHeaders
	for _, a := range args[2:] {
		switch a {
		case "hrow":
			headers.Rows = true
		case "hcol":
			headers.Columns = true
		}
	}
	r.dispatch(mathdoc.Dispatch(r.editor, mathdoc.InsertTableCommand, mathdoc.InsertTablePayload{
		Rows:           rows,
		Columns:        cols,
		IncludeHeaders: headers,
	}))
}

func (r *REPL) cmdEdit(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: edit <key> <tex>")
		return
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid key: %v\n", err)
		return
	}
	v, ok := r.editor.MathView(mathdoc.NodeKey(key))
	if !ok {
		fmt.Printf("No equation with key %d\n", key)
		return
	}
	v.Activate()
	v.SetDraft(strings.Join(args[1:], " "))
	if err := v.KeyDown("Enter"); err != nil {
		r.fail(err)
		return
	}
	fmt.Println(okStyle.Render("ok"))
}

func (r *REPL) cmdClear() {
	err := mathdoc.ClearEditor(r.editor, func(prompt string) bool {
		confirmed := false
		form := huh.NewConfirm().
			Title(prompt).
			Affirmative("Clear").
			Negative("Cancel").
			Value(&confirmed)
		if err := form.Run(); err != nil {
			return false
		}
		return confirmed
	})
	if err != nil {
		fmt.Println(dimStyle.Render("clear cancelled"))
		return
	}
	fmt.Println(okStyle.Render("cleared"))
}

func (r *REPL) cmdRevisions() {
	current := uint64(0)
	revs := r.editor.Revisions()
	if len(revs) > 0 {
		current = uint64(revs[len(revs)-1].Revision)
	}
	fmt.Println("Revisions:")
	for _, info := range revs {
		marker := " "
		if uint64(info.Revision) == current {
			marker = "*"
		}
		name := info.Name
		if name == "" {
			name = "-"
		}
		fmt.Printf(" %s %3d  %-16s tags=%v\n", marker, info.Revision, name, info.Tags)
	}
}

func (r *REPL) cmdJSON() {
	data, err := r.editor.JSON()
	if err != nil {
		r.fail(err)
		return
	}
	fmt.Println(string(data))
}

func (r *REPL) cmdTree() {
	_ = r.editor.Read(func(tx *mathdoc.Txn) error {
		var walk func(key mathdoc.NodeKey, depth int)
		walk = func(key mathdoc.NodeKey, depth int) {
			n, ok := tx.Node(key)
			if !ok {
				return
			}
			fmt.Printf("%s[%d] %s%s\n", strings.Repeat("  ", depth), key, n.Type(), describe(n))
			for _, c := range tx.ChildNodes(key) {
				walk(c.Key(), depth+1)
			}
		}
		walk(mathdoc.RootKey, 0)
		return nil
	})
}

func describe(n mathdoc.Node) string {
	switch v := n.(type) {
	case *mathdoc.TextNode:
		return fmt.Sprintf(" %q format=%d", v.Text(), v.Format())
	case *mathdoc.MathNode:
		return fmt.Sprintf(" %q inline=%v", v.Equation(), v.Inline())
	case *mathdoc.TableCellNode:
		return fmt.Sprintf(" header=%d", v.HeaderState())
	case *mathdoc.ListNode:
		return fmt.Sprintf(" %s", v.ListType())
	}
	return ""
}

func (r *REPL) cmdStatus() {
	st := r.editor.StoreState()
	res := r.editor.LoadResult()
	fmt.Println("Editor Status:")
	fmt.Printf("  ID:          %s\n", r.editor.ID())
	fmt.Printf("  Loaded from: %s\n", res.Source)
	if len(res.Skipped) > 0 {
		fmt.Printf("  Skipped:     %v\n", res.Skipped)
	}
	fmt.Printf("  Can undo:    %v\n", r.toolbar.canUndo.Load())
	fmt.Printf("  Can redo:    %v\n", r.toolbar.canRedo.Load())
	fmt.Printf("  Selection:   %s\n", st.SelectionType)
	fmt.Printf("  In table:    %v\n", st.IsTableActive)
	if st.Content == nil {
		fmt.Println("  Content:     null")
	} else {
		fmt.Printf("  Content:     %d bytes\n", len(*st.Content))
	}
	fmt.Printf("  Store:       %v\n", r.editor.StoreStatus() == mathdoc.StoreStatusNormal)
}

func (r *REPL) cmdFlush() {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.editor.Flush(ctx); err != nil {
		r.fail(err)
		return
	}
	fmt.Println(okStyle.Render("flushed"))
}
