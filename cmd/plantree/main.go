package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/smileynet/plantree"
	"github.com/smileynet/plantree/internal/config"
	"github.com/smileynet/plantree/internal/dashboard"
	"github.com/smileynet/plantree/internal/logging"
	"github.com/smileynet/plantree/internal/nitrate"
	"github.com/smileynet/plantree/internal/plan"
	"github.com/smileynet/plantree/internal/state"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes.
const (
	exitSuccess = 0
	exitUser    = 1
	exitSetup   = 2
)

var (
	errCancelled    = errors.New("cancelled")
	errBatchFailed  = errors.New("some updates failed")
	errNoTerminal   = errors.New("confirmation needs a terminal; pass --yes to skip it")
	errConfigExists = errors.New("config already exists; pass --force to overwrite")
)

// Globals are flags shared by every command.
type Globals struct {
	Server  string `help:"Nitrate base URL, overriding config." placeholder:"URL"`
	Config  string `help:"Extra config file applied after the user and project files." type:"path"`
	Verbose bool   `help:"Log at debug level." short:"v"`
}

// CLI is the top-level command structure for plantree.
type CLI struct {
	Globals

	Version     kong.VersionFlag `help:"Show version." short:"V"`
	Tree        TreeCmd          `cmd:"" help:"Show the plan tree around a plan (interactive on a terminal)."`
	Show        ShowCmd          `cmd:"" help:"Print one plan."`
	Ancestors   AncestorsCmd     `cmd:"" help:"List every plan above a plan."`
	Descendants DescendantsCmd   `cmd:"" help:"List the plans below a plan."`
	AddChild    AddChildCmd      `cmd:"" help:"Make plans children of a plan."`
	RemoveChild RemoveChildCmd   `cmd:"" help:"Detach child plans from a plan."`
	SetParent   SetParentCmd     `cmd:"" help:"Move a plan under a new parent."`
	Init        InitCmd          `cmd:"" help:"Write a default .plantree/config.yaml."`
}

// env holds the dependencies a command runs against.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	src      plan.Source
	tree     *plan.Tree
	sessions *state.FileStore // nil when there is nowhere to keep sessions
}

// loadConfig loads layered config from user, project and --config paths,
// then env and flag overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadLayered(config.UserPath(), config.ProjectPath, g.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if g.Server != "" {
		cfg.Server.URL = g.Server
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup builds the env for a command. quiet discards logs unless a log file
// is configured, so the full-screen TUI is not overdrawn.
func (g *Globals) setup(quiet bool) (*env, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Verbose: g.Verbose,
		Quiet:   quiet,
	})
	if err != nil {
		return nil, err
	}
	e, err := newEnv(cfg, log)
	if err != nil {
		return nil, err
	}
	if dir := state.DefaultDir(); dir != "" {
		e.sessions = state.NewFileStore(dir)
	}
	return e, nil
}

func newEnv(cfg *config.Config, log *zap.Logger) (*env, error) {
	client, err := nitrate.NewClient(cfg.Server.URL,
		nitrate.WithTimeout(cfg.Server.Timeout),
		nitrate.WithLogger(log.Named("nitrate")),
	)
	if err != nil {
		return nil, err
	}
	src := &nitrateSource{client: client}
	tree := plan.New(src,
		plan.WithLogger(log.Named("plan")),
		plan.WithConcurrency(cfg.Tree.ExpandConcurrency),
	)
	return &env{cfg: cfg, log: log, src: src, tree: tree}, nil
}

func (e *env) close() {
	_ = e.log.Sync()
}

// remember records id as the last plan opened against the configured server.
func (e *env) remember(id int) {
	if e.sessions == nil || id <= 0 {
		return
	}
	if err := e.sessions.Save(state.Session{Server: e.cfg.Server.URL, PlanID: id}); err != nil {
		e.log.Warn("saving session", zap.Error(err))
	}
}

// lastPlan returns the plan last opened against the configured server.
func (e *env) lastPlan() (int, bool) {
	if e.sessions == nil {
		return 0, false
	}
	sess, ok, err := e.sessions.Load(e.cfg.Server.URL)
	if err != nil {
		e.log.Warn("reading session", zap.Error(err))
		return 0, false
	}
	return sess.PlanID, ok
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// --- tree ---

// TreeCmd shows the neighbourhood of a plan.
type TreeCmd struct {
	PlanID    int  `arg:"" optional:"" name:"plan" help:"Plan ID; defaults to the last plan opened."`
	Plain     bool `help:"Print the tree even when stdout is a terminal."`
	ExpandAll bool `help:"Load every plan below the root before printing." short:"e"`
}

// teaRunner abstracts Bubble Tea program execution for testing.
type teaRunner interface {
	Run() (tea.Model, error)
}

// Run opens the dashboard on a terminal and prints the tree otherwise.
func (t *TreeCmd) Run(g *Globals) error {
	interactive := !t.Plain && isTerminal(os.Stdout)
	e, err := g.setup(interactive)
	if err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	defer e.close()

	ctx, stop := signalContext()
	defer stop()

	if interactive {
		id, err := t.planID(e)
		if err != nil {
			return err
		}
		m := dashboard.NewModel(e.tree, id,
			dashboard.WithContext(ctx),
			dashboard.WithLogger(e.log.Named("dashboard")),
			dashboard.WithExpandDepth(e.cfg.Tree.ExpandDepth),
		)
		return t.runTUI(e, tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)))
	}
	return t.run(ctx, os.Stdout, e)
}

// planID resolves the plan argument, falling back to the last session.
func (t *TreeCmd) planID(e *env) (int, error) {
	if t.PlanID != 0 {
		return t.PlanID, nil
	}
	if id, ok := e.lastPlan(); ok {
		return id, nil
	}
	return 0, fmt.Errorf("tree: %w", &plan.ValidationError{Reason: "no plan given and none opened before"})
}

// runTUI executes the tea program and remembers the plan it ended on.
func (t *TreeCmd) runTUI(e *env, prog teaRunner) error {
	final, err := prog.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tree: %w", err)
	}
	if m, ok := final.(dashboard.Model); ok && m.Loaded() {
		e.remember(m.PlanID())
	}
	return nil
}

func (t *TreeCmd) run(ctx context.Context, w io.Writer, e *env) error {
	id, err := t.planID(e)
	if err != nil {
		return err
	}
	if err := e.tree.Init(ctx, id); err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	e.remember(id)
	if t.ExpandAll {
		if err := e.tree.ExpandAll(ctx, e.tree.RootID(), e.cfg.Tree.ExpandDepth); err != nil {
			return fmt.Errorf("tree: %w", err)
		}
	}
	root, ok := e.tree.Snapshot()
	if !ok {
		return fmt.Errorf("tree: %w", plan.ErrNoTree)
	}
	for _, line := range dashboard.PlainTree(root) {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

// --- show ---

// ShowCmd prints the fields of one plan.
type ShowCmd struct {
	PlanID int `arg:"" name:"plan" help:"Plan ID."`
}

// Run executes the show command.
func (s *ShowCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}
	defer e.close()
	ctx, stop := signalContext()
	defer stop()
	return s.run(ctx, os.Stdout, e)
}

func (s *ShowCmd) run(ctx context.Context, w io.Writer, e *env) error {
	records, err := e.tree.Preview(ctx, []int{s.PlanID})
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}
	r := records[0]
	status := "active"
	if !r.Active {
		status = "inactive"
	}
	parent := "none"
	if r.HasParent() {
		parent = fmt.Sprint(r.ParentID)
	}
	_, _ = fmt.Fprintf(w, "Plan %d: %s\n", r.ID, r.Name)
	_, _ = fmt.Fprintf(w, "  Status:   %s\n", status)
	if r.URL != "" {
		_, _ = fmt.Fprintf(w, "  URL:      %s\n", r.URL)
	}
	_, _ = fmt.Fprintf(w, "  Parent:   %s\n", parent)
	_, _ = fmt.Fprintf(w, "  Children: %d\n", r.NumChildren)
	_, _ = fmt.Fprintf(w, "  Cases:    %d\n", r.NumCases)
	_, _ = fmt.Fprintf(w, "  Runs:     %d\n", r.NumRuns)
	return nil
}

// --- ancestors / descendants ---

// AncestorsCmd lists every plan above a plan, walking parents on the server.
type AncestorsCmd struct {
	PlanID int `arg:"" name:"plan" help:"Plan ID."`
}

// Run executes the ancestors command.
func (a *AncestorsCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("ancestors: %w", err)
	}
	defer e.close()
	ctx, stop := signalContext()
	defer stop()
	return a.run(ctx, os.Stdout, e)
}

func (a *AncestorsCmd) run(ctx context.Context, w io.Writer, e *env) error {
	records, edges, err := loadAncestry(ctx, e.src, a.PlanID, e.log)
	if err != nil {
		return fmt.Errorf("ancestors: %w", err)
	}
	h := plan.NewHierarchy(edges, a.PlanID)
	printIDs(w, h.Ancestors(), records)
	return nil
}

// loadAncestry fetches id and each parent above it. A parent that does not
// exist ends the walk as a root; a parent seen twice ends it as a loop.
func loadAncestry(ctx context.Context, src plan.Source, id int, log *zap.Logger) (map[int]plan.Record, []plan.Edge, error) {
	if id <= 0 {
		return nil, nil, &plan.ValidationError{Token: fmt.Sprint(id), Reason: "is not a plan id"}
	}
	records := make(map[int]plan.Record)
	var edges []plan.Edge
	for next := id; next > 0; {
		if _, seen := records[next]; seen {
			log.Warn("parent loop", zap.Int("plan", next))
			break
		}
		r, err := src.Plan(ctx, next)
		if err != nil {
			if next != id && errors.Is(err, plan.ErrNotFound) {
				edges[len(edges)-1].ParentID = 0
				break
			}
			return nil, nil, err
		}
		records[r.ID] = r
		edges = append(edges, plan.Edge{ID: r.ID, ParentID: r.ParentID})
		next = r.ParentID
	}
	return records, edges, nil
}

// DescendantsCmd lists the plans below a plan.
type DescendantsCmd struct {
	PlanID int  `arg:"" name:"plan" help:"Plan ID."`
	Direct bool `help:"Only list direct children."`
	Depth  int  `help:"Levels to load below the plan; 0 uses tree.expand_depth from config." default:"0"`
}

// Run executes the descendants command.
func (d *DescendantsCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("descendants: %w", err)
	}
	defer e.close()
	ctx, stop := signalContext()
	defer stop()
	return d.run(ctx, os.Stdout, e)
}

func (d *DescendantsCmd) run(ctx context.Context, w io.Writer, e *env) error {
	if err := e.tree.Init(ctx, d.PlanID); err != nil {
		return fmt.Errorf("descendants: %w", err)
	}
	if !d.Direct {
		depth := d.Depth
		if depth == 0 {
			depth = e.cfg.Tree.ExpandDepth
		}
		if err := e.tree.ExpandAll(ctx, d.PlanID, depth); err != nil {
			return fmt.Errorf("descendants: %w", err)
		}
	}
	h, err := e.tree.Hierarchy()
	if err != nil {
		return fmt.Errorf("descendants: %w", err)
	}
	printIDs(w, h.Descendants(d.Direct), recordsByID(e.tree.Records()))
	return nil
}

func recordsByID(records []plan.Record) map[int]plan.Record {
	out := make(map[int]plan.Record, len(records))
	for _, r := range records {
		out[r.ID] = r
	}
	return out
}

func printIDs(w io.Writer, ids []int, records map[int]plan.Record) {
	for _, id := range ids {
		if r, ok := records[id]; ok {
			_, _ = fmt.Fprintf(w, "%d %s\n", id, r.Name)
		} else {
			_, _ = fmt.Fprintf(w, "%d\n", id)
		}
	}
}

// --- edits ---

// confirmFunc asks the user to approve an edit.
type confirmFunc func(title, description string) (bool, error)

// confirmer returns the approval step for an edit command.
func confirmer(yes bool) confirmFunc {
	switch {
	case yes:
		return func(string, string) (bool, error) { return true, nil }
	case !isTerminal(os.Stdin):
		return func(string, string) (bool, error) { return false, errNoTerminal }
	default:
		return huhConfirm
	}
}

func huhConfirm(title, description string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

// EditFlags are shared by the commands that change the hierarchy.
type EditFlags struct {
	Yes bool `help:"Skip the confirmation prompt." short:"y"`
}

// AddChildCmd makes plans children of a plan.
type AddChildCmd struct {
	PlanID   int      `arg:"" name:"plan" help:"Parent plan ID."`
	ChildIDs []string `arg:"" name:"child" help:"Child plan IDs, space or comma separated."`
	EditFlags `embed:""`
}

// Run executes the add-child command.
func (a *AddChildCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("add-child: %w", err)
	}
	defer e.close()
	ctx, stop := signalContext()
	defer stop()
	return a.run(ctx, os.Stdout, e, confirmer(a.Yes))
}

func (a *AddChildCmd) run(ctx context.Context, w io.Writer, e *env, confirm confirmFunc) error {
	if err := e.tree.Init(ctx, a.PlanID); err != nil {
		return fmt.Errorf("add-child: %w", err)
	}
	ids, err := e.tree.ValidateAddChildren(a.PlanID, strings.Join(a.ChildIDs, ","))
	if err != nil {
		return fmt.Errorf("add-child: %w", err)
	}
	title := fmt.Sprintf("Add %d %s as children of %d?", len(ids), plural(len(ids)), a.PlanID)
	if err := previewAndConfirm(ctx, w, e, ids, title, confirm); err != nil {
		return fmt.Errorf("add-child: %w", err)
	}
	b, err := e.tree.AddChildren(ctx, a.PlanID, ids)
	if err != nil {
		return fmt.Errorf("add-child: %w", err)
	}
	return reportBatch(w, "add-child", b)
}

// RemoveChildCmd detaches child plans from a plan.
type RemoveChildCmd struct {
	PlanID   int      `arg:"" name:"plan" help:"Parent plan ID."`
	ChildIDs []string `arg:"" name:"child" help:"Child plan IDs, space or comma separated."`
	EditFlags `embed:""`
}

// Run executes the remove-child command.
func (r *RemoveChildCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("remove-child: %w", err)
	}
	defer e.close()
	ctx, stop := signalContext()
	defer stop()
	return r.run(ctx, os.Stdout, e, confirmer(r.Yes))
}

func (r *RemoveChildCmd) run(ctx context.Context, w io.Writer, e *env, confirm confirmFunc) error {
	if err := e.tree.Init(ctx, r.PlanID); err != nil {
		return fmt.Errorf("remove-child: %w", err)
	}
	if !e.tree.CanRemoveChildren(r.PlanID) {
		return fmt.Errorf("remove-child: %w", &plan.ValidationError{
			Token:  fmt.Sprint(r.PlanID),
			Reason: "has no child plans",
		})
	}
	ids, err := e.tree.ValidateRemoveChildren(r.PlanID, strings.Join(r.ChildIDs, ","))
	if err != nil {
		return fmt.Errorf("remove-child: %w", err)
	}
	title := fmt.Sprintf("Remove %d %s from the children of %d?", len(ids), plural(len(ids)), r.PlanID)
	if err := previewAndConfirm(ctx, w, e, ids, title, confirm); err != nil {
		return fmt.Errorf("remove-child: %w", err)
	}
	b, err := e.tree.RemoveChildren(ctx, r.PlanID, ids)
	if err != nil {
		return fmt.Errorf("remove-child: %w", err)
	}
	return reportBatch(w, "remove-child", b)
}

// SetParentCmd moves a plan under a new parent.
type SetParentCmd struct {
	PlanID int    `arg:"" name:"plan" help:"Plan ID to move."`
	Parent string `arg:"" name:"parent" help:"New parent plan ID."`
	EditFlags `embed:""`
}

// Run executes the set-parent command.
func (s *SetParentCmd) Run(g *Globals) error {
	e, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("set-parent: %w", err)
	}
	defer e.close()
	ctx, stop := signalContext()
	defer stop()
	return s.run(ctx, os.Stdout, e, confirmer(s.Yes))
}

func (s *SetParentCmd) run(ctx context.Context, w io.Writer, e *env, confirm confirmFunc) error {
	if err := e.tree.Init(ctx, s.PlanID); err != nil {
		return fmt.Errorf("set-parent: %w", err)
	}
	// The descendant check only sees loaded plans.
	if err := e.tree.ExpandAll(ctx, s.PlanID, e.cfg.Tree.ExpandDepth); err != nil {
		return fmt.Errorf("set-parent: %w", err)
	}
	parent, err := e.tree.ValidateChangeParent(s.PlanID, s.Parent)
	if err != nil {
		return fmt.Errorf("set-parent: %w", err)
	}
	title := fmt.Sprintf("Move plan %d under plan %d?", s.PlanID, parent)
	if err := previewAndConfirm(ctx, w, e, []int{parent}, title, confirm); err != nil {
		return fmt.Errorf("set-parent: %w", err)
	}
	err = e.tree.ChangeParent(ctx, s.PlanID, parent)
	if plan.IsInformational(err) {
		_, _ = fmt.Fprintln(w, "Nothing changed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("set-parent: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Plan %d is now under plan %d\n", s.PlanID, parent)
	return nil
}

// previewAndConfirm lists the plans an edit touches and asks for approval.
func previewAndConfirm(ctx context.Context, w io.Writer, e *env, ids []int, title string, confirm confirmFunc) error {
	records, err := e.tree.Preview(ctx, ids)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, title)
	for _, r := range records {
		if r.HasParent() {
			_, _ = fmt.Fprintf(w, "  %d %s (parent %d)\n", r.ID, r.Name, r.ParentID)
		} else {
			_, _ = fmt.Fprintf(w, "  %d %s\n", r.ID, r.Name)
		}
	}
	ok, err := confirm(title, dashboard.OverwriteWarning)
	if err != nil {
		return err
	}
	if !ok {
		return errCancelled
	}
	return nil
}

// reportBatch prints one line per candidate and fails when any update did.
func reportBatch(w io.Writer, cmd string, b plan.Batch) error {
	for _, r := range b.Results {
		if r.Outcome == plan.Failed {
			_, _ = fmt.Fprintf(w, "%d %s: %v\n", r.ID, r.Outcome, r.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d %s\n", r.ID, r.Outcome)
	}
	if b.RefreshErr != nil {
		_, _ = fmt.Fprintf(w, "warning: could not re-read children: %v\n", b.RefreshErr)
	}
	if err := b.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", cmd, errBatchFailed, err)
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return "plan"
	}
	return "plans"
}

// --- init ---

// InitCmd writes the default project config.
type InitCmd struct {
	Force bool `help:"Overwrite an existing config."`
}

// Run executes the init command in the working directory.
func (i *InitCmd) Run() error {
	return i.run(os.Stdout, ".")
}

func (i *InitCmd) run(w io.Writer, dir string) error {
	path := filepath.Join(dir, config.ProjectPath)
	if _, err := os.Stat(path); err == nil && !i.Force {
		return fmt.Errorf("init: %s: %w", path, errConfigExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := os.WriteFile(path, plantree.ConfigTemplate, 0o644); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Wrote %s\n", path)
	return nil
}

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, plan.ErrNotFound),
		errors.Is(err, plan.ErrValidation),
		errors.Is(err, plan.ErrCycle),
		errors.Is(err, plan.ErrConflict),
		errors.Is(err, errCancelled),
		errors.Is(err, errBatchFailed),
		errors.Is(err, errNoTerminal),
		errors.Is(err, errConfigExists):
		return exitUser
	default:
		return exitSetup
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("plantree"),
		kong.Description("Browse and edit the Nitrate test plan hierarchy."),
		kong.UsageOnError(),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	err := ctx.Run(&cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
