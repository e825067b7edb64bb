// Command mounttree prints the equipment tree of a configuration from a
// scenario file, optionally stepping through every change on its timeline
// or checking whether a piece of equipment may be unmounted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"github.com/signalsfoundry/equipment-mounts/internal/state"
	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/scenario"
	"github.com/signalsfoundry/equipment-mounts/timectrl"
	"github.com/signalsfoundry/equipment-mounts/tree"
	"github.com/signalsfoundry/equipment-mounts/validation"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "mounttree: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mounttree", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	scenarioPath := fs.String("scenario", "", "YAML or JSON scenario file (required)")
	configID := fs.String("config", "", "configuration ID; defaults to the only configuration in the scenario")
	atFlag := fs.String("at", "", "reference date (defaults to now)")
	walk := fs.Bool("walk", false, "print the tree at every timepoint from -at onwards")
	unmountID := fs.String("unmount", "", "equipment ID to check for unmounting at -at")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenarioPath == "" {
		return errors.New("-scenario is required")
	}

	store := kb.NewKnowledgeBase()
	f, err := os.Open(*scenarioPath)
	if err != nil {
		return err
	}
	sc, err := scenario.Load(store, f)
	f.Close()
	if err != nil {
		return err
	}

	if *configID == "" {
		if len(sc.ConfigurationIDs) != 1 {
			return fmt.Errorf("scenario has %d configurations, pick one with -config", len(sc.ConfigurationIDs))
		}
		*configID = sc.ConfigurationIDs[0]
	}

	var clock timectrl.Clock = timectrl.SystemClock{}
	if *atFlag != "" {
		at, err := scenario.ParseDate(*atFlag)
		if err != nil {
			return fmt.Errorf("-at: %w", err)
		}
		clock = timectrl.NewFixedClock(at)
	}

	st := state.NewConfigurationState(store,
		state.WithClock(clock),
		state.WithLogger(logging.NewFromEnv()),
	)
	defer st.Close()

	p := &printer{out: out, state: st, configID: *configID}

	switch {
	case *unmountID != "":
		return p.unmount(ctx, *unmountID, clock.Now())
	case *walk:
		return p.walk(ctx)
	default:
		return p.tree(ctx, clock.Now())
	}
}

type printer struct {
	out      io.Writer
	state    *state.ConfigurationState
	configID string
}

func (p *printer) tree(ctx context.Context, at time.Time) error {
	cfg, err := p.state.Configuration(p.configID)
	if err != nil {
		return err
	}
	snap, err := p.state.Snapshot(ctx, p.configID, at)
	if err != nil {
		return err
	}

	fmt.Fprintf(p.out, "%s at %s\n", cfg.Label, at.UTC().Format(validation.DisplayLayout))
	v := validation.NewMountValidator(snap)
	snap.Walk(func(n, _ *tree.Node) bool {
		depth := len(snap.Parents(n))
		fmt.Fprintf(p.out, "%s- %s [%s] %s\n", strings.Repeat("  ", depth+1), n.Label(), n.Kind(), span(n))
		for _, c := range []*validation.Conflict{v.NodeIsWithinParentRange(n), v.NodeChildrenAreWithinRange(n)} {
			if c != nil {
				fmt.Fprintf(p.out, "%s  ! %s\n", strings.Repeat("  ", depth+1), validation.BuildErrorMessage(c))
			}
		}
		return true
	})

	static, dynamic, err := p.state.ActiveLocations(ctx, p.configID, at)
	if err != nil {
		return err
	}
	for _, l := range static {
		fmt.Fprintf(p.out, "  @ static location %s (%g, %g, %g)\n", l.Label, l.X, l.Y, l.Z)
	}
	for _, l := range dynamic {
		fmt.Fprintf(p.out, "  @ dynamic location %s from %s\n", l.Label, strings.Join(l.PropertyIDs(), ", "))
	}
	return nil
}

func (p *printer) walk(ctx context.Context) error {
	cursor, err := p.state.Cursor(ctx, p.configID)
	if err != nil {
		return err
	}
	tp, ok := cursor.Current()
	if !ok {
		fmt.Fprintln(p.out, "no timepoints")
		return nil
	}

	var walkErr error
	show := func(tp timectrl.Timepoint) {
		if walkErr != nil {
			return
		}
		fmt.Fprintf(p.out, "== %s %s %s\n", tp.At.UTC().Format(validation.DisplayLayout), tp.Kind, tp.Label)
		walkErr = p.tree(ctx, tp.At)
	}
	cursor.AddListener(show)

	show(tp)
	for cursor.Next() {
	}
	return walkErr
}

func (p *printer) unmount(ctx context.Context, equipmentID string, at time.Time) error {
	report, err := p.state.ValidateUnmount(ctx, p.configID, equipmentID, at)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "unmount %s at %s: %s\n", strings.Join(report.Tree.Path(report.Node), " / "),
		at.UTC().Format(validation.DisplayLayout), verdictWord(report.OK()))
	for _, v := range report.Verdicts {
		line := fmt.Sprintf("  %s: %s", v.Node.Label(), verdictWord(v.OK()))
		if !v.OK() {
			line += " (" + v.Reason.String() + ")"
		}
		fmt.Fprintln(p.out, line)
	}
	if report.EndDateToOverwrite != nil {
		fmt.Fprintf(p.out, "  replaces recorded end date %s\n", report.EndDateToOverwrite.UTC().Format(validation.DisplayLayout))
	}
	return nil
}

func span(n *tree.Node) string {
	m := n.Unpack()
	if m == nil {
		return ""
	}
	end := "open"
	if e := m.Base().EndDate; e != nil {
		end = e.UTC().Format(validation.DisplayLayout)
	}
	return m.Base().BeginDate.UTC().Format(validation.DisplayLayout) + " .. " + end
}

func verdictWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "blocked"
}
