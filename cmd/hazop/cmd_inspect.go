package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hazop/internal/runlog"
	"hazop/internal/textenc"
	"hazop/internal/units"
)

var (
	unitsFrom      string
	validateStages []string
	logEvents      bool
	showPlain      bool
	showWidth      int
)

// stagesCmd lists the configured sequence
var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the configured stage sequence",
	Args:  cobra.NoArgs,
	RunE:  listStages,
}

// unitsCmd runs unit enumeration on an artifact
var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Enumerate the units found in the node-partitioning artifact",
	Long: `Runs unit enumeration on an artifact and prints the units found, with the
path that found them (structured payload or legacy headings).

By default the artifact of the configured source stage is read.`,
	Args: cobra.NoArgs,
	RunE: listUnits,
}

// validateCmd checks the configuration
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and an optional stage selection",
	Args:  cobra.NoArgs,
	RunE:  validateConfig,
}

// logCmd prints an execution log
var logCmd = &cobra.Command{
	Use:   "log [file]",
	Short: "Print a persisted execution log (latest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showLog,
}

// showCmd renders a stage artifact
var showCmd = &cobra.Command{
	Use:   "show [stage]",
	Short: "Render a stage's aggregate (or output) artifact",
	Long: `Renders the artifact of a stage in the terminal as markdown.
Per-node stages show their aggregate artifact; other stages show their output.

Example:
  hazop show agent5`,
	Args: cobra.ExactArgs(1),
	RunE: showArtifact,
}

func init() {
	unitsCmd.Flags().StringVar(&unitsFrom, "from", "", "Artifact to enumerate (default: source stage output)")
	validateCmd.Flags().StringSliceVarP(&validateStages, "stages", "s", nil, "Stage selection to check")
	logCmd.Flags().BoolVar(&logEvents, "events", false, "Print every recorded attempt")
	showCmd.Flags().BoolVar(&showPlain, "plain", false, "Print the artifact without rendering")
	showCmd.Flags().IntVar(&showWidth, "width", 100, "Word wrap width")
}

func listStages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t := newStyles(plainOutput()).Table("#", "ID", "KIND", "TIMEOUT", "OUTPUT", "COMMAND")
	for _, s := range cfg.Ordered() {
		kind := "optional"
		switch {
		case s.FanOut:
			kind = "per-unit"
		case s.Mandatory:
			kind = "mandatory"
		}
		output := s.Output
		if s.FanOut {
			output += " -> " + s.AggregateName()
		}
		t.Row(fmt.Sprint(s.Ordinal), s.ID, kind, s.GetTimeout(cfg.GetDefaultTimeout()).String(), output, strings.Join(s.Command, " "))
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return err
}

func listUnits(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := unitsFrom
	if path == "" {
		src, ok := cfg.SourceStage()
		if !ok {
			return fmt.Errorf("no source stage %q configured", cfg.Units.SourceStage)
		}
		path = cfg.OutputPath(src.Output)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	enum := units.NewEnumerator(cfg.Units)
	res, err := enum.Enumerate(textenc.Decode(data))
	stats := enum.Stats()
	logger.Debug("Unit extraction",
		zap.String("path", path),
		zap.Int("processed", stats.TotalProcessed),
		zap.Int("failures", stats.Failures),
		zap.Any("by_method", stats.ByMethod))
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	out := cmd.OutOrStdout()
	how := string(res.Source)
	if res.Method != "" {
		how += " via " + string(res.Method)
	}
	fmt.Fprintf(out, "%d units in %s (%s)\n", len(res.Units), path, how)
	t := newStyles(plainOutput()).Table("ID", "NAME")
	for _, u := range res.Units {
		t.Row(fmt.Sprint(u.ID), u.Name)
	}
	_, err = fmt.Fprintln(out, t.Render())
	return err
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	selected, err := cfg.Select(validateStages)
	if err != nil {
		return err
	}

	ids := make([]string, len(selected))
	for i, s := range selected {
		ids[i] = s.ID
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d stages, selection: %s\n", len(cfg.Stages), strings.Join(ids, ", "))
	return nil
}

func showLog(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err = runlog.Latest(cfg.GetLogDir())
		if err != nil {
			return err
		}
	}

	rec, err := runlog.Load(path)
	if err != nil {
		return err
	}

	st := newStyles(plainOutput())
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderRecord(st, rec, path))
	if !logEvents {
		return nil
	}

	if len(rec.Events) == 0 {
		return nil
	}
	t := st.Table("TIME", "STAGE", "UNIT", "STATUS", "ELAPSED", "MESSAGE")
	for _, ev := range rec.Events {
		unit := "-"
		if ev.Unit != nil {
			unit = ev.Unit.String()
		}
		t.Row(ev.Timestamp.Format("15:04:05"), ev.Stage, unit, st.Status(ev.Status),
			fmt.Sprintf("%.1fs", ev.ElapsedSeconds), ev.Message)
	}
	_, err = fmt.Fprintln(out, t.Render())
	return err
}

func showArtifact(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	def, ok := cfg.StageByID(args[0])
	if !ok {
		return fmt.Errorf("unknown stage %q", args[0])
	}

	name := def.Output
	if def.FanOut {
		name = def.AggregateName()
	}
	if name == "" {
		return fmt.Errorf("stage %s declares no artifact", def.ID)
	}
	path := cfg.OutputPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := textenc.Decode(data)
	if strings.ContainsRune(text, 0) {
		return fmt.Errorf("%s is not a text artifact", name)
	}

	out := cmd.OutOrStdout()
	if showPlain || plainOutput() {
		_, err := fmt.Fprintln(out, text)
		return err
	}

	style := "light"
	if darkBackground() {
		style = "dark"
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(showWidth),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	rendered, err := renderer.Render(fmt.Sprintf("# %s: %s\n\n%s", def.ID, name, text))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
