package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/spf13/cobra"

	"setforge/internal/config"
	"setforge/internal/pipeline"
	"setforge/internal/watch"
)

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the desktop window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		g, err := NewGUI(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer g.env.close()
		g.Run()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(guiCmd)
}

// UI-safe helpers; fyne 2.4 allows widget updates from any goroutine.
func (g *GUI) onMain(fn func()) {
	fn()
}

func (g *GUI) setLabel(l *widget.Label, text string) {
	g.onMain(func() { l.SetText(text) })
}

func (g *GUI) setLogText(text string) {
	g.onMain(func() {
		if g.logText != nil {
			g.logText.SetText(text)
		}
	})
}

func (g *GUI) enableButtons(bs ...*widget.Button) {
	g.onMain(func() {
		for _, b := range bs {
			b.Enable()
		}
	})
}

func (g *GUI) disableButtons(bs ...*widget.Button) {
	g.onMain(func() {
		for _, b := range bs {
			b.Disable()
		}
	})
}

type GUI struct {
	app        fyne.App
	mainWindow fyne.Window
	ctx        context.Context
	env        *env
	runner     *pipeline.Runner

	symbolEntry    *widget.Entry
	timeframeEntry *widget.Select
	isStartEntry   *widget.Entry
	isEndEntry     *widget.Entry
	oosEndEntry    *widget.Entry

	thresholdEntries map[string]*widget.Entry

	convertButton *widget.Button
	runButton     *widget.Button
	extractButton *widget.Button
	reviewButton  *widget.Button
	watchButton   *widget.Button
	stopButton    *widget.Button

	summaryLabel     *widget.Label
	folderStatsLabel *widget.Label
	logText          *widget.TextGrid

	logMu     sync.Mutex
	logBuffer string

	stopWatch context.CancelFunc
}

// logWriter feeds plain log lines into the activity log.
type logWriter struct{ g *GUI }

func (w logWriter) Write(p []byte) (int, error) {
	w.g.appendLog(string(p))
	return len(p), nil
}

func NewGUI(ctx context.Context, cfg *config.Config) (*GUI, error) {
	g := &GUI{app: app.New(), ctx: ctx, thresholdEntries: make(map[string]*widget.Entry)}
	e, err := newEnv(ctx, cfg, "gui", logWriter{g})
	if err != nil {
		return nil, err
	}
	g.env = e
	g.runner = pipeline.NewRunner(e.pipeline)
	g.mainWindow = g.app.NewWindow("setforge")
	g.mainWindow.Resize(fyne.NewSize(560, 860))
	g.mainWindow.CenterOnScreen()
	g.buildUI()
	return g, nil
}

func (g *GUI) buildUI() {
	content := container.NewVBox(
		g.pathsSection(),
		widget.NewSeparator(),
		g.metadataSection(),
		widget.NewSeparator(),
		g.thresholdSection(),
		widget.NewSeparator(),
		g.actionSection(),
		widget.NewSeparator(),
		g.folderManagementSection(),
		widget.NewSeparator(),
		g.logSection(),
	)
	g.mainWindow.SetContent(container.NewVScroll(content))

	go g.updateFolderStats()
}

func sectionTitle(text string) *widget.Label {
	title := widget.NewLabel(text)
	title.TextStyle = fyne.TextStyle{Bold: true}
	return title
}

func (g *GUI) pathsSection() fyne.CanvasObject {
	p := g.env.cfg.Paths
	grid := container.NewGridWithColumns(2,
		widget.NewLabel("Base:"), widget.NewLabel(p.Base),
		widget.NewLabel("Template:"), widget.NewLabel(p.Template),
		widget.NewLabel("Setfiles:"), widget.NewLabel(p.Setfiles),
		widget.NewLabel("Terminal:"), widget.NewLabel(p.TerminalSetfiles),
	)
	return container.NewVBox(sectionTitle("Folders"), container.NewPadded(grid))
}

func (g *GUI) metadataSection() fyne.CanvasObject {
	m := g.env.cfg.Metadata
	entry := func(value, placeholder string) *widget.Entry {
		e := widget.NewEntry()
		e.SetPlaceHolder(placeholder)
		e.SetText(value)
		return e
	}
	g.symbolEntry = entry(m.Symbol, "EURUSD")
	g.isStartEntry = entry(m.ISStart, "YYYY-MM-DD")
	g.isEndEntry = entry(m.ISEnd, "YYYY-MM-DD")
	g.oosEndEntry = entry(m.OOSEnd, "YYYY-MM-DD")
	g.timeframeEntry = widget.NewSelect(pipeline.Timeframes, nil)
	if m.Timeframe != "" {
		g.timeframeEntry.SetSelected(strings.ToUpper(m.Timeframe))
	}

	grid := container.NewGridWithColumns(2,
		widget.NewLabel("Symbol:"), g.symbolEntry,
		widget.NewLabel("Timeframe:"), g.timeframeEntry,
		widget.NewLabel("In-sample start:"), g.isStartEntry,
		widget.NewLabel("In-sample end:"), g.isEndEntry,
		widget.NewLabel("Out-of-sample end:"), g.oosEndEntry,
	)
	return container.NewVBox(sectionTitle("Optimization Run"), container.NewPadded(grid))
}

func (g *GUI) thresholdSection() fyne.CanvasObject {
	grid := container.NewGridWithColumns(2)
	for _, t := range g.env.cfg.ThresholdSpec() {
		if _, seen := g.thresholdEntries[t.Metric]; seen {
			continue
		}
		e := widget.NewEntry()
		e.SetText(strconv.FormatFloat(t.Value, 'f', -1, 64))
		g.thresholdEntries[t.Metric] = e
		grid.Add(widget.NewLabel(fmt.Sprintf("%s %s", t.Metric, t.Op)))
		grid.Add(e)
	}
	return container.NewVBox(sectionTitle("Thresholds"), container.NewPadded(grid))
}

func (g *GUI) actionSection() fyne.CanvasObject {
	g.convertButton = widget.NewButton("Convert", g.onConvert)
	g.runButton = widget.NewButton("Run", g.onRun)
	g.extractButton = widget.NewButton("Extract HTML", g.onExtract)
	g.reviewButton = widget.NewButton("Review", g.onReview)
	g.watchButton = widget.NewButton("Start Watching", g.onStartWatch)
	g.stopButton = widget.NewButton("Stop Watching", g.onStopWatch)
	g.stopButton.Disable()
	g.summaryLabel = widget.NewLabel("No run yet")
	g.summaryLabel.Wrapping = fyne.TextWrapWord

	return container.NewVBox(
		sectionTitle("Pipeline"),
		container.NewPadded(container.NewHBox(g.convertButton, g.runButton, g.extractButton, g.reviewButton)),
		container.NewPadded(container.NewHBox(g.watchButton, g.stopButton)),
		container.NewPadded(g.summaryLabel),
	)
}

func (g *GUI) folderManagementSection() fyne.CanvasObject {
	g.folderStatsLabel = widget.NewLabel("Loading folder statistics...")
	refreshBtn := widget.NewButton("Refresh", func() { go g.updateFolderStats() })
	return container.NewVBox(
		sectionTitle("Folder Status"),
		container.NewPadded(g.folderStatsLabel),
		container.NewPadded(refreshBtn),
	)
}

func (g *GUI) logSection() fyne.CanvasObject {
	g.logText = widget.NewTextGrid()
	scroll := container.NewScroll(g.logText)
	scroll.SetMinSize(fyne.NewSize(0, 300))
	clearBtn := widget.NewButton("Clear Activity Log", func() {
		g.logMu.Lock()
		g.logBuffer = ""
		g.logMu.Unlock()
		g.setLogText("")
	})
	return container.NewVBox(
		sectionTitle("Activity Log"),
		container.NewPadded(scroll),
		container.NewPadded(clearBtn),
	)
}

// snapshot copies the config and applies the form to the copy. The shared
// config is never written, so a stage in flight keeps the values it started
// with.
func (g *GUI) snapshot() (*config.Config, error) {
	cfg := g.env.cfg.Clone()
	for metric, e := range g.thresholdEntries {
		v, err := strconv.ParseFloat(strings.TrimSpace(e.Text), 64)
		if err != nil {
			return nil, fmt.Errorf("threshold %s: %q is not a number", metric, e.Text)
		}
		cfg.SetThreshold(metric, v)
	}
	cfg.Metadata = config.MetadataConfig{
		Symbol:    g.symbolEntry.Text,
		Timeframe: g.timeframeEntry.Selected,
		ISStart:   g.isStartEntry.Text,
		ISEnd:     g.isEndEntry.Text,
		OOSEnd:    g.oosEndEntry.Text,
	}
	return cfg, nil
}

func (g *GUI) actionButtons() []*widget.Button {
	return []*widget.Button{g.convertButton, g.runButton, g.extractButton, g.reviewButton}
}

// launch runs one stage in the background and shows its summary. A click
// while another stage or the watcher is busy is refused.
func (g *GUI) launch(name string, stage func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error)) {
	cfg, err := g.snapshot()
	if err != nil {
		dialog.ShowError(err, g.mainWindow)
		return
	}
	buttons := g.actionButtons()
	g.disableButtons(buttons...)
	g.setLabel(g.summaryLabel, name+" running...")
	go func() {
		defer g.enableButtons(buttons...)
		s, err := g.runner.TryRun(cfg, func(p *pipeline.Pipeline) (*pipeline.Summary, error) {
			return stage(g.ctx, p)
		})
		if errors.Is(err, pipeline.ErrBusy) {
			g.setLabel(g.summaryLabel, name+" not started: "+err.Error())
			return
		}
		g.showSummary(s, err)
		g.updateFolderStats()
	}()
}

func (g *GUI) showSummary(s *pipeline.Summary, err error) {
	text := ""
	if s != nil {
		text = s.String()
	}
	switch {
	case err == nil:
	case isEmpty(err):
		text += "\nNothing was written."
	default:
		text += "\nError: " + err.Error()
		g.showModernErrorDialog("Run Failed", err.Error())
	}
	g.setLabel(g.summaryLabel, strings.TrimSpace(text))
}

func (g *GUI) onConvert() {
	g.launch("convert", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) {
		meta, err := metadata(p.Config())
		if err != nil {
			return nil, err
		}
		return p.Convert(ctx, "", meta)
	})
}

func (g *GUI) onRun() {
	g.launch("run", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) {
		return p.Run(ctx, "")
	})
}

func (g *GUI) onExtract() {
	g.launch("extract-html", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) {
		return p.ExtractHTML(ctx, "")
	})
}

func (g *GUI) onReview() {
	g.launch("review", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) {
		return p.Review(ctx, "")
	})
}

// onStartWatch freezes the form into the watcher's config. Each settled
// export waits for any button-started stage before it converts and runs.
func (g *GUI) onStartWatch() {
	if g.stopWatch != nil {
		return
	}
	cfg, err := g.snapshot()
	if err != nil {
		dialog.ShowError(err, g.mainWindow)
		return
	}
	meta, err := metadata(cfg)
	if err != nil {
		dialog.ShowError(err, g.mainWindow)
		return
	}
	ctx, cancel := context.WithCancel(g.ctx)
	g.stopWatch = cancel
	g.disableButtons(g.watchButton)
	g.enableButtons(g.stopButton)

	handler := func(ctx context.Context, path string) error {
		s, err := g.runner.Run(cfg, func(p *pipeline.Pipeline) (*pipeline.Summary, error) {
			s, err := p.Convert(ctx, path, meta)
			if err != nil {
				return s, err
			}
			return p.Run(ctx, "")
		})
		g.showSummary(s, err)
		g.updateFolderStats()
		if isEmpty(err) {
			return nil
		}
		return err
	}
	w := watch.New(cfg.Paths.RawXML, ".xml", cfg.Watch.Debounce, handler, g.env.logger)
	go func() {
		if err := w.Run(ctx); err != nil {
			g.env.logger.Error().Err(err).Msg("watcher stopped")
		}
	}()
}

func (g *GUI) onStopWatch() {
	if g.stopWatch == nil {
		return
	}
	g.stopWatch()
	g.stopWatch = nil
	g.enableButtons(g.watchButton)
	g.disableButtons(g.stopButton)
}

func (g *GUI) showModernErrorDialog(title, message string) {
	g.onMain(func() {
		dialogWindow := g.app.NewWindow(title)
		dialogWindow.Resize(fyne.NewSize(400, 200))
		dialogWindow.CenterOnScreen()

		titleLabel := widget.NewLabel(title)
		titleLabel.TextStyle = fyne.TextStyle{Bold: true}
		titleLabel.Alignment = fyne.TextAlignCenter

		messageLabel := widget.NewLabel(message)
		messageLabel.Alignment = fyne.TextAlignCenter
		messageLabel.Wrapping = fyne.TextWrapWord

		okButton := widget.NewButton("OK", func() { dialogWindow.Close() })

		dialogWindow.SetContent(container.NewVBox(
			container.NewPadded(titleLabel),
			container.NewPadded(messageLabel),
			container.NewPadded(container.NewCenter(okButton)),
		))
		dialogWindow.Show()
	})
}

func countFiles(dir, ext string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			n++
		}
	}
	return n
}

func (g *GUI) updateFolderStats() {
	p := g.env.cfg.Paths
	stats := fmt.Sprintf("Exports: %d, Processed CSV: %d, HTML reports: %d\nSetfiles: %d, Terminal setfiles: %d",
		countFiles(p.RawXML, ".xml"),
		countFiles(p.ProcessedCSV, ".csv"),
		countFiles(p.HTMLReports, ".html")+countFiles(p.HTMLReports, ".htm"),
		countFiles(p.Setfiles, ".set"),
		countFiles(p.TerminalSetfiles, ".set"),
	)
	g.setLabel(g.folderStatsLabel, stats)
}

func (g *GUI) appendLog(line string) {
	g.logMu.Lock()
	cur := g.logBuffer
	if len(cur) > 10000 {
		parts := strings.Split(cur, "\n")
		if len(parts) > 100 {
			cur = strings.Join(parts[len(parts)-100:], "\n")
		}
	}
	g.logBuffer = cur + line
	text := g.logBuffer
	g.logMu.Unlock()
	g.setLogText(text)
}

func (g *GUI) Run() {
	start := time.Now()
	g.mainWindow.ShowAndRun()
	if g.stopWatch != nil {
		g.stopWatch()
	}
	g.env.logger.Info().Str("uptime", config.FormatDuration(time.Since(start))).Msg("window closed")
}
