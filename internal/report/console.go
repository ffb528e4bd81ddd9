package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/pkg/capture"
	"github.com/funnyzak/reqplay/pkg/i18n"
)

// ColorScheme color roles for console output.
type ColorScheme struct {
	Title     *color.Color
	Success   *color.Color
	Failure   *color.Color
	Label     *color.Color
	Value     *color.Color
	Delta     *color.Color
	Separator *color.Color
	Warn      *color.Color
}

// NewColorScheme creates the default color scheme.
func NewColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Success:   color.New(color.FgGreen, color.Bold),
		Failure:   color.New(color.FgRed, color.Bold),
		Label:     color.New(color.FgCyan),
		Value:     color.New(color.FgWhite),
		Delta:     color.New(color.FgHiMagenta),
		Separator: color.New(color.FgYellow, color.Bold),
		Warn:      color.New(color.FgHiYellow, color.Bold),
	}
}

// ConsoleReporter renders results as colorized, width-aware console blocks.
type ConsoleReporter struct {
	colorScheme *ColorScheme
	logger      logger.Logger
	translator  *i18n.Translator
	locale      string
	out         io.Writer
}

// NewConsoleReporter creates a console reporter.
func NewConsoleReporter(log logger.Logger, translator *i18n.Translator, locale string) *ConsoleReporter {
	return &ConsoleReporter{
		colorScheme: NewColorScheme(),
		logger:      log,
		translator:  translator,
		locale:      locale,
		out:         os.Stdout,
	}
}

// SetOutput replaces the output target, for tests.
func (p *ConsoleReporter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.out = w
}

func (p *ConsoleReporter) text(key string) string {
	if p.translator == nil {
		return key
	}
	return p.translator.Text(p.locale, key)
}

// getTerminalWidth gets the current terminal width with fallback.
func (p *ConsoleReporter) getTerminalWidth() int {
	if testWidth := os.Getenv("REQPLAY_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	if width < 40 {
		return 40
	}
	if width > 150 {
		return 150
	}
	return width
}

// ReplayCompleted prints the single replay block.
func (p *ConsoleReporter) ReplayCompleted(result *capture.ReplayResult) {
	if result == nil {
		return
	}
	width := p.getTerminalWidth()
	p.printSeparator(width)

	p.colorScheme.Title.Fprint(p.out, p.text(keyReplayTitle))
	if result.Replay != nil {
		fmt.Fprintf(p.out, "  %s", result.Replay.ID)
	}
	fmt.Fprintln(p.out)

	if result.Original != nil {
		fmt.Fprintf(p.out, "%s %s\n", result.Original.Method, result.Original.URL)
	}

	if result.Success {
		p.colorScheme.Success.Fprintln(p.out, p.text(keyReplaySuccess))
	} else {
		p.colorScheme.Failure.Fprintf(p.out, "%s  %s\n", p.text(keyReplayFailed), result.Error)
	}

	rows := p.replayRows(result)
	p.printRows(rows)

	if cmp := result.Comparison; cmp != nil {
		if len(cmp.Differences) == 0 {
			p.colorScheme.Success.Fprintln(p.out, p.text(keyReplayNoDiffs))
		} else {
			p.colorScheme.Warn.Fprintln(p.out, p.text(keyReplayDiffs))
			for _, diff := range cmp.Differences {
				fmt.Fprintf(p.out, "  - %s\n", diff)
			}
		}
	}

	p.printSeparator(width)
}

func (p *ConsoleReporter) replayRows(result *capture.ReplayResult) []row {
	var rows []row
	if result.Original != nil {
		rows = append(rows, row{
			label: p.text(keyReplayOriginal),
			value: fmt.Sprintf("%d  %s  %dms",
				result.Original.StatusCode,
				humanize.Bytes(uint64(result.Original.Size)),
				result.Original.Duration),
		})
	}
	if result.Replay != nil {
		rows = append(rows, row{
			label: p.text(keyReplayReplayed),
			value: fmt.Sprintf("%d  %s  %dms",
				result.Replay.StatusCode,
				humanize.Bytes(uint64(result.Replay.Size)),
				result.Replay.Duration),
		})
	}
	return rows
}

// BatchCompleted prints the batch summary block.
func (p *ConsoleReporter) BatchCompleted(result *capture.BatchResult) {
	if result == nil {
		return
	}
	width := p.getTerminalWidth()
	p.printSeparator(width)
	p.colorScheme.Title.Fprintf(p.out, "%s  %s\n", p.text(keyBatchTitle), result.ID)

	rows := []row{
		{label: p.text(keyBatchTotal), value: humanize.Comma(int64(result.Total))},
		{label: p.text(keyBatchSucceeded), value: humanize.Comma(int64(result.Succeeded)), c: p.colorScheme.Success},
		{label: p.text(keyBatchFailed), value: humanize.Comma(int64(result.Failed)), c: p.failureColor(result.Failed)},
		{label: p.text(keyBatchAvgDuration), value: fmt.Sprintf("%.1fms", result.AvgDurationMs)},
		{label: p.text(keyBatchWallTime), value: result.Duration.Round(time.Millisecond).String()},
	}
	p.printRows(rows)
	p.printSeparator(width)
}

// LoadTestCompleted prints the load test summary block.
func (p *ConsoleReporter) LoadTestCompleted(result *capture.LoadTestResult) {
	if result == nil {
		return
	}
	width := p.getTerminalWidth()
	p.printSeparator(width)
	p.colorScheme.Title.Fprintf(p.out, "%s  %s\n", p.text(keyLoadTitle), result.ID)

	if result.TimedOut {
		p.colorScheme.Warn.Fprintln(p.out, p.text(keyLoadTimedOut))
	} else {
		p.colorScheme.Success.Fprintln(p.out, p.text(keyLoadCompleted))
	}

	stats := result.Statistics
	rows := []row{
		{label: p.text(keyBatchTotal), value: humanize.Comma(int64(result.Total))},
		{label: p.text(keyBatchSucceeded), value: humanize.Comma(int64(result.Succeeded)), c: p.colorScheme.Success},
		{label: p.text(keyBatchFailed), value: humanize.Comma(int64(result.Failed)), c: p.failureColor(result.Failed)},
		{label: p.text(keyLoadAchievedRPS), value: fmt.Sprintf("%.2f", stats.AchievedRPS)},
		{label: p.text(keyLoadThroughput), value: fmt.Sprintf("%.2f", stats.Throughput)},
		{label: p.text(keyLoadErrorRate), value: fmt.Sprintf("%.2f%%", stats.ErrorRate*100)},
		{label: p.text(keyLoadLatencyMin), value: fmt.Sprintf("%.1fms", stats.MinLatencyMs)},
		{label: p.text(keyLoadLatencyAvg), value: fmt.Sprintf("%.1fms", stats.AvgLatencyMs)},
		{label: p.text(keyLoadLatencyMax), value: fmt.Sprintf("%.1fms", stats.MaxLatencyMs)},
		{label: p.text(keyLoadLatencyP50), value: fmt.Sprintf("%.1fms", stats.P50LatencyMs)},
		{label: p.text(keyLoadLatencyP95), value: fmt.Sprintf("%.1fms", stats.P95LatencyMs)},
		{label: p.text(keyLoadLatencyP99), value: fmt.Sprintf("%.1fms", stats.P99LatencyMs)},
	}
	p.printRows(rows)
	p.printSeparator(width)
}

type row struct {
	label string
	value string
	c     *color.Color
}

// printRows aligns values in a second column. Label cells are padded by
// display width so CJK locales line up the same as Latin ones.
func (p *ConsoleReporter) printRows(rows []row) {
	labelWidth := 0
	for _, r := range rows {
		if w := runewidth.StringWidth(r.label); w > labelWidth {
			labelWidth = w
		}
	}

	for _, r := range rows {
		p.colorScheme.Label.Fprint(p.out, runewidth.FillRight(r.label, labelWidth))
		fmt.Fprint(p.out, "  ")
		valueColor := r.c
		if valueColor == nil {
			valueColor = p.colorScheme.Value
		}
		valueColor.Fprintln(p.out, r.value)
	}
}

func (p *ConsoleReporter) failureColor(failed int) *color.Color {
	if failed > 0 {
		return p.colorScheme.Failure
	}
	return p.colorScheme.Value
}

func (p *ConsoleReporter) printSeparator(width int) {
	p.colorScheme.Separator.Fprintln(p.out, strings.Repeat("-", clampWidth(width)))
}
