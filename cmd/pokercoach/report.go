package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/MrWong99/pokercoach/internal/analytics"
	"github.com/MrWong99/pokercoach/internal/config"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	out, err := renderStartupSummary(cfg, reg)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, out)
}

func renderStartupSummary(cfg *config.Config, reg *config.Registry) (string, error) {
	data := pterm.TableData{
		{"Setting", "Value"},
		{"Listen addr", cfg.Server.ListenAddr},
		{"Table", cfg.Table.URL},
		{"Style", string(cfg.Table.Style)},
		{"Cards", string(cfg.Cards.Source)},
		{"Move log", moveLogSummary(cfg.MoveLog)},
		{"Voice", voiceSummary(cfg.Voice)},
		{"MCP", enabled(cfg.MCP.Enabled, cfg.MCP.Path)},
		{"Report export", orDisabled(cfg.Export.ReportURL)},
		{"Calibration", orDisabled(cfg.Export.CalibrationURL)},
		{"Transcribers", strings.Join(reg.Transcribers(), ", ")},
		{"Microphones", strings.Join(reg.Microphones(), ", ")},
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
}

func moveLogSummary(c config.MoveLogConfig) string {
	s := string(c.Backend)
	if c.Session != "" {
		s += " / session " + c.Session
	}
	return s
}

func voiceSummary(c config.VoiceConfig) string {
	if !c.Enabled {
		return "(disabled)"
	}
	names := make([]string, 0, len(c.Transcribers))
	for _, t := range c.Transcribers {
		names = append(names, t.Name)
	}
	return c.Microphone.Name + " → " + strings.Join(names, " → ")
}

func enabled(on bool, detail string) string {
	if !on {
		return "(disabled)"
	}
	return detail
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// ── Profile report ────────────────────────────────────────────────────────────

func printProfile(w io.Writer, session string, p analytics.Profile) {
	out, err := renderProfile(session, p)
	if err != nil {
		fmt.Fprintf(w, "pokercoach: render profile: %v\n", err)
		return
	}
	fmt.Fprintln(w, out)
}

// renderProfile lays out p as two tables: the headline numbers and the
// per-street accuracy.
func renderProfile(session string, p analytics.Profile) (string, error) {
	if session == "" {
		session = "(unnamed)"
	}
	if p.TotalMoves == 0 {
		return fmt.Sprintf("Session %s has no recorded moves.", session), nil
	}

	raiseDiff := "n/a"
	if p.AvgRaiseDiff != nil {
		raiseDiff = fmt.Sprintf("%+.2f", *p.AvgRaiseDiff)
	}
	streak := "none"
	switch {
	case p.OptimalStreak > 0:
		streak = fmt.Sprintf("%d optimal", p.OptimalStreak)
	case p.DeviateStreak > 0:
		streak = fmt.Sprintf("%d deviating", p.DeviateStreak)
	}

	summary, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(pterm.TableData{
		{"Session " + session, ""},
		{"Moves", fmt.Sprint(p.TotalMoves)},
		{"Adherence", fmt.Sprintf("%d%%", p.Adherence)},
		{"Aggression", fmt.Sprintf("%d (%s)", p.AggressionIndex, p.AggressionLevel)},
		{"Actions", fmt.Sprintf("check %d · call %d · raise %d · fold %d",
			p.Counts.Checks, p.Counts.Calls, p.Counts.Raises, p.Counts.Folds)},
		{"Bluffs", fmt.Sprintf("%d (%.1f%%)", p.BluffCount, p.BluffRate)},
		{"Fold gap", fmt.Sprintf("%+.1f", p.FoldGap)},
		{"Avg raise vs suggestion", raiseDiff},
		{"Current streak", streak},
	}).Srender()
	if err != nil {
		return "", err
	}

	streets := pterm.TableData{{"Street", "Correct", "Total", "Accuracy", "Bluffs"}}
	for _, s := range poker.Streets {
		acc := p.PerStreet[s]
		streets = append(streets, []string{
			string(s),
			fmt.Sprint(acc.Correct),
			fmt.Sprint(acc.Total),
			fmt.Sprintf("%.0f%%", acc.Accuracy*100),
			fmt.Sprint(p.BluffByStreet[s]),
		})
	}
	perStreet, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(streets).Srender()
	if err != nil {
		return "", err
	}
	return summary + "\n" + perStreet, nil
}
