package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/starcoach/internal/config"
	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/progress"
	"github.com/kalambet/starcoach/internal/storage"
)

// analyticsView decodes the flat analytics record; absent groups leave
// their fields nil.
type analyticsView struct {
	PauseCount            *int           `json:"pause_count"`
	FillerWordCount       *int           `json:"filler_word_count"`
	FillerWordsDetail     map[string]int `json:"filler_words_detail"`
	AnswerDurationSeconds *float64       `json:"answer_duration_seconds"`
	WordsPerMinute        *float64       `json:"words_per_minute"`
	ClarityScore          *int           `json:"clarity_score"`
	ConfidenceScore       *int           `json:"confidence_score"`
	StructureScore        *int           `json:"structure_score"`

	ClarityLLMScore            *int   `json:"clarity_llm_score"`
	ClarityLLMJustification    string `json:"clarity_llm_justification"`
	ConfidenceLLMScore         *int   `json:"confidence_llm_score"`
	ConfidenceLLMJustification string `json:"confidence_llm_justification"`
	StructureLLMScore          *int   `json:"structure_llm_score"`
	StructureLLMJustification  string `json:"structure_llm_justification"`
}

type statusView struct {
	AttemptID     int64               `json:"attempt_id"`
	Status        pipeline.Status     `json:"status"`
	Transcription *storage.Transcript `json:"transcription"`
	Analytics     *analyticsView      `json:"analytics"`
	Feedback      *storage.Feedback   `json:"feedback"`
	Failure       string              `json:"failure"`
}

// done reports whether polling can stop.
func (s statusView) done() bool {
	return s.Status == pipeline.StatusComplete || s.Failure != ""
}

type attemptView struct {
	storage.Attempt
	Transcription *storage.Transcript `json:"transcription"`
	Analytics     *analyticsView      `json:"analytics"`
	Feedback      *storage.Feedback   `json:"feedback"`
}

func (a attemptView) status() pipeline.Status {
	switch {
	case a.Feedback != nil:
		return pipeline.StatusComplete
	case a.Analytics != nil:
		return pipeline.StatusFeedbackPending
	case a.Transcription != nil:
		return pipeline.StatusAnalyticsPending
	default:
		return pipeline.StatusTranscribing
	}
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", what, arg)
	}
	return id, nil
}

// --- questions ---

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List the interview questions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/questions")
		if err != nil {
			return err
		}
		var qs []storage.Question
		if err := decodeJSON(resp, &qs); err != nil {
			return err
		}

		rows := make([][]string, 0, len(qs))
		for _, q := range qs {
			rows = append(rows, []string{
				strconv.FormatInt(q.ID, 10),
				q.Category,
				strconv.Itoa(q.AttemptCount),
				truncate(q.QuestionText, 72),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "Category", "Attempts", "Question"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
		))
		return nil
	},
}

// --- attempts ---

var attemptsCmd = &cobra.Command{
	Use:   "attempts <question_id>",
	Short: "List recorded attempts for a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qid, err := parseID(args[0], "question_id")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/attempts/%d", qid))
		if err != nil {
			return err
		}
		var attempts []attemptView
		if err := decodeJSON(resp, &attempts); err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No attempts recorded yet.")
			return nil
		}

		rows := make([][]string, 0, len(attempts))
		for _, a := range attempts {
			var clarity, confidence, structure *int
			if a.Analytics != nil {
				clarity, confidence, structure = a.Analytics.ClarityScore, a.Analytics.ConfidenceScore, a.Analytics.StructureScore
			}
			rows = append(rows, []string{
				strconv.Itoa(a.AttemptNumber),
				strconv.FormatInt(a.ID, 10),
				a.CreatedAt.Local().Format("2006-01-02 15:04"),
				fmt.Sprintf("%.0fs", a.DurationSeconds),
				string(a.status()),
				scoreCell(clarity),
				scoreCell(confidence),
				scoreCell(structure),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"#", "Attempt", "Recorded", "Length", "Status", "Clarity", "Confidence", "Structure"}, rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight},
		))
		return nil
	},
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <attempt_id>",
	Short: "Queue the analysis of a recorded attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "attempt_id")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/api/analyze/%d", id), nil)
		if err != nil {
			return err
		}
		var result struct {
			Status string `json:"status"`
			JobID  string `json:"job_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Analysis of attempt %d queued (%s)", id, result.Status)
		fmt.Fprintf(os.Stderr, "  run `starcoach result %d --wait` to follow it\n", id)
		return nil
	},
}

// --- result ---

var resultCmd = &cobra.Command{
	Use:   "result <attempt_id>",
	Short: "Show the analysis of an attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "attempt_id")
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if wait && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		raw, view, err := fetchStatus(ctx, client, id)
		for err == nil && wait && !view.done() {
			printStep("attempt %d: %s", id, view.Status)
			select {
			case <-ctx.Done():
				return fmt.Errorf("stopped waiting for attempt %d: %w", id, ctx.Err())
			case <-time.After(interval):
			}
			raw, view, err = fetchStatus(ctx, client, id)
		}
		if err != nil {
			return err
		}

		if asJSON {
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			_, err := buf.WriteTo(cmd.OutOrStdout())
			return err
		}
		renderResult(cmd.OutOrStdout(), view)
		return nil
	},
}

func init() {
	resultCmd.Flags().Bool("wait", false, "poll until the analysis finishes")
	resultCmd.Flags().Duration("interval", 2*time.Second, "polling interval with --wait")
	resultCmd.Flags().Duration("timeout", 15*time.Minute, "give up waiting after this long")
	resultCmd.Flags().Bool("json", false, "print the raw status document")
}

func fetchStatus(ctx context.Context, client *apiClient, id int64) (json.RawMessage, statusView, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/api/analyze/%d/status", id))
	if err != nil {
		return nil, statusView{}, err
	}
	var raw json.RawMessage
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, statusView{}, err
	}
	var view statusView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, statusView{}, fmt.Errorf("decoding status: %w", err)
	}
	return raw, view, nil
}

func renderResult(w io.Writer, s statusView) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, fmt.Sprintf("Attempt %d:", s.AttemptID)), s.Status)
	if s.Failure != "" {
		fmt.Fprintf(w, "%s %s\n", colorize(colorRed, "Failed:"), s.Failure)
		return
	}

	if s.Transcription != nil {
		fmt.Fprintf(w, "\n%s\n  %s\n", colorize(colorBold, "Transcript"), s.Transcription.Text)
	}

	if a := s.Analytics; a != nil {
		var rows [][]string
		if a.ClarityScore != nil {
			rows = append(rows,
				[]string{"Clarity", scoreCell(a.ClarityScore), fmt.Sprintf("%d filler words%s", deref(a.FillerWordCount), fillerSummary(a.FillerWordsDetail))},
				[]string{"Confidence", scoreCell(a.ConfidenceScore), fmt.Sprintf("%d pauses over 2s", deref(a.PauseCount))},
				[]string{"Structure", scoreCell(a.StructureScore), fmt.Sprintf("%.0fs at %.1f wpm", derefFloat(a.AnswerDurationSeconds), derefFloat(a.WordsPerMinute))},
			)
		}
		if a.ClarityLLMScore != nil {
			rows = append(rows,
				[]string{"Clarity (LLM)", scoreCell(a.ClarityLLMScore), truncate(a.ClarityLLMJustification, 80)},
				[]string{"Confidence (LLM)", scoreCell(a.ConfidenceLLMScore), truncate(a.ConfidenceLLMJustification, 80)},
				[]string{"Structure (LLM)", scoreCell(a.StructureLLMScore), truncate(a.StructureLLMJustification, 80)},
			)
		}
		if len(rows) > 0 {
			fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Analytics"),
				renderTable([]string{"Dimension", "Score", "Detail"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
		}
	}

	if f := s.Feedback; f != nil {
		if star := f.STARScores; star != nil {
			fmt.Fprintf(w, "\n%s Situation %d/5 · Task %d/5 · Action %d/5 · Result %d/5\n",
				colorize(colorBold, "STAR"), star.Situation, star.Task, star.Action, star.Result)
		}
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Coaching"), f.CoachFeedback)
	}
}

func fillerSummary(detail map[string]int) string {
	if len(detail) == 0 {
		return ""
	}
	words := make([]string, 0, len(detail))
	for w := range detail {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if detail[words[i]] != detail[words[j]] {
			return detail[words[i]] > detail[words[j]]
		}
		return words[i] < words[j]
	})
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%s×%d", w, detail[w])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// --- dashboard ---

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show practice totals and average scores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/dashboard")
		if err != nil {
			return err
		}
		var stats storage.DashboardStats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		avg := func(v *float64) string {
			if v == nil {
				return "-"
			}
			return fmt.Sprintf("%.1f", *v)
		}
		rows := [][]string{
			{"Attempts", strconv.Itoa(stats.TotalAttempts)},
			{"Questions practiced", fmt.Sprintf("%d of %d", stats.QuestionsPracticed, stats.TotalQuestions)},
			{"Practice time", (time.Duration(stats.TotalPracticeSeconds) * time.Second).String()},
			{"Avg clarity", avg(stats.AvgClarityScore)},
			{"Avg confidence", avg(stats.AvgConfidenceScore)},
			{"Avg structure", avg(stats.AvgStructureScore)},
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

		if len(stats.DailyActivity) > 0 {
			days := make([]string, 0, len(stats.DailyActivity))
			for d := range stats.DailyActivity {
				days = append(days, d)
			}
			sort.Strings(days)
			activity := make([][]string, len(days))
			for i, d := range days {
				activity[i] = []string{d, strconv.Itoa(stats.DailyActivity[d])}
			}
			fmt.Fprintln(out, renderTable([]string{"Day", "Attempts"}, activity, []columnAlignment{alignLeft, alignRight}))
		}
		return nil
	},
}

// --- progress ---

var progressCmd = &cobra.Command{
	Use:   "progress <question_id>",
	Short: "Show score trends across attempts at a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qid, err := parseID(args[0], "question_id")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/progress/%d", qid))
		if err != nil {
			return err
		}
		var report progress.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", colorize(colorBold, report.QuestionText))
		trend := string(report.Trend)
		switch report.Trend {
		case progress.TrendImproving:
			trend = colorize(colorGreen, trend)
		case progress.TrendDeclining:
			trend = colorize(colorRed, trend)
		}
		fmt.Fprintf(out, "Trend: %s\n", trend)

		if len(report.DataPoints) == 0 {
			fmt.Fprintln(out, "No attempts recorded yet.")
			return nil
		}
		rows := make([][]string, 0, len(report.DataPoints))
		for _, p := range report.DataPoints {
			star := "-"
			if s := p.STARScores; s != nil {
				star = fmt.Sprintf("%d/%d/%d/%d", s.Situation, s.Task, s.Action, s.Result)
			}
			rows = append(rows, []string{
				strconv.Itoa(p.AttemptNumber),
				p.CreatedAt.Local().Format("2006-01-02"),
				scoreCell(p.ClarityScore),
				scoreCell(p.ConfidenceScore),
				scoreCell(p.StructureScore),
				star,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"#", "Date", "Clarity", "Confidence", "Structure", "S/T/A/R"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
		))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		rows := make([][]string, len(keys))
		for i, k := range keys {
			rows[i] = []string{k.Key, k.Value, k.EnvVar}
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Env"}, rows, nil))
		fmt.Fprintf(cmd.OutOrStdout(), "config file: %s\n", config.FilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
