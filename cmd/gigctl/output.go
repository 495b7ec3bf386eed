package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerServer"
	"gopkg.in/yaml.v3"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

type Formatter struct {
	format string
	out    io.Writer
}

func NewFormatter(format string, out io.Writer) (*Formatter, error) {
	if format == "" {
		format = FormatTable
	}
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return &Formatter{format: format, out: out}, nil
}

func (f *Formatter) printJSON(data any) error {
	encoder := json.NewEncoder(f.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) printYAML(data any) error {
	encoder := yaml.NewEncoder(f.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// structured prints data as JSON or YAML and reports whether it did.
func (f *Formatter) structured(data any) (bool, error) {
	switch f.format {
	case FormatJSON:
		return true, f.printJSON(data)
	case FormatYAML:
		return true, f.printYAML(data)
	}
	return false, nil
}

func (f *Formatter) table(header []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(f.out, "No results")
		return
	}
	table := tablewriter.NewWriter(f.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

func statusCell(status string) string {
	switch status {
	case "open":
		return color.GreenString(status)
	case "completed":
		return color.CyanString(status)
	default:
		return color.YellowString(status)
	}
}

func taskRow(t *ledgerServer.TaskView) []string {
	winner := t.Winner
	if winner == "" {
		winner = "-"
	}
	return []string{
		strconv.FormatUint(t.Id, 10),
		statusCell(t.Status),
		t.Bounty,
		t.Token,
		t.Creator,
		winner,
		t.Description,
	}
}

var taskHeader = []string{"ID", "STATUS", "BOUNTY", "TOKEN", "CREATOR", "WINNER", "DESCRIPTION"}

func (f *Formatter) PrintTask(t *ledgerServer.TaskView) error {
	if ok, err := f.structured(t); ok {
		return err
	}
	f.table(taskHeader, [][]string{taskRow(t)})
	return nil
}

func (f *Formatter) PrintTasks(tasks []*ledgerServer.TaskView) error {
	if ok, err := f.structured(tasks); ok {
		return err
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow(t))
	}
	f.table(taskHeader, rows)
	return nil
}

func submissionRow(s *ledgerServer.SubmissionView) []string {
	return []string{
		strconv.FormatUint(s.TaskId, 10),
		strconv.FormatUint(s.Id, 10),
		s.Submitter,
		strconv.FormatBool(s.Approved),
		s.Content,
	}
}

var submissionHeader = []string{"TASK", "ID", "SUBMITTER", "APPROVED", "CONTENT"}

func (f *Formatter) PrintSubmission(s *ledgerServer.SubmissionView) error {
	if ok, err := f.structured(s); ok {
		return err
	}
	f.table(submissionHeader, [][]string{submissionRow(s)})
	return nil
}

func (f *Formatter) PrintSubmissions(subs []*ledgerServer.SubmissionView) error {
	if ok, err := f.structured(subs); ok {
		return err
	}
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, submissionRow(s))
	}
	f.table(submissionHeader, rows)
	return nil
}

var statsHeader = []string{"RANK", "ADDRESS", "CREATED", "COMPLETED", "EARNED"}

func statsRow(rank int, u *ledgerServer.UserStatsView) []string {
	return []string{
		strconv.Itoa(rank),
		u.Address,
		strconv.FormatUint(u.CreatedCount, 10),
		strconv.FormatUint(u.CompletedCount, 10),
		u.TotalEarned,
	}
}

func (f *Formatter) PrintUserStats(u *ledgerServer.UserStatsView) error {
	if ok, err := f.structured(u); ok {
		return err
	}
	f.table(statsHeader[1:], [][]string{statsRow(0, u)[1:]})
	return nil
}

func (f *Formatter) PrintLeaderboard(board []*ledgerServer.UserStatsView) error {
	if ok, err := f.structured(board); ok {
		return err
	}
	rows := make([][]string, 0, len(board))
	for i, u := range board {
		rows = append(rows, statsRow(i+1, u))
	}
	f.table(statsHeader, rows)
	return nil
}

// PrintValue prints a single named result such as a new id or a counter.
func (f *Formatter) PrintValue(name string, value uint64) error {
	if ok, err := f.structured(map[string]uint64{name: value}); ok {
		return err
	}
	fmt.Fprintf(f.out, "%s: %d\n", name, value)
	return nil
}

// Success prints a confirmation for a command with no result body.
func (f *Formatter) Success(format string, args ...any) {
	if f.format != FormatTable {
		return
	}
	color.New(color.FgGreen).Fprintf(f.out, format+"\n", args...)
}
