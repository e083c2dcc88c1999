package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/oss-eval/contribrank/internal/models"
)

// metricColumns is the fixed column order for one counter set, overall
// and per organization.
var metricColumns = []string{
	"pr_total",
	"pr_merged",
	"pr_open",
	"commits",
	"issues_opened",
	"issues_closed",
	"issues_commented",
	"reviews_submitted",
	"repos_contributed",
	"contribution_score",
}

// Columns returns the full ordered CSV header for the given
// organization list: username, the overall counters, then one
// organization-prefixed group per organization.
func Columns(orgs []string) []string {
	columns := make([]string, 0, 1+len(metricColumns)*(1+len(orgs)))
	columns = append(columns, "username")
	columns = append(columns, metricColumns...)
	for _, org := range orgs {
		prefix := NormalizeOrg(org) + "_"
		for _, metric := range metricColumns {
			columns = append(columns, prefix+metric)
		}
	}
	return columns
}

// Flatten produces the organization-qualified flat view of one record.
// This is the only place the typed per-organization mapping becomes
// string-keyed columns.
func Flatten(record *models.UserRecord, orgs []string) map[string]string {
	row := make(map[string]string, 1+len(metricColumns)*(1+len(orgs)))
	row["username"] = record.Username
	flattenStats(row, "", record.Totals)
	for _, org := range orgs {
		flattenStats(row, NormalizeOrg(org)+"_", record.ByOrg[org])
	}
	return row
}

func flattenStats(row map[string]string, prefix string, s models.OrgStats) {
	row[prefix+"pr_total"] = strconv.Itoa(s.PRTotal)
	row[prefix+"pr_merged"] = strconv.Itoa(s.PRMerged)
	row[prefix+"pr_open"] = strconv.Itoa(s.PROpen)
	row[prefix+"commits"] = strconv.Itoa(s.Commits)
	row[prefix+"issues_opened"] = strconv.Itoa(s.IssuesOpened)
	row[prefix+"issues_closed"] = strconv.Itoa(s.IssuesClosed)
	row[prefix+"issues_commented"] = strconv.Itoa(s.IssuesCommented)
	row[prefix+"reviews_submitted"] = strconv.Itoa(s.ReviewsSubmitted)
	row[prefix+"repos_contributed"] = strconv.Itoa(s.ReposContributed)
	row[prefix+"contribution_score"] = formatScore(Score(s))
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// Exporter renders ranked records to files.
type Exporter struct {
	logger *logrus.Logger
}

// NewExporter creates an Exporter.
func NewExporter(logger *logrus.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// Export sorts the records by composite score, writes the flattened
// table as CSV to outputFile, and writes run metadata plus the score
// distribution to a sibling JSON file.
func (e *Exporter) Export(outputFile string, records []*models.UserRecord, meta models.RunMeta) error {
	if len(records) == 0 {
		e.logger.Warn("No data to export")
		return nil
	}

	SortByScore(records)
	meta.ContributorCount = len(records)

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()
	if err := e.WriteCSV(f, records, meta.Organizations); err != nil {
		return err
	}

	summary, err := Summarize(records)
	if err != nil {
		return fmt.Errorf("summarizing scores: %w", err)
	}
	metaPath := metaFilePath(outputFile)
	if err := writeMeta(metaPath, meta, summary); err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"output":       outputFile,
		"meta":         metaPath,
		"contributors": len(records),
	}).Info("Report exported")
	return nil
}

// WriteCSV writes the flattened, already sorted table.
func (e *Exporter) WriteCSV(w io.Writer, records []*models.UserRecord, orgs []string) error {
	writer := csv.NewWriter(w)
	columns := Columns(orgs)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, record := range records {
		flat := Flatten(record, orgs)
		row := make([]string, len(columns))
		for i, column := range columns {
			row[i] = flat[column]
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing row for %s: %w", record.Username, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeMeta(path string, meta models.RunMeta, summary *ScoreSummary) error {
	payload := struct {
		models.RunMeta
		ScoreSummary *ScoreSummary `json:"score_summary,omitempty"`
	}{RunMeta: meta, ScoreSummary: summary}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report metadata: %w", err)
	}
	return nil
}

func metaFilePath(outputFile string) string {
	ext := filepath.Ext(outputFile)
	return strings.TrimSuffix(outputFile, ext) + "_meta.json"
}
