package display

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"kyc-backup/internal/backup"
	apperrors "kyc-backup/internal/errors"
	"kyc-backup/internal/restore"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates an --output value
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid output format %q, must be one of: table, json, yaml", s)
	}
}

// Printer writes operator-facing output. Logs go to the logger, never here.
type Printer struct {
	w       io.Writer
	palette *Palette
	format  OutputFormat
	unicode bool
}

// NewPrinter creates a printer for w
func NewPrinter(w io.Writer, format OutputFormat, colors, unicode bool) *Printer {
	return &Printer{
		w:       w,
		palette: NewPalette(colors, DefaultColorTheme()),
		format:  format,
		unicode: unicode,
	}
}

// NewAutoPrinter detects color and icon support from w
func NewAutoPrinter(w io.Writer, format OutputFormat) *Printer {
	return NewPrinter(w, format, DetectColor(w), DetectUnicode(w))
}

// Size renders a byte count
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func (p *Printer) icon(unicode, ascii string) string {
	if p.unicode {
		return unicode
	}
	return ascii
}

// Success prints a success status line
func (p *Printer) Success(format string, args ...interface{}) {
	p.status(p.icon("✓", "[OK]"), p.palette.Theme().Success, format, args...)
}

// Warning prints a warning status line
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status(p.icon("⚠", "[WARN]"), p.palette.Theme().Warning, format, args...)
}

// Error prints an error status line
func (p *Printer) Error(format string, args ...interface{}) {
	p.status(p.icon("✗", "[FAIL]"), p.palette.Theme().Error, format, args...)
}

// Info prints an informational line
func (p *Printer) Info(format string, args ...interface{}) {
	p.status(p.icon("ℹ", "[INFO]"), p.palette.Theme().Info, format, args...)
}

func (p *Printer) status(prefix string, clr Color, format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.palette.Colorize(prefix, clr), fmt.Sprintf(format, args...))
}

// RunReport is the machine-readable form of a finished backup run
type RunReport struct {
	RunID          string           `json:"run_id" yaml:"run_id"`
	Timestamp      string           `json:"timestamp" yaml:"timestamp"`
	Directory      string           `json:"directory" yaml:"directory"`
	Status         backup.Status    `json:"status" yaml:"status"`
	DurationMillis int64            `json:"duration_ms" yaml:"duration_ms"`
	TotalSize      int64            `json:"total_size" yaml:"total_size"`
	Artifacts      []ArtifactReport `json:"artifacts" yaml:"artifacts"`
	Stages         []StageReport    `json:"stages" yaml:"stages"`
	BucketFailures []FailureReport  `json:"bucket_failures,omitempty" yaml:"bucket_failures,omitempty"`
	Retention      *RetentionReport `json:"retention,omitempty" yaml:"retention,omitempty"`
}

type ArtifactReport struct {
	Kind        backup.Kind `json:"kind" yaml:"kind"`
	Path        string      `json:"path" yaml:"path"`
	Size        int64       `json:"size" yaml:"size"`
	Compression string      `json:"compression" yaml:"compression"`
}

type StageReport struct {
	Name           string             `json:"name" yaml:"name"`
	Status         backup.StageStatus `json:"status" yaml:"status"`
	DurationMillis int64              `json:"duration_ms" yaml:"duration_ms"`
	Error          string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// FailureReport names what failed: a bucket or an artifact path
type FailureReport struct {
	Name  string `json:"name" yaml:"name"`
	Error string `json:"error" yaml:"error"`
}

type RetentionReport struct {
	DryRun   bool            `json:"dry_run" yaml:"dry_run"`
	Scanned  int             `json:"scanned" yaml:"scanned"`
	Deleted  []string        `json:"deleted" yaml:"deleted"`
	Failures []FailureReport `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// NewRunReport flattens run for JSON and YAML output
func NewRunReport(run *backup.BackupRun) RunReport {
	r := RunReport{
		RunID:          run.ID,
		Timestamp:      backup.FormatTimestamp(run.Timestamp),
		Directory:      run.Directory,
		Status:         run.Status,
		DurationMillis: run.Duration.Milliseconds(),
		TotalSize:      run.TotalSize(),
		Artifacts:      []ArtifactReport{},
		Stages:         []StageReport{},
	}
	for _, a := range run.Artifacts {
		r.Artifacts = append(r.Artifacts, ArtifactReport{Kind: a.Kind, Path: a.Path, Size: a.Size, Compression: a.Compression})
	}
	for _, s := range run.Stages {
		sr := StageReport{Name: s.Name, Status: s.Status, DurationMillis: s.Duration.Milliseconds()}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		r.Stages = append(r.Stages, sr)
	}
	for _, f := range run.BucketFailures {
		r.BucketFailures = append(r.BucketFailures, FailureReport{Name: f.Bucket, Error: errText(f.Err)})
	}
	if sw := run.Sweep; sw != nil {
		r.Retention = &RetentionReport{DryRun: sw.DryRun, Scanned: sw.Scanned, Deleted: append([]string{}, sw.Deleted...)}
		for _, f := range sw.Failures {
			r.Retention.Failures = append(r.Retention.Failures, FailureReport{Name: f.Path, Error: errText(f.Err)})
		}
	}
	return r
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// BackupRun prints a run in the printer's format. The table form lists
// the artifacts and ends with the final status line.
func (p *Printer) BackupRun(run *backup.BackupRun) error {
	switch p.format {
	case FormatJSON:
		return p.writeJSON(NewRunReport(run))
	case FormatYAML:
		return p.writeYAML(NewRunReport(run))
	}

	fmt.Fprintf(p.w, "Backup %s into %s\n", backup.FormatTimestamp(run.Timestamp), run.Directory)

	if len(run.Artifacts) > 0 {
		t := NewTable(p.palette, "KIND", "FILE", "SIZE").AlignRight(2)
		for _, a := range run.Artifacts {
			t.AddRow(string(a.Kind), filepath.Base(a.Path), Size(a.Size))
		}
		t.RenderTo(p.w)
	}

	for _, s := range run.Stages {
		if s.Status == backup.StageFailed && s.Name != backup.StageMirror {
			p.Error("%s stage failed: %s", s.Name, apperrors.FormatUserError(s.Err))
		}
	}
	for _, f := range run.BucketFailures {
		p.Warning("bucket %s not mirrored: %v", f.Bucket, f.Err)
	}
	if run.Sweep != nil {
		verb := "removed"
		if run.Sweep.DryRun {
			verb = "would be removed"
		}
		if n := len(run.Sweep.Deleted); n > 0 {
			p.Info("retention: %d expired artifact(s) %s", n, verb)
		}
		for _, f := range run.Sweep.Failures {
			p.Warning("retention could not delete %s: %v", filepath.Base(f.Path), f.Err)
		}
	}

	summary := fmt.Sprintf("%d artifact(s), %s in %s",
		len(run.Artifacts), Size(run.TotalSize()), run.Duration.Round(time.Millisecond))
	switch run.Status {
	case backup.StatusSuccess:
		p.Success("Backup completed: %s", summary)
	case backup.StatusPartialFailure:
		p.Warning("Backup completed with failures: %s", summary)
	default:
		p.Error("Backup failed: %s", summary)
	}
	return nil
}

// Restore prints the final status line of a restore, stating what is
// known about the target database whenever the restore did not finish
func (p *Printer) Restore(res *restore.Result, err error) {
	switch res.State {
	case restore.StateDone:
		verified := ""
		if res.Verified {
			verified = ", checksum verified"
		}
		p.Success("Restored %s into %s database %q in %s%s",
			filepath.Base(res.Artifact), res.Engine, res.Target, res.Duration.Round(time.Millisecond), verified)
	case restore.StateAborted:
		p.Warning("Restore cancelled; database %q was not modified", res.Target)
	default:
		if err != nil {
			p.Error("Restore failed: %s", err)
		} else {
			p.Error("Restore failed")
		}
		p.targetState(res)
	}
}

func (p *Printer) targetState(res *restore.Result) {
	msg := fmt.Sprintf("database %q is %s", res.Target, res.TargetState.Describe())
	switch res.TargetState {
	case restore.TargetIntact:
		p.Info("%s", msg)
	case restore.TargetAbsent, restore.TargetEmpty, restore.TargetPartial:
		p.Error("%s; restore again from a known good artifact", msg)
	default:
		p.Error("%s; inspect it before use", msg)
	}
}

// Runs prints backup runs in the printer's format
func (p *Printer) Runs(runs []backup.RunListing, now time.Time) error {
	switch p.format {
	case FormatJSON:
		return p.writeJSON(runs)
	case FormatYAML:
		return p.writeYAML(runs)
	}

	if len(runs) == 0 {
		p.Info("no backups found")
		return nil
	}
	t := NewTable(p.palette, "TIMESTAMP", "AGE", "DATABASE", "OBJECTS", "TOTAL", "STATUS").
		AlignRight(2).AlignRight(3).AlignRight(4)
	for _, r := range runs {
		status := string(r.Status)
		if status == "" {
			status = "-"
		}
		t.AddRow(
			backup.FormatTimestamp(r.Timestamp),
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
			artifactSize(r.Find(backup.KindDBDump)),
			artifactSize(r.Find(backup.KindObjectMirror)),
			Size(r.Size()),
			status,
		)
	}
	t.RenderTo(p.w)
	fmt.Fprintf(p.w, "%s run(s)\n", humanize.Comma(int64(len(runs))))
	return nil
}

func artifactSize(a *backup.ListedArtifact) string {
	if a == nil {
		return "-"
	}
	return Size(a.Size)
}

// CheckResult is the reachability of one store
type CheckResult struct {
	Name   string        `json:"name" yaml:"name"`
	Target string        `json:"target" yaml:"target"`
	OK     bool          `json:"ok" yaml:"ok"`
	Detail string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Took   time.Duration `json:"took_ns" yaml:"took"`
}

// Checks prints connectivity check results
func (p *Printer) Checks(results []CheckResult) error {
	switch p.format {
	case FormatJSON:
		return p.writeJSON(results)
	case FormatYAML:
		return p.writeYAML(results)
	}

	t := NewTable(p.palette, "CHECK", "TARGET", "RESULT", "TIME").AlignRight(3)
	for _, r := range results {
		result := p.palette.Colorize("ok", p.palette.Theme().Success)
		if !r.OK {
			result = p.palette.Colorize("FAILED", p.palette.Theme().Error)
		}
		t.AddRow(r.Name, r.Target, result, strconv.FormatInt(r.Took.Milliseconds(), 10)+"ms")
	}
	t.RenderTo(p.w)
	for _, r := range results {
		if r.Detail == "" {
			continue
		}
		if r.OK {
			p.Info("%s: %s", r.Name, r.Detail)
		} else {
			p.Error("%s: %s", r.Name, r.Detail)
		}
	}
	return nil
}

func (p *Printer) writeJSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) writeYAML(v interface{}) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
