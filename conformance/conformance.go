// Package conformance runs the dicom3tools IOD verifier (dciodvfy) over the input data and reports
// the errors and warnings it prints for each record.
package conformance

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/batch"
)

// ReportFile is the name of the findings sheet, inside the run directory.
const ReportFile = "dciodvfy_report.csv"

// DefaultTool is looked up on PATH when no verifier path is configured.
const DefaultTool = "dciodvfy"

// Columns of the findings sheet.
var Columns = []string{
	"type", "tag", "message", "modality", "class", "patient", "study", "series", "instance",
	"file_name", "file_path",
}

var (
	typePattern    = regexp.MustCompile(`^Error|Warning`)
	tagPattern     = regexp.MustCompile(`<(.*?)>`)
	messagePattern = regexp.MustCompile(`> - (.*)$`)
)

// A Finding is one error or warning line of the verifier. Type, Tag and Message are bracketed;
// when the line does not have the expected shape Tag and Message hold the whole line.
type Finding struct {
	Type    string
	Tag     string
	Message string
	deidaudit.Identity
	File deidaudit.FileInfo
}

// ExecFunc runs tool on the file at path and returns what it wrote to stderr.
type ExecFunc func(ctx context.Context, tool, path string) ([]byte, error)

// Runner checks files with the verifier.
type Runner struct {
	// Tool defaults to DefaultTool.
	Tool string
	// Exec defaults to running Tool as a subprocess.
	Exec ExecFunc
	// Decode defaults to deidaudit.Decode.
	Decode batch.DecodeFunc
}

// Parse extracts the findings from the verifier output.
func Parse(output string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		kind := typePattern.FindString(line)
		if kind == "" {
			continue
		}

		f := Finding{Type: deidaudit.Wrap(kind), Tag: line, Message: line}
		if m := tagPattern.FindStringSubmatch(line); m != nil {
			f.Tag = deidaudit.Wrap(m[1])
		}
		if m := messagePattern.FindStringSubmatch(line); m != nil {
			f.Message = deidaudit.Wrap(m[1])
		}
		findings = append(findings, f)
	}
	return findings
}

// CheckFile verifies one file. Files that are not DICOM records have no findings.
func (r *Runner) CheckFile(ctx context.Context, f deidaudit.FileInfo) ([]Finding, error) {
	decode := r.Decode
	if decode == nil {
		decode = deidaudit.Decode
	}
	rec, err := decode(f.Path, "")
	if err != nil {
		var de *deidaudit.DecodeError
		if errors.As(err, &de) {
			return nil, nil
		}
		return nil, err
	}

	run := r.Exec
	if run == nil {
		run = execTool
	}
	tool := r.Tool
	if tool == "" {
		tool = DefaultTool
	}
	out, err := run(ctx, tool, f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run %s on %s", tool, f.Path)
	}

	findings := Parse(string(out))
	for i := range findings {
		findings[i].Identity = rec.Identity
		findings[i].File = f
	}
	return findings, nil
}

// Run verifies files on at most workers goroutines and returns the findings in file order. A file
// the verifier could not be run on is logged and counted in failed.
func (r *Runner) Run(ctx context.Context, files []deidaudit.FileInfo, workers int, logger logrus.FieldLogger) (findings []Finding, failed int) {
	perFile := make([][]Finding, len(files))
	var errs int32
	batch.Parallel(len(files), workers, func(worker int, pos int) {
		found, err := r.CheckFile(ctx, files[pos])
		if err != nil {
			atomic.AddInt32(&errs, 1)
			logger.WithError(err).WithFields(logrus.Fields{
				"worker":    worker,
				"file_path": files[pos].Path,
			}).Error("Conformance check failed")
			return
		}
		perFile[pos] = found
	})

	for _, found := range perFile {
		findings = append(findings, found...)
	}
	return findings, int(errs)
}

// Records renders findings as CSV records, header first.
func Records(findings []Finding) [][]string {
	records := make([][]string, 0, len(findings)+1)
	records = append(records, Columns)
	for _, f := range findings {
		records = append(records, []string{
			f.Type, f.Tag, f.Message,
			deidaudit.Wrap(f.Modality),
			deidaudit.Wrap(f.Class),
			deidaudit.Wrap(f.Patient),
			deidaudit.Wrap(f.Study),
			deidaudit.Wrap(f.Series),
			deidaudit.Wrap(f.Instance),
			deidaudit.Wrap(f.File.Name),
			deidaudit.Wrap(f.File.Path),
		})
	}
	return records
}

// Write writes the findings sheet. Nothing is written when there are no findings.
func Write(w io.Writer, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	df := dataframe.LoadRecords(Records(findings),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.NaNValues([]string{}))
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

func execTool(ctx context.Context, tool, path string) ([]byte, error) {
	var stderr bytes.Buffer
	// #nosec G204 -- the verifier path comes from the run configuration
	cmd := exec.CommandContext(ctx, tool, "-new", path)
	cmd.Stderr = &stderr
	err := cmd.Run()

	// the verifier exits non-zero whenever it reports errors
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return stderr.Bytes(), err
}
