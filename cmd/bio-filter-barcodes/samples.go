package main

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cellfilter/barcode"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/pkg/errors"
)

type sampleRow struct {
	SampleID string `tsv:"sample_id"`
	Probes   string `tsv:"probe_barcode_ids"`
}

// readProbeDefs reads the probe-barcode sample sheet at path. offset and
// length locate the probe barcode within each barcode sequence.
func readProbeDefs(ctx context.Context, path string, offset, length int) (defs []barcode.ProbeDef, err error) {
	r, closer, err := matrix.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return parseProbeDefs(r, offset, length)
}

func parseProbeDefs(r io.Reader, offset, length int) ([]barcode.ProbeDef, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	seen := map[string]bool{}
	var defs []barcode.ProbeDef
	for {
		var row sampleRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "reading probe barcode sample sheet")
		}
		if row.SampleID == "" {
			return nil, errors.New("probe barcode sample sheet: empty sample_id")
		}
		if seen[row.SampleID] {
			return nil, errors.Errorf("probe barcode sample sheet: duplicate sample %s", row.SampleID)
		}
		seen[row.SampleID] = true
		var seqs []string
		for _, s := range strings.Split(row.Probes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				seqs = append(seqs, s)
			}
		}
		if len(seqs) == 0 {
			return nil, errors.Errorf("probe barcode sample sheet: sample %s has no probe barcodes", row.SampleID)
		}
		defs = append(defs, barcode.ProbeDef{SampleID: row.SampleID, Sequences: seqs, Offset: offset, Length: length})
	}
	return defs, nil
}

// readLines returns the nonempty lines of path.
func readLines(ctx context.Context, path string) ([]string, error) {
	data, err := file.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
