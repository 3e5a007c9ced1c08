// Package databar implements the DataBars type (spec section 3): an
// immutable, ordered sequence of OHLCV bars for one (symbol, interval),
// plus the schema/gap validation and fingerprinting the reproducibility
// envelope (C9) and drift detection (C7 replay) depend on.
package databar

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"qscenario/internal/qerrors"
)

// Bar is a single OHLCV record.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// DataBars is the immutable, ordered bar sequence for one (symbol,
// interval) pair. Construct via Load or New; never mutate Bars afterward.
type DataBars struct {
	Symbol   string
	Interval time.Duration
	Bars     []Bar

	// GapFlags[i] is true when the gap between Bars[i-1] and Bars[i]
	// exceeds 3x Interval (spec section 3 invariant).
	GapFlags []bool
}

// New validates and wraps a bar slice into a DataBars, enforcing the
// spec's "timestamps strictly monotonic, gaps <= 3x interval or flagged"
// invariant. Callers need not pre-sort: New sorts a copy by timestamp
// (leaving the caller's slice untouched), then checks monotonicity.
func New(symbol string, interval time.Duration, bars []Bar) (*DataBars, error) {
	if len(bars) == 0 {
		return nil, qerrors.New(qerrors.KindData, qerrors.SubNone, "empty bar set").
			WithField("bars", 0, "len(bars) > 0", "provide at least one historical bar")
	}
	cp := make([]Bar, len(bars))
	copy(cp, bars)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Timestamp.Before(cp[j].Timestamp) })

	gaps := make([]bool, len(cp))
	for i := 1; i < len(cp); i++ {
		if !cp[i].Timestamp.After(cp[i-1].Timestamp) {
			return nil, qerrors.New(qerrors.KindData, qerrors.SubNone, "timestamps not strictly monotonic").
				WithField("timestamp", cp[i].Timestamp, "strictly increasing", "deduplicate or resort input bars")
		}
		if cp[i].Timestamp.Sub(cp[i-1].Timestamp) > 3*interval {
			gaps[i] = true
		}
	}
	return &DataBars{Symbol: symbol, Interval: interval, Bars: cp, GapFlags: gaps}, nil
}

// LoadCSV loads bars from a CSV file with header
// "timestamp,open,high,low,close,volume" (RFC3339 timestamps). This is the
// default DataSource implementation; spec.md section 1 treats the actual
// provider/ingestion format as an external collaborator, so this loader is
// intentionally minimal and swappable.
func LoadCSV(path, symbol string, interval time.Duration) (*DataBars, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "cannot open data source", err).
			WithField("data_source", path, "file must exist and be readable", "check the data_source path (config file or --set data_source=...)")
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "cannot read CSV header", err)
	}
	if err := checkSchema(header); err != nil {
		return nil, err
	}

	var bars []Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "malformed CSV row", err)
		}
		b, err := parseRow(rec)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return New(symbol, interval, bars)
}

// WriteCSV serializes d back to the same schema LoadCSV reads, used by the
// walk-forward grid mode to materialize each rolling window as its own
// DataSource for a nested grid.Run invocation.
func (d *DataBars) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "cannot create data source window file", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(requiredSchema); err != nil {
		return err
	}
	for _, b := range d.Bars {
		row := []string{
			b.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Windows splits d into n contiguous, non-overlapping, chronologically
// successive slices (the walk-forward grid mode's rolling windows). Each
// window is independently re-validated through New, so gap flags are
// recomputed relative to the window's own first bar. Returns fewer than n
// windows if there are not enough bars to give each at least minWindowSize.
func (d *DataBars) Windows(n, minWindowSize int) ([]*DataBars, error) {
	if n <= 0 {
		n = 1
	}
	total := len(d.Bars)
	size := total / n
	if size < minWindowSize {
		size = minWindowSize
		n = total / size
	}
	if n < 1 {
		return nil, qerrors.New(qerrors.KindData, qerrors.SubNone, "insufficient bars for walk-forward windowing").
			WithField("bars", total, fmt.Sprintf(">= %d", minWindowSize), "reduce walk-forward window count or widen the data source")
	}

	out := make([]*DataBars, 0, n)
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if i == n-1 {
			end = total
		}
		win, err := New(d.Symbol, d.Interval, d.Bars[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, win)
	}
	return out, nil
}

var requiredSchema = []string{"timestamp", "open", "high", "low", "close", "volume"}

func checkSchema(header []string) error {
	if len(header) < len(requiredSchema) {
		return qerrors.New(qerrors.KindData, qerrors.SubNone, "schema mismatch").
			WithField("columns", header, fmt.Sprintf("must contain %v", requiredSchema), "fix the data source header")
	}
	for i, want := range requiredSchema {
		if header[i] != want {
			return qerrors.New(qerrors.KindData, qerrors.SubNone, "schema mismatch").
				WithField(fmt.Sprintf("column[%d]", i), header[i], "column name "+want, "reorder/rename the data source columns")
		}
	}
	return nil
}

func parseRow(rec []string) (Bar, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return Bar{}, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "invalid timestamp", err).
			WithField("timestamp", rec[0], "RFC3339 format", "reformat the data source timestamps")
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return Bar{}, qerrors.Wrap(qerrors.KindData, qerrors.SubNone, "invalid numeric field", err).
				WithField(requiredSchema[i+1], rec[i+1], "parseable float64", "fix the data source row")
		}
		vals[i] = v
	}
	return Bar{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

// LogReturns computes log(close[i]/close[i-1]) over the bar set.
func (d *DataBars) LogReturns() []float64 {
	out := make([]float64, 0, len(d.Bars)-1)
	for i := 1; i < len(d.Bars); i++ {
		out = append(out, math.Log(d.Bars[i].Close/d.Bars[i-1].Close))
	}
	return out
}

// Fingerprint is the stable hash of {schema, row_count, first_ts, last_ts,
// content_hash} spec section 4.9/9 requires: "Re-hashing an unchanged
// dataset yields the same fingerprint; any row or column change yields a
// different one."
type Fingerprint struct {
	Schema      []string
	RowCount    int
	FirstTS     time.Time
	LastTS      time.Time
	ContentHash string
}

// ComputeFingerprint derives the fingerprint deterministically from the bar
// content.
func (d *DataBars) ComputeFingerprint() Fingerprint {
	h := sha256.New()
	for _, b := range d.Bars {
		var buf [48]byte
		binary.BigEndian.PutUint64(buf[0:8], uint64(b.Timestamp.UnixNano()))
		binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(b.Open))
		binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(b.High))
		binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(b.Low))
		binary.BigEndian.PutUint64(buf[32:40], math.Float64bits(b.Close))
		binary.BigEndian.PutUint64(buf[40:48], math.Float64bits(b.Volume))
		h.Write(buf[:])
	}
	return Fingerprint{
		Schema:      requiredSchema,
		RowCount:    len(d.Bars),
		FirstTS:     d.Bars[0].Timestamp,
		LastTS:      d.Bars[len(d.Bars)-1].Timestamp,
		ContentHash: fmt.Sprintf("%x", h.Sum(nil)),
	}
}

// DriftClass is the closed variant of drift kinds a replay can detect
// (spec section 4.7).
type DriftClass string

const (
	DriftNone         DriftClass = ""
	DriftSchema       DriftClass = "schema"
	DriftCount        DriftClass = "count"
	DriftDistribution DriftClass = "distribution"
)

// DriftReport summarizes the comparison between an original fingerprint and
// the current dataset.
type DriftReport struct {
	Class        DriftClass
	Detail       string
	CountDeltaPct float64
	MeanDeltaPct  float64
	StdDeltaPct   float64
	Fatal        bool
}

// DetectDrift compares the original fingerprint/returns against the current
// dataset per spec section 4.7's fixed thresholds: schema drift is always
// fatal; count drift > 10% is fatal; distribution drift (mean or std change
// > 20%) is fatal. override downgrades any of these to a warning.
func DetectDrift(original Fingerprint, current *DataBars, originalReturns []float64, override bool) []DriftReport {
	var reports []DriftReport
	curFP := current.ComputeFingerprint()

	if !equalSchema(original.Schema, curFP.Schema) {
		reports = append(reports, DriftReport{Class: DriftSchema, Detail: "column layout changed", Fatal: !override})
	}

	if original.RowCount > 0 {
		delta := math.Abs(float64(curFP.RowCount-original.RowCount)) / float64(original.RowCount) * 100
		if delta > 10 {
			reports = append(reports, DriftReport{
				Class: DriftCount, Detail: "row count changed", CountDeltaPct: delta, Fatal: !override,
			})
		}
	}

	curReturns := current.LogReturns()
	if len(originalReturns) > 0 && len(curReturns) > 0 {
		om, os := meanStd(originalReturns)
		cm, cs := meanStd(curReturns)
		meanDelta := relPct(om, cm)
		stdDelta := relPct(os, cs)
		if meanDelta > 20 || stdDelta > 20 {
			reports = append(reports, DriftReport{
				Class: DriftDistribution, Detail: "mean/std shifted beyond threshold",
				MeanDeltaPct: meanDelta, StdDeltaPct: stdDelta, Fatal: !override,
			})
		}
	}
	return reports
}

func equalSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func relPct(orig, cur float64) float64 {
	if orig == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(cur-orig) / math.Abs(orig) * 100
}

func meanStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var sumSq float64
	for _, x := range xs {
		sumSq += (x - mean) * (x - mean)
	}
	std = math.Sqrt(sumSq / n)
	return
}
