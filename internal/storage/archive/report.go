package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/backtest"
	"github.com/newthinker/screener/internal/core"
)

const reportsPrefix = "backtests"

// ReportStore archives backtest reports under backtests/<run_id>/ as
// report.json, trades.csv and equity.csv.
type ReportStore struct {
	storage Storage
	logger  *zap.Logger
}

// NewReportStore creates a report store over storage.
func NewReportStore(storage Storage, logger *zap.Logger) *ReportStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportStore{storage: storage, logger: logger}
}

// Save writes the report files and returns the run directory.
func (s *ReportStore) Save(ctx context.Context, r *backtest.Report) (string, error) {
	if r == nil || r.RunID == "" {
		return "", core.WrapError(core.ErrStorageFailed, fmt.Errorf("report has no run id"))
	}
	dir := path.Join(reportsPrefix, r.RunID)

	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", core.WrapError(core.ErrStorageFailed, fmt.Errorf("encoding report: %w", err))
	}

	var trades, equity bytes.Buffer
	if err := backtest.WriteTradesCSV(&trades, r.Trades); err != nil {
		return "", core.WrapError(core.ErrStorageFailed, err)
	}
	if err := backtest.WriteEquityCSV(&equity, r.EquityCurve); err != nil {
		return "", core.WrapError(core.ErrStorageFailed, err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{"trades.csv", trades.Bytes()},
		{"equity.csv", equity.Bytes()},
		// report.json last: its presence marks a complete run
		{"report.json", body},
	}
	for _, f := range files {
		if err := s.storage.Write(ctx, path.Join(dir, f.name), f.data); err != nil {
			return "", err
		}
	}

	s.logger.Info("report archived", zap.String("run_id", r.RunID), zap.String("path", dir))
	return dir, nil
}

// Load reads a previously archived report.
func (s *ReportStore) Load(ctx context.Context, runID string) (*backtest.Report, error) {
	data, err := s.storage.Read(ctx, path.Join(reportsPrefix, runID, "report.json"))
	if err != nil {
		return nil, err
	}
	var r backtest.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("decoding report %s: %w", runID, err))
	}
	return &r, nil
}

// List returns the run IDs of complete archived reports, sorted.
func (s *ReportStore) List(ctx context.Context) ([]string, error) {
	paths, err := s.storage.List(ctx, reportsPrefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range paths {
		rest, ok := strings.CutPrefix(p, reportsPrefix+"/")
		if !ok {
			continue
		}
		if id, file, ok := strings.Cut(rest, "/"); ok && file == "report.json" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
