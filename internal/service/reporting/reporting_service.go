package reporting

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
	repo "github.com/mamadbah2/bloodbank/internal/repository/sheets"
)

const dateLayout = "2006-01-02"

// StockSource is the slice of the engine the report reads from.
type StockSource interface {
	StockOverview() []models.StockReport
	Requests() []models.Request
}

// SnapshotStore keeps daily snapshots.
type SnapshotStore interface {
	SaveStockSnapshot(ctx context.Context, snapshot models.StockSnapshot) error
}

// Service builds the daily stock report and ships it to the spreadsheet and
// the snapshot store. Either sink may be nil.
type Service struct {
	source    StockSource
	sheets    repo.Repository
	snapshots SnapshotStore
	logger    *zap.Logger
}

// NewService wires a new reporting service instance.
func NewService(source StockSource, sheets repo.Repository, snapshots SnapshotStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, sheets: sheets, snapshots: snapshots, logger: logger}
}

// Snapshot captures the current picture of every ledger.
func (s *Service) Snapshot(now time.Time) models.StockSnapshot {
	snap := models.StockSnapshot{
		Date:      time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		Ledgers:   s.source.StockOverview(),
		CreatedAt: now,
	}
	for _, l := range snap.Ledgers {
		snap.TotalAvailable += l.Available
		snap.TotalReserved += l.Reserved
		if l.Status == models.StockCritical || l.Status == models.StockLow {
			snap.Alerts = append(snap.Alerts, l.BloodType)
		}
	}
	for _, r := range s.source.Requests() {
		if !r.Status.Terminal() {
			snap.OpenRequests++
		}
	}
	return snap
}

// GenerateDailyReport stores today's snapshot and returns a printable summary.
// Sink failures are reported after every sink was attempted.
func (s *Service) GenerateDailyReport(ctx context.Context, now time.Time) (string, error) {
	snap := s.Snapshot(now)
	var failures []string

	if s.snapshots != nil {
		if err := s.snapshots.SaveStockSnapshot(ctx, snap); err != nil {
			s.logger.Error("save stock snapshot failed", zap.Error(err))
			failures = append(failures, fmt.Sprintf("snapshot: %v", err))
		}
	}
	if s.sheets != nil {
		if err := s.sheets.AppendStockRows(ctx, sheetRows(snap)); err != nil {
			s.logger.Error("append stock rows failed", zap.Error(err))
			failures = append(failures, fmt.Sprintf("sheet: %v", err))
		}
	}

	summary := FormatSummary(snap)
	s.logger.Info("daily stock report generated",
		zap.Int("available", snap.TotalAvailable),
		zap.Int("reserved", snap.TotalReserved),
		zap.Int("open_requests", snap.OpenRequests),
		zap.Int("alerts", len(snap.Alerts)))

	if len(failures) > 0 {
		return summary, fmt.Errorf("daily report sinks failed: %s", strings.Join(failures, "; "))
	}
	return summary, nil
}

// AverageAvailability reads the report history of one blood type and returns
// the mean available count over the period.
func (s *Service) AverageAvailability(ctx context.Context, bt models.BloodType, start, end time.Time) (string, error) {
	if s.sheets == nil {
		return "", fmt.Errorf("no report sheet configured")
	}
	rows, err := s.sheets.StockRows(ctx)
	if err != nil {
		return "", fmt.Errorf("load stock range: %w", err)
	}

	var total, entries int
	for _, row := range rows {
		if len(row) < 3 || fmt.Sprint(row[1]) != bt.String() {
			continue
		}

		dateValue, err := parseDate(row[0])
		if err != nil {
			s.logger.Debug("skip stock row with invalid date", zap.Any("value", row[0]), zap.Error(err))
			continue
		}
		if dateValue.Before(start) || dateValue.After(end) {
			continue
		}

		available, err := parseInt(row[2])
		if err != nil {
			s.logger.Debug("skip stock row with invalid count", zap.Any("value", row[2]), zap.Error(err))
			continue
		}
		total += available
		entries++
	}

	if entries == 0 {
		return fmt.Sprintf("%s availability (%s-%s): no records yet.", bt, start.Format(dateLayout), end.Format(dateLayout)), nil
	}
	avg := math.Round(float64(total)/float64(entries)*100) / 100
	return fmt.Sprintf("%s availability (%s-%s): %.2f units on average across %d reports.", bt, start.Format(dateLayout), end.Format(dateLayout), avg, entries), nil
}

// FormatSummary renders a snapshot as a short multi-line text.
func FormatSummary(snap models.StockSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock report %s: %d available, %d reserved, %d open request(s).\n",
		snap.Date.Format(dateLayout), snap.TotalAvailable, snap.TotalReserved, snap.OpenRequests)
	for _, l := range snap.Ledgers {
		fmt.Fprintf(&b, "%-3s %3d available %3d reserved  %s\n", l.BloodType, l.Available, l.Reserved, l.Status)
	}
	if len(snap.Alerts) > 0 {
		types := make([]string, len(snap.Alerts))
		for i, bt := range snap.Alerts {
			types[i] = bt.String()
		}
		fmt.Fprintf(&b, "Attention: %s", strings.Join(types, ", "))
	} else {
		b.WriteString("All types above the low threshold.")
	}
	return b.String()
}

func sheetRows(snap models.StockSnapshot) [][]interface{} {
	rows := make([][]interface{}, 0, len(snap.Ledgers))
	date := snap.Date.Format(dateLayout)
	for _, l := range snap.Ledgers {
		rows = append(rows, []interface{}{
			date,
			l.BloodType.String(),
			l.Available,
			l.Reserved,
			l.Dispatched,
			l.Expired,
			l.Discarded,
			string(l.Status),
		})
	}
	return rows
}

func parseDate(value interface{}) (time.Time, error) {
	str := fmt.Sprint(value)
	if str == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if len(str) > 10 {
		str = str[:10]
	}
	return time.Parse(dateLayout, str)
}

func parseInt(value interface{}) (int, error) {
	str := fmt.Sprint(value)
	if str == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	return strconv.Atoi(str)
}
