package sheets

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/bloodbank/internal/config"
)

const (
	stockTab    = "Stock"
	stockRange  = stockTab + "!A:H"
	headerRange = stockTab + "!A1:H1"
)

// StockHeader is the first row of the stock tab.
var StockHeader = []interface{}{"date", "blood_type", "available", "reserved", "dispatched", "expired", "discarded", "status"}

// Repository is the spreadsheet sink used for daily stock reports.
type Repository interface {
	AppendStockRows(ctx context.Context, rows [][]interface{}) error
	StockRows(ctx context.Context) ([][]interface{}, error)
}

// GoogleSheetRepository keeps the stock history in one tab of a spreadsheet.
type GoogleSheetRepository struct {
	values        *sheetsapi.SpreadsheetsValuesService
	spreadsheetID string
	logger        *zap.Logger

	mu        sync.Mutex
	hasHeader bool
}

// NewGoogleSheetRepository authenticates with a service account file.
func NewGoogleSheetRepository(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*GoogleSheetRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("sheets credentials path and spreadsheet id are required")
	}

	svc, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	return &GoogleSheetRepository{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: cfg.SpreadsheetID,
		logger:        logger,
	}, nil
}

// AppendStockRows writes the header on first use, then appends one row per
// blood type below the existing history.
func (r *GoogleSheetRepository) AppendStockRows(ctx context.Context, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.ensureHeader(ctx); err != nil {
		return err
	}

	_, err := r.values.Append(r.spreadsheetID, stockRange, &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append %d stock rows: %w", len(rows), err)
	}

	r.logger.Debug("stock rows appended", zap.Int("rows", len(rows)))
	return nil
}

// StockRows returns the stock history without the header row.
func (r *GoogleSheetRepository) StockRows(ctx context.Context) ([][]interface{}, error) {
	resp, err := r.values.Get(r.spreadsheetID, stockRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read stock history: %w", err)
	}
	return dropHeader(resp.Values), nil
}

func (r *GoogleSheetRepository) ensureHeader(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasHeader {
		return nil
	}

	resp, err := r.values.Get(r.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read stock header: %w", err)
	}
	if len(resp.Values) == 0 {
		_, err = r.values.Update(r.spreadsheetID, headerRange, &sheetsapi.ValueRange{Values: [][]interface{}{StockHeader}}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("write stock header: %w", err)
		}
		r.logger.Info("stock header written", zap.String("tab", stockTab))
	}
	r.hasHeader = true
	return nil
}

func dropHeader(rows [][]interface{}) [][]interface{} {
	if len(rows) > 0 && len(rows[0]) > 0 && fmt.Sprint(rows[0][0]) == StockHeader[0] {
		return rows[1:]
	}
	return rows
}
