package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/tealeg/xlsx/v2"

	domain "github.com/maplewick/api/internal/domain"
	"github.com/maplewick/api/internal/repositories"
)

// ErrImportRepositoryMissing indicates the repository dependency is absent.
var ErrImportRepositoryMissing = errors.New("import service: product repository is not configured")

// ImportServiceDeps bundles constructor inputs for the import service.
type ImportServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	NewRunID func() string
}

type importService struct {
	products  repositories.ProductRepository
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	newRunID  func() string
}

// NewImportService constructs the product import service. Descriptions pass
// through an HTML sanitizer because export files routinely carry markup
// pasted from supplier sites.
func NewImportService(deps ImportServiceDeps) (ImportService, error) {
	if deps.Products == nil {
		return nil, ErrImportRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = func() string { return strings.ToLower(ulid.Make().String()) }
	}
	return &importService{
		products:  deps.Products,
		sanitizer: bluemonday.StrictPolicy(),
		clock:     func() time.Time { return clock().UTC() },
		newRunID:  newRunID,
	}, nil
}

// ImportCSV ingests a comma-separated product export. The first record is
// the header; unknown columns are ignored.
func (s *importService) ImportCSV(ctx context.Context, source string, r io.Reader) (domain.ImportReport, error) {
	report := s.newReport(source)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return report, fmt.Errorf("import service: read csv header: %w", err)
	}
	columns := mapColumns(header)
	if _, ok := columns["sku"]; !ok {
		return report, errors.New("import service: no sku column found")
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			report.Total++
			report.Errors = append(report.Errors, domain.ImportError{Line: line, Reason: fmt.Sprintf("malformed row: %v", err)})
			continue
		}
		product, parseErr := rowToProduct(columns, record)
		s.ingestRow(ctx, &report, domain.ImportRow{Line: line, Product: product}, parseErr)
	}
	return report, nil
}

// ImportXLSX ingests the first sheet of an Excel workbook using the same
// column mapping as CSV.
func (s *importService) ImportXLSX(ctx context.Context, source string, r io.Reader, size int64) (domain.ImportReport, error) {
	report := s.newReport(source)

	data, err := io.ReadAll(r)
	if err != nil {
		return report, fmt.Errorf("import service: read workbook: %w", err)
	}
	file, err := xlsx.OpenReaderAt(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return report, fmt.Errorf("import service: open workbook: %w", err)
	}
	if len(file.Sheets) == 0 {
		return report, errors.New("import service: workbook has no sheets")
	}

	sheet := file.Sheets[0]
	var columns map[string]int
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}

		if i == 0 {
			columns = mapColumns(cells)
			if _, ok := columns["sku"]; !ok {
				return report, errors.New("import service: no sku column found")
			}
			continue
		}
		product, parseErr := rowToProduct(columns, cells)
		s.ingestRow(ctx, &report, domain.ImportRow{Line: i + 1, Product: product}, parseErr)
	}
	return report, nil
}

func (s *importService) newReport(source string) domain.ImportReport {
	return domain.ImportReport{
		RunID:     s.newRunID(),
		Source:    strings.TrimSpace(source),
		StartedAt: s.clock(),
	}
}

func (s *importService) ingestRow(ctx context.Context, report *domain.ImportReport, row domain.ImportRow, parseErr error) {
	report.Total++

	product := row.Product
	product.SKU = strings.TrimSpace(product.SKU)
	if product.SKU == "" {
		report.Skipped++
		report.Errors = append(report.Errors, domain.ImportError{Line: row.Line, Reason: "missing sku"})
		return
	}
	if product.Title == "" {
		report.Skipped++
		report.Errors = append(report.Errors, domain.ImportError{Line: row.Line, SKU: product.SKU, Reason: "missing title"})
		return
	}
	if parseErr != nil {
		report.Skipped++
		report.Errors = append(report.Errors, domain.ImportError{Line: row.Line, SKU: product.SKU, Reason: parseErr.Error()})
		return
	}

	product.Description = strings.TrimSpace(s.sanitizer.Sanitize(product.Description))

	if err := s.products.Upsert(ctx, product); err != nil {
		report.Errors = append(report.Errors, domain.ImportError{Line: row.Line, SKU: product.SKU, Reason: err.Error()})
		return
	}
	report.Imported++
}

// columnAliases maps the header spellings seen in supplier exports onto
// canonical column names.
var columnAliases = map[string]string{
	"sku":          "sku",
	"item":         "sku",
	"item number":  "sku",
	"title":        "title",
	"name":         "title",
	"product name": "title",
	"description":  "description",
	"desc":         "description",
	"price":        "price",
	"unit price":   "price",
	"currency":     "currency",
	"category":     "category",
	"type":         "category",
	"image url":    "imageurl",
	"imageurl":     "imageurl",
	"image":        "imageurl",
	"images":       "images",
}

func mapColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, taken := columns[canonical]; taken {
			continue
		}
		columns[canonical] = i
	}
	return columns
}

func rowToProduct(columns map[string]int, record []string) (domain.Product, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var parseErr error
	var price float64
	if raw := strings.TrimPrefix(field("price"), "$"); raw != "" {
		price, parseErr = strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			parseErr = fmt.Errorf("invalid price %q", field("price"))
		}
	}

	return domain.Product{
		SKU:         field("sku"),
		Title:       field("title"),
		Description: field("description"),
		Price:       price,
		Currency:    field("currency"),
		Category:    field("category"),
		ImageURL:    field("imageurl"),
		Images:      domain.DecodeImageList(field("images")),
	}, parseErr
}
