package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ancer-engine/models"
)

// PriceCSVHeader is the expected column order of a price import file.
var PriceCSVHeader = []string{
	"area_slug", "property_type", "bedrooms", "price_naira", "listing_type", "data_date",
}

// MinPriceColumns is the fewest columns a usable row can have; data_date
// may be omitted.
const MinPriceColumns = 5

// PriceCSVReader reads external market price files from a local directory.
type PriceCSVReader struct {
	dir string
}

// NewPriceCSVReader creates a reader rooted at dir.
func NewPriceCSVReader(dir string) *PriceCSVReader {
	return &PriceCSVReader{dir: dir}
}

// Files lists the *.csv files in the import directory in name order. A
// missing directory yields no files.
func (r *PriceCSVReader) Files() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read dir %q: %w", r.dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(r.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile parses one price file. Malformed rows and rows shorter than
// MinPriceColumns are skipped and counted in short; a header row is skipped.
func (r *PriceCSVReader) ReadFile(path string) (rows []models.RawPriceRow, short int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()
	return ParsePriceCSV(filepath.Base(path), f)
}

// ParsePriceCSV parses price rows from any reader.
func ParsePriceCSV(name string, src io.Reader) (rows []models.RawPriceRow, short int, err error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			short++
			continue
		}
		if err != nil {
			return rows, short, fmt.Errorf("csv: %s line %d: %w", name, line, err)
		}
		if line == 1 && isPriceHeader(rec) {
			continue
		}
		if len(rec) < MinPriceColumns {
			short++
			continue
		}

		row := models.RawPriceRow{
			File:         name,
			Line:         line,
			AreaSlug:     strings.TrimSpace(rec[0]),
			PropertyType: strings.TrimSpace(rec[1]),
			Bedrooms:     strings.TrimSpace(rec[2]),
			PriceNaira:   strings.TrimSpace(rec[3]),
			ListingType:  strings.TrimSpace(rec[4]),
		}
		if len(rec) > 5 {
			row.DataDate = strings.TrimSpace(rec[5])
		}
		rows = append(rows, row)
	}
	return rows, short, nil
}

func isPriceHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff")), PriceCSVHeader[0])
}
