package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"catmatch/internal/apperr"
	"catmatch/internal/util"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
)

const (
	MimeCSV      = "text/csv"
	MimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeExcel    = "application/vnd.ms-excel"
	MimeHTML     = "text/html"
	MimeOctet    = "application/octet-stream"
	zipSignature = "PK\x03\x04"
)

// DetectFormat resolves the table encoding from the declared MIME type, the
// file name and, when the type is ambiguous, the leading bytes.
func DetectFormat(mimeType, filename string, content []byte) (Format, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	ext := strings.ToLower(filepath.Ext(filename))

	switch mt {
	case MimeCSV, "application/csv", "text/comma-separated-values", "text/plain":
		return FormatCSV, nil
	case MimeXLSX:
		return FormatXLSX, nil
	case MimeHTML:
		return FormatHTML, nil
	case MimeExcel:
		// Browsers on Windows label .csv files with this type too.
		if bytes.HasPrefix(content, []byte(zipSignature)) {
			return FormatXLSX, nil
		}
		if ext == ".csv" || ext == ".txt" {
			return FormatCSV, nil
		}
		return "", apperr.UnsupportedFormat("detect format", "legacy .xls workbooks are not supported, save the file as .xlsx or .csv")
	case "", MimeOctet:
		switch ext {
		case ".csv", ".txt":
			return FormatCSV, nil
		case ".xlsx":
			return FormatXLSX, nil
		case ".html", ".htm":
			return FormatHTML, nil
		}
	}
	return "", apperr.UnsupportedFormat("detect format", "unsupported file type %q (%s)", mimeType, filename)
}

// ReadTable decodes content into rows of trimmed cells. Fully blank rows at
// the end are dropped; blank rows in the middle are kept so row numbers stay
// aligned with the file.
func ReadTable(content []byte, format Format) ([][]string, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, apperr.Configuration("read table", "file is empty")
	}

	var rows [][]string
	var err error
	switch format {
	case FormatCSV:
		rows, err = readCSV(content)
	case FormatXLSX:
		rows, err = readXLSX(content)
	case FormatHTML:
		rows, err = readHTML(content)
	default:
		return nil, apperr.UnsupportedFormat("read table", "unknown format %q", format)
	}
	if err != nil {
		var typed *apperr.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, apperr.New(apperr.KindConfiguration, "read table", "file could not be read as "+string(format), err)
	}

	for i := range rows {
		for j := range rows[i] {
			rows[i][j] = util.NormalizeSpaces(rows[i][j])
		}
	}
	for len(rows) > 0 && blankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return nil, apperr.Configuration("read table", "file has no header row")
	}
	return rows, nil
}

func readCSV(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = sniffDelimiter(content)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	// encoding/csv skips empty lines; put them back after the header so row
	// numbers match the ones a spreadsheet shows.
	var rows [][]string
	next := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		if len(rows) > 0 {
			for ; next < line; next++ {
				rows = append(rows, []string{})
			}
		}
		rows = append(rows, record)
		next = line + 1
		for _, field := range record {
			next += strings.Count(field, "\n")
		}
	}
	return rows, nil
}

func sniffDelimiter(content []byte) rune {
	var line []byte
	for _, l := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			line = l
			break
		}
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := strings.Count(string(line), string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func readXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperr.Configuration("read table", "workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readHTML(content []byte) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, apperr.Configuration("read table", "document has no table")
	}

	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := []string{}
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, cell.Text())
		})
		rows = append(rows, cells)
	})
	return rows, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// HeaderIndex finds column name among header cells, ignoring case, accents
// and surrounding space. It returns -1 when absent.
func HeaderIndex(header []string, name string) int {
	want := util.NormalizeHeader(name)
	if want == "" {
		return -1
	}
	for i, h := range header {
		if util.NormalizeHeader(h) == want {
			return i
		}
	}
	return -1
}

func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
