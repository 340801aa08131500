package pipeline

import (
	"strings"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/sheet"
	"catmatch/internal/util"
)

// ParseUpload turns a spreadsheet into one ParsedRow per data row. The header
// row is resolved against mapping; row numbers are 1-based and exclude the
// header. Rows with an empty description are kept so numbering stays aligned
// with the file.
func ParseUpload(content []byte, mimeType, filename string, mapping internal.ColumnMapping) ([]internal.ParsedRow, error) {
	if strings.TrimSpace(mapping.DescriptionColumn) == "" {
		return nil, apperr.Configuration("parse upload", "description column is required")
	}

	format, err := sheet.DetectFormat(mimeType, filename, content)
	if err != nil {
		return nil, err
	}
	rows, err := sheet.ReadTable(content, format)
	if err != nil {
		return nil, err
	}

	header := rows[0]
	descIdx := sheet.HeaderIndex(header, mapping.DescriptionColumn)
	if descIdx < 0 {
		return nil, apperr.Configuration("parse upload", "description column %q not found in header", mapping.DescriptionColumn)
	}
	qtyIdx := -1
	if strings.TrimSpace(mapping.QuantityColumn) != "" {
		qtyIdx = sheet.HeaderIndex(header, mapping.QuantityColumn)
		if qtyIdx < 0 {
			return nil, apperr.Configuration("parse upload", "quantity column %q not found in header", mapping.QuantityColumn)
		}
	}

	out := make([]internal.ParsedRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		parsed := internal.ParsedRow{
			RowNumber: i + 1,
			Text:      util.NormalizeSpaces(sheet.Cell(row, descIdx)),
		}
		if qtyIdx >= 0 {
			if raw := sheet.Cell(row, qtyIdx); raw != "" {
				qty := util.ParseQty(raw)
				parsed.QuantityRaw = util.StringPtr(raw)
				parsed.Quantity = qty.Qty
				parsed.Unit = qty.Unit
			}
		}
		out = append(out, parsed)
	}
	return out, nil
}
