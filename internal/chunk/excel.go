package chunk

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/upload-engine/chunkup/internal/retry"
)

// row is one parsed worksheet row: the text of the cells present in the
// XML, in document order. Cell references are not used, so a cell the XML
// omits leaves no empty placeholder and rows are not padded to equal width.
type row struct {
	cells []string
}

// No pack example or dependency provides an xlsx parser, so the first
// worksheet is read directly: an .xlsx file is a zip archive containing
// xl/worksheets/sheet1.xml (cell values and, for string cells, either an
// inline string or an index into xl/sharedStrings.xml). This is the same
// approach general-purpose xlsx libraries take internally; only the first
// worksheet is parsed, matching the chunker's "first worksheet" contract.
func parseFirstWorksheet(r io.ReaderAt, size int64) ([]row, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &retry.ValidationError{Message: fmt.Sprintf("chunk: not a valid xlsx archive: %v", err)}
	}

	shared, err := readSharedStrings(zr)
	if err != nil {
		return nil, err
	}

	sheet, err := findSheetOne(zr)
	if err != nil {
		return nil, err
	}

	return parseSheetXML(sheet, shared)
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	f := findFile(zr, "xl/sharedStrings.xml")
	if f == nil {
		return nil, nil
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("chunk: opening sharedStrings.xml: %w", err)
	}
	defer rc.Close()

	var sst struct {
		SI []struct {
			T     string `xml:"t"`
			Runs  []struct {
				T string `xml:"t"`
			} `xml:"r"`
		} `xml:"si"`
	}

	if err := xml.NewDecoder(rc).Decode(&sst); err != nil {
		return nil, fmt.Errorf("chunk: parsing sharedStrings.xml: %w", err)
	}

	out := make([]string, len(sst.SI))

	for i, item := range sst.SI {
		if item.T != "" {
			out[i] = item.T
			continue
		}

		for _, run := range item.Runs {
			out[i] += run.T
		}
	}

	return out, nil
}

func findSheetOne(zr *zip.Reader) (*zip.File, error) {
	if f := findFile(zr, "xl/worksheets/sheet1.xml"); f != nil {
		return f, nil
	}

	var sheets []*zip.File

	for _, f := range zr.File {
		if len(f.Name) > len("xl/worksheets/") && f.Name[:len("xl/worksheets/")] == "xl/worksheets/" {
			sheets = append(sheets, f)
		}
	}

	if len(sheets) == 0 {
		return nil, &retry.ValidationError{Message: "chunk: xlsx archive has no worksheets"}
	}

	sort.Slice(sheets, func(i, j int) bool { return sheets[i].Name < sheets[j].Name })

	return sheets[0], nil
}

func findFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func parseSheetXML(f *zip.File, shared []string) ([]row, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("chunk: opening worksheet: %w", err)
	}
	defer rc.Close()

	var sheet struct {
		SheetData struct {
			Rows []struct {
				Cells []struct {
					Ref string `xml:"r,attr"`
					T   string `xml:"t,attr"`
					V   string `xml:"v"`
					Is  struct {
						T string `xml:"t"`
					} `xml:"is"`
				} `xml:"c"`
			} `xml:"row"`
		} `xml:"sheetData"`
	}

	if err := xml.NewDecoder(rc).Decode(&sheet); err != nil {
		return nil, fmt.Errorf("chunk: parsing worksheet xml: %w", err)
	}

	rows := make([]row, 0, len(sheet.SheetData.Rows))

	for _, xr := range sheet.SheetData.Rows {
		cells := make([]string, 0, len(xr.Cells))

		for _, xc := range xr.Cells {
			cells = append(cells, cellText(xc.T, xc.V, xc.Is.T, shared))
		}

		rows = append(rows, row{cells: cells})
	}

	return rows, nil
}

func cellText(cellType, value, inlineText string, shared []string) string {
	switch cellType {
	case "s":
		idx, err := strconv.Atoi(value)
		if err != nil || idx < 0 || idx >= len(shared) {
			return ""
		}

		return shared[idx]
	case "inlineStr":
		return inlineText
	default:
		return value
	}
}
