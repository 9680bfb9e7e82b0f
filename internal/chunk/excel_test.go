package chunk

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestXLSX(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	sheet, err := zw.Create("xl/worksheets/sheet1.xml")
	require.NoError(t, err)

	_, err = sheet.Write([]byte(`<?xml version="1.0"?>
<worksheet><sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c></row>
<row r="2"><c r="A2" t="inlineStr"><is><t>raw</t></is></c><c r="B2"><v>42</v></c></row>
</sheetData></worksheet>`))
	require.NoError(t, err)

	shared, err := zw.Create("xl/sharedStrings.xml")
	require.NoError(t, err)

	_, err = shared.Write([]byte(`<?xml version="1.0"?>
<sst><si><t>name</t></si><si><t>age</t></si></sst>`))
	require.NoError(t, err)

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestChunkByLines_Excel(t *testing.T) {
	data := buildTestXLSX(t)
	src := newMemSource(data)
	c := New()

	out, errc := c.Chunk(context.Background(), src, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FileTypeConfig{Chunking: Config{Kind: KindLines, Value: 10}})
	chunks, err := drain(out, errc)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, [][]string{{"name", "age"}, {"raw", "42"}}, chunks[0].Rows)
}
