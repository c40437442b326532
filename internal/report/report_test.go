package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/competency-import/internal/core"
)

func TestWriteErrors(t *testing.T) {
	res := core.ImportResult{
		FileName:     "matrix.csv",
		Total:        10,
		SuccessCount: 8,
		Errors: []core.RowError{
			{RowIndex: 5, PersonLabel: "Jane Doe", Message: `GWO: invalid date "31/31/2027": month out of range`},
			{RowIndex: 9, PersonLabel: "John Smith", Message: "save competencies: connection reset"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteErrors(&buf, res))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Equal(t, []string{"Row", "Person", "Message"}, rows[0])
	require.Equal(t, []string{"5", "Jane Doe", res.Errors[0].Message}, rows[1])
	require.Equal(t, []string{"9", "John Smith", res.Errors[1].Message}, rows[2])
	require.Equal(t, []string{"File", "matrix.csv"}, rows[4])
	require.Equal(t, []string{"Imported", "8"}, rows[5])
}

func TestWriteErrors_NoErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteErrors(&buf, core.ImportResult{FileName: "m.xlsx", Total: 1, SuccessCount: 1}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 6) // header, blank, 4 summary lines
}
