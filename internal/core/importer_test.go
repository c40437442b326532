package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/competency-import/internal/competency"
	"github.com/JonMunkholm/competency-import/internal/layout"
	"github.com/JonMunkholm/competency-import/internal/tabular"
)

const matrixCSV = `Employee Name,Job Position,Start Date,Email,GWO BST,First Aid,Induction
,,,,,,
Alice Able,Technician,01/02/2020,alice@example.com,01/01/2027,12/12/2025,Yes
Bob Brown,Technician,15/03/19,bob@example.com,N/A,,No
Carol Cole,Supervisor,,carol@example.com,,,Completed
CONTRACTORS,,,,,,
Dan Dale,Rigger,01/01/2021,dan@example.com,TBC,,Yes
Eve East,Rigger,,eve@example.com,,01/06/2026,
Finn Ford,Welder,,N/A,,,Yes
Gina Gale,Welder,,gina@example.com,31/31/2027,,Yes
New Starts,,,,,,
Hal Hart,Welder,02/02/2022,hal@example.com,,,MAI
Ivy Irwin,Painter,,ivy@example.com,44927,,yes
Jon Jay,Painter,,jon@example.com,,,
`

type harness struct {
	catalog  *memCatalog
	identity *memIdentity
	store    *memStore
	importer *Importer
	sleeps   *[]time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		catalog:  defaultCatalog(),
		identity: newMemIdentity(),
		store:    newMemStore(),
	}
	h.importer = NewImporter(h.catalog, h.identity, h.store, nil, Options{
		EmailDomain:    "example.org",
		TempCredential: "Temp-Pass-1",
	})
	h.sleeps = recordSleeps(h.importer)
	return h
}

func (h *harness) run(t *testing.T, in Input) ImportResult {
	t.Helper()
	res, err := h.importer.Run(context.Background(), "run-1", in, nil)
	require.NoError(t, err)
	return res
}

func csvInput() Input {
	return Input{FileName: "matrix.csv", Data: []byte(matrixCSV)}
}

func TestImporter_EndToEndFlatCSV(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, csvInput())

	require.Equal(t, 10, res.Total)
	require.Equal(t, 9, res.SuccessCount)
	require.Len(t, res.Errors, 1)
	require.Equal(t, 10, res.Errors[0].RowIndex)
	require.Equal(t, "Gina Gale", res.Errors[0].PersonLabel)
	require.Contains(t, res.Errors[0].Message, "invalid date")
	require.Contains(t, res.Errors[0].Message, "GWO Basic Safety Training")
	require.False(t, res.Cancelled)

	// One batched write per imported person.
	require.Equal(t, 9, h.store.calls)
	// The failed record never reached identity resolution.
	_, ok := h.identity.byEmail("gina@example.com")
	require.False(t, ok)
	require.Equal(t, 9, h.identity.count())

	alice, ok := h.identity.byEmail("alice@example.com")
	require.True(t, ok)
	require.Equal(t, "aliceable", alice.Username)

	gwo, ok := h.store.get(alice.ID, "c-gwo")
	require.True(t, ok)
	require.Nil(t, gwo.Value)
	require.Equal(t, "2027-01-01T00:00:00Z", *gwo.ExpiryDate)
	require.Equal(t, competency.StatusActive, gwo.Status)

	start, ok := h.store.get(alice.ID, "c-start")
	require.True(t, ok)
	require.Equal(t, "2020-02-01T00:00:00Z", *start.Value)

	ind, ok := h.store.get(alice.ID, "c-ind")
	require.True(t, ok)
	require.Equal(t, "Yes", *ind.Value)

	bob, _ := h.identity.byEmail("bob@example.com")
	_, ok = h.store.get(bob.ID, "c-gwo")
	require.False(t, ok, "N/A expiry is not stored")
	_, ok = h.store.get(bob.ID, "c-ind")
	require.False(t, ok, "No is not stored")
	start, _ = h.store.get(bob.ID, "c-start")
	require.Equal(t, "2019-03-15T00:00:00Z", *start.Value)

	hal, _ := h.identity.byEmail("hal@example.com")
	_, ok = h.store.get(hal.ID, "c-ind")
	require.False(t, ok, "MAI is a sentinel")

	ivy, _ := h.identity.byEmail("ivy@example.com")
	gwo, _ = h.store.get(ivy.ID, "c-gwo")
	require.Equal(t, "2023-01-01T00:00:00Z", *gwo.ExpiryDate)
}

func TestImporter_SynthesizesEmail(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, Input{FileName: "m.csv", Data: []byte(
		"Employee Name,Job Position,Start Date,Email\nJane Doe,Welder,,N/A\n",
	)})
	require.Equal(t, 1, res.SuccessCount)

	jane, ok := h.identity.byEmail("jane.doe@example.org")
	require.True(t, ok)
	require.Equal(t, "janedoe", jane.Username)
	require.Equal(t, "Temp-Pass-1", h.identity.created[0].TempCredential)
	require.Equal(t, DefaultRole, h.identity.created[0].Role)
}

func TestImporter_LowerCasePlaceholdersAreEmpty(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, Input{FileName: "m.csv", Data: []byte(
		"Employee Name,Job Position,Start Date,Email,GWO BST\nAl Ab,Welder,n/a,al@example.com,tbc\n",
	)})
	require.Equal(t, 1, res.SuccessCount)
	require.Empty(t, res.Errors)

	al, ok := h.identity.byEmail("al@example.com")
	require.True(t, ok)
	_, ok = h.store.get(al.ID, "c-start")
	require.False(t, ok)
	_, ok = h.store.get(al.ID, "c-gwo")
	require.False(t, ok)
	pos, ok := h.store.get(al.ID, "c-pos")
	require.True(t, ok)
	require.Equal(t, "Welder", *pos.Value)
}

func TestImporter_SharedNameWithDifferentEmails(t *testing.T) {
	h := newHarness(t)
	in := Input{FileName: "m.csv", Data: []byte(
		"Employee Name,Job Position,Start Date,Email\n" +
			"Jane Doe,Welder,,jane@north.example.com\n" +
			"Jane Doe,Painter,,jane@south.example.com\n" +
			"Jane Doe,Rigger,,N/A\n",
	)}
	res := h.run(t, in)
	require.Equal(t, 3, res.SuccessCount)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, h.identity.count())

	north, ok := h.identity.byEmail("jane@north.example.com")
	require.True(t, ok)
	require.Equal(t, "janedoe", north.Username)
	south, ok := h.identity.byEmail("jane@south.example.com")
	require.True(t, ok)
	require.Equal(t, DistinctUsername("janedoe", "jane@south.example.com", 0), south.Username)

	pos, ok := h.store.get(south.ID, "c-pos")
	require.True(t, ok)
	require.Equal(t, "Painter", *pos.Value)
	// The synthesized address falls back to the username match.
	pos, _ = h.store.get(north.ID, "c-pos")
	require.Equal(t, "Rigger", *pos.Value)

	h.run(t, in)
	require.Equal(t, 2, h.identity.count())
}

func TestImporter_MissingCatalogEntryIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.catalog.defs = h.catalog.defs[:4] // drop Site Induction

	res := h.run(t, csvInput())
	require.Equal(t, 9, res.SuccessCount)
	require.Len(t, res.Errors, 1)
	require.Equal(t, []string{"Site Induction"}, res.SkippedLabels)

	alice, _ := h.identity.byEmail("alice@example.com")
	_, ok := h.store.get(alice.ID, "c-ind")
	require.False(t, ok)
	_, ok = h.store.get(alice.ID, "c-gwo")
	require.True(t, ok, "other fields still persist")
}

func TestImporter_RecoversFromCreateConflict(t *testing.T) {
	h := newHarness(t)
	h.identity.raceOn["carol@example.com"] = true

	res := h.run(t, csvInput())
	require.Equal(t, 9, res.SuccessCount)
	require.Len(t, res.Errors, 1)

	carol, ok := h.identity.byEmail("carol@example.com")
	require.True(t, ok)
	_, ok = h.store.get(carol.ID, "c-ind")
	require.True(t, ok)

	// A second run reuses everyone, including the raced person.
	before := h.identity.count()
	res = h.run(t, csvInput())
	require.Equal(t, 9, res.SuccessCount)
	require.Equal(t, before, h.identity.count())
}

func TestImporter_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.run(t, csvInput())
	people, rows, snap := h.identity.count(), h.store.rowCount(), h.store.snapshot()

	h.run(t, csvInput())
	require.Equal(t, people, h.identity.count())
	require.Equal(t, rows, h.store.rowCount())
	require.Equal(t, snap, h.store.snapshot())
}

func TestImporter_WaitsForVisibilityWithBackoff(t *testing.T) {
	h := newHarness(t)
	h.identity.lag = 2

	res := h.run(t, Input{FileName: "m.csv", Data: []byte(
		"Employee Name,Job Position,Start Date,Email\nJane Doe,Welder,,jane@example.com\n",
	)})
	require.Equal(t, 1, res.SuccessCount)

	sleeps := *h.sleeps
	require.Len(t, sleeps, 2)
	require.GreaterOrEqual(t, sleeps[0], DefaultVisibilityBaseDelay)
	require.GreaterOrEqual(t, sleeps[1], 2*DefaultVisibilityBaseDelay)
}

func TestImporter_ConflictWithoutVisibilityFailsRecord(t *testing.T) {
	h := newHarness(t)
	h.identity.lag = 100
	h.identity.raceOn["jane@example.com"] = true

	res := h.run(t, Input{FileName: "m.csv", Data: []byte(
		"Employee Name,Job Position,Start Date,Email\nJane Doe,Welder,,jane@example.com\nSam Roe,Welder,,sam@example.com\n",
	)})
	require.Equal(t, 1, res.SuccessCount)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, "not visible")
	require.Len(t, *h.sleeps, 2*(DefaultVisibilityAttempts-1), "bounded for both records")
}

func TestImporter_CancelBetweenRecords(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := h.importer.Run(ctx, "run-1", csvInput(), func(p Progress) {
		if p.Phase == PhaseImporting && p.Current == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Equal(t, 2, res.SuccessCount)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, h.identity.count())
}

func TestImporter_ReportsProgressAfterEveryRecord(t *testing.T) {
	h := newHarness(t)
	var updates []Progress
	_, err := h.importer.Run(context.Background(), "run-1", csvInput(), func(p Progress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)

	var importing []Progress
	for _, p := range updates {
		require.Equal(t, "run-1", p.RunID)
		if p.Phase == PhaseImporting {
			importing = append(importing, p)
		}
	}
	require.Len(t, importing, 10)
	for i, p := range importing {
		require.Equal(t, i+1, p.Current)
		require.Equal(t, 10, p.Total)
		require.NotEmpty(t, p.Status)
	}
	require.Equal(t, PhaseUpload, updates[0].Phase)
	require.Equal(t, PhasePreview, updates[1].Phase)
	last := updates[len(updates)-1]
	require.Equal(t, PhaseComplete, last.Phase)
	require.Equal(t, 100, last.Percent())
}

func TestImporter_FatalErrorsStopBeforeRecords(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		check func(t *testing.T, err error)
	}{
		{
			name: "missing anchor",
			in:   Input{FileName: "m.csv", Data: []byte("Name,Email\nJane,jane@example.com\n")},
			check: func(t *testing.T, err error) {
				var de *layout.DetectionError
				require.ErrorAs(t, err, &de)
			},
		},
		{
			name: "empty file",
			in:   Input{FileName: "m.csv", Data: []byte("\n\n")},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, tabular.ErrEmptyGrid)
			},
		},
		{
			name: "unsupported extension",
			in:   Input{FileName: "m.pdf", Data: []byte("x")},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, tabular.ErrUnsupportedFormat)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res, err := h.importer.Run(context.Background(), "run-1", tt.in, nil)
			require.Error(t, err)
			tt.check(t, err)
			require.NotEmpty(t, res.Error)
			require.Zero(t, res.SuccessCount)
			require.Zero(t, h.identity.finds)
		})
	}
}

func TestImporter_CatalogFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = errors.New("catalog down")
	_, err := h.importer.Run(context.Background(), "run-1", csvInput(), nil)
	require.ErrorContains(t, err, "catalog down")
}

func TestImporter_IsolatesStoreFailuresAndPanics(t *testing.T) {
	h := newHarness(t)
	// Ids are assigned in row order.
	h.store.failFor["p-1"] = errors.New("connection reset by peer")
	h.store.panicFor["p-2"] = true

	res := h.run(t, csvInput())
	require.Equal(t, 7, res.SuccessCount)
	require.Len(t, res.Errors, 3)
	require.Equal(t, "Alice Able", res.Errors[0].PersonLabel)
	require.Contains(t, res.Errors[0].Message, "save competencies")
	require.Equal(t, "Bob Brown", res.Errors[1].PersonLabel)
	require.Contains(t, res.Errors[1].Message, "internal error")
}

func TestImporter_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	in := csvInput()
	in.DryRun = true

	res := h.run(t, in)
	require.True(t, res.DryRun)
	require.Equal(t, 9, res.SuccessCount)
	require.Zero(t, h.identity.count())
	require.Zero(t, h.store.calls)
}

func TestImporter_BlockSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Training Competencies"
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)

	rows := [][]any{
		{"", "", "", "", "GWO BST", "Induction"},
		{"Employee Name", "Job Position", "Start Date", "Email", "", ""},
		{"EE Details", "", "", "", "Issuing Body", ""},
		{"Jane Doe", "Rope Access Tech", "45366", "jane@example.com", "RenewableUK", "Yes"},
		{"Certificate No", "", "", "", "GWO-123", ""},
		{"Expiry Date", "", "", "", "01/02/2027", ""},
		{"CONTRACTORS", "", "", "", "", ""},
		{"John Smith", "Welder", "", "N/A", "", "Completed"},
		{"", "", "", "", "", ""},
		{"", "", "", "", "", ""},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	h := newHarness(t)
	res := h.run(t, Input{FileName: "matrix.xlsx", Data: buf.Bytes()})
	require.Equal(t, 2, res.SuccessCount)
	require.Empty(t, res.Errors)

	jane, _ := h.identity.byEmail("jane@example.com")
	gwo, ok := h.store.get(jane.ID, "c-gwo")
	require.True(t, ok)
	require.Equal(t, "2027-02-01T00:00:00Z", *gwo.ExpiryDate)
	require.Equal(t, "RenewableUK", *gwo.IssuingBody)
	require.Equal(t, "GWO-123", *gwo.CertificateNumber)

	start, _ := h.store.get(jane.ID, "c-start")
	require.Equal(t, "2024-03-15T00:00:00Z", *start.Value)

	_, ok = h.identity.byEmail("john.smith@example.org")
	require.True(t, ok)
}

func blockWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Training Competencies"
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImporter_BlockCertificationWithoutExpiry(t *testing.T) {
	tests := []struct {
		name   string
		expiry string
	}{
		{name: "empty expiry row", expiry: ""},
		{name: "placeholder expiry", expiry: "n/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := blockWorkbook(t, [][]any{
				{"", "", "", "", "GWO BST", "Induction"},
				{"Employee Name", "Job Position", "Start Date", "Email", "", ""},
				{"EE Details", "", "", "", "Issuing Body", ""},
				{"Jane Doe", "Rope Access Tech", "45366", "jane@example.com", "RenewableUK", "Yes"},
				{"Certificate No", "", "", "", "GWO-123", ""},
				{"Expiry Date", "", "", "", tt.expiry, ""},
			})

			h := newHarness(t)
			res := h.run(t, Input{FileName: "matrix.xlsx", Data: data})
			require.Equal(t, 1, res.SuccessCount)
			require.Empty(t, res.Errors)

			jane, ok := h.identity.byEmail("jane@example.com")
			require.True(t, ok)
			_, ok = h.store.get(jane.ID, "c-gwo")
			require.False(t, ok)
			ind, ok := h.store.get(jane.ID, "c-ind")
			require.True(t, ok)
			require.Equal(t, "Yes", *ind.Value)
		})
	}
}

func TestImporter_Preview(t *testing.T) {
	h := newHarness(t)
	h.catalog.defs = h.catalog.defs[:4]

	p, err := h.importer.Preview(context.Background(), csvInput())
	require.NoError(t, err)
	require.Len(t, p.Records, 10)
	require.Equal(t, layout.Flat, p.Layout.Kind)
	require.Equal(t, []string{"Site Induction"}, p.Unmatched)
	require.Zero(t, h.identity.finds)
	require.Zero(t, h.store.calls)
}

func TestDeriveUsername(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{name: "simple", in: "Jane Doe", want: "janedoe"},
		{name: "diacritics folded", in: "José Núñez", want: "josenunez"},
		{name: "punctuation stripped", in: "Mary-Jane O'Neil", want: "maryjaneoneil"},
		{name: "capped", in: "Bartholomew Featherstonehaugh", maxLen: 10, want: "bartholome"},
		{name: "digits kept", in: "Agent 47", want: "agent47"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DeriveUsername(tt.in, tt.maxLen))
		})
	}

	t.Run("no usable characters is stable", func(t *testing.T) {
		a := DeriveUsername("李雷", 0)
		require.True(t, strings.HasPrefix(a, "user"))
		require.Equal(t, a, DeriveUsername("李雷", 0))
		require.NotEqual(t, a, DeriveUsername("韩梅梅", 0))
	})
}

func TestDistinctUsername(t *testing.T) {
	a := DistinctUsername("janedoe", "jane@south.example.com", 0)
	require.Equal(t, a, DistinctUsername("janedoe", " Jane@South.example.com ", 0))
	require.NotEqual(t, a, DistinctUsername("janedoe", "jane@east.example.com", 0))
	require.True(t, strings.HasPrefix(a, "janedoe"))
	require.Len(t, a, len("janedoe")+6)

	long := DistinctUsername(strings.Repeat("a", 30), "x@example.com", 10)
	require.Len(t, long, 10)
	require.True(t, strings.HasPrefix(long, "aaaa"))
}

func TestSyntheticEmail(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "Jane Doe", want: "jane.doe@example.org"},
		{name: "  Jane   Mary Doe ", want: "jane.doe@example.org"},
		{name: "Cher", want: "cher@example.org"},
		{name: "Zoë O'Brien", want: "zoe.obrien@example.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SyntheticEmail(tt.name, "@example.org"))
		})
	}
}

func TestBackoff(t *testing.T) {
	base, limit := 100*time.Millisecond, time.Second
	require.Zero(t, backoff(0, base, limit))
	require.Equal(t, base, backoff(1, base, limit))
	require.Equal(t, 400*time.Millisecond, backoff(3, base, limit))
	require.Equal(t, limit, backoff(10, base, limit))
	require.Equal(t, limit, backoff(200, base, limit))

	for i := 0; i < 100; i++ {
		j := jitter(10 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.LessOrEqual(t, j, 10*time.Millisecond)
	}
}
