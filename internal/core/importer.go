package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/competency-import/internal/competency"
	"github.com/JonMunkholm/competency-import/internal/config"
	"github.com/JonMunkholm/competency-import/internal/extract"
	"github.com/JonMunkholm/competency-import/internal/layout"
	"github.com/JonMunkholm/competency-import/internal/logging"
	"github.com/JonMunkholm/competency-import/internal/normalize"
	"github.com/JonMunkholm/competency-import/internal/schema"
	"github.com/JonMunkholm/competency-import/internal/tabular"
)

// ErrPersonNotVisible is returned when a person cannot be found after
// creation or a conflict within the visibility budget.
var ErrPersonNotVisible = errors.New("person not visible after creation")

// Defaults for Options.
const (
	DefaultEmailDomain          = "imported.local"
	DefaultRole                 = "inspector"
	DefaultVisibilityAttempts   = 5
	DefaultVisibilityBaseDelay  = 100 * time.Millisecond
	DefaultVisibilityMaxBackoff = 2 * time.Second
)

// Options tunes an Importer. Zero values fall back to the defaults above.
type Options struct {
	// EmailDomain is used for synthesized addresses.
	EmailDomain    string
	TempCredential string
	Role           string
	OrgID          string

	UsernameMaxLength int
	MaxTextLength     int

	VisibilityAttempts   int
	VisibilityBaseDelay  time.Duration
	VisibilityMaxBackoff time.Duration
}

// OptionsFromConfig maps the import section of the configuration.
func OptionsFromConfig(c config.ImportConfig) Options {
	return Options{
		EmailDomain:          c.EmailDomain,
		TempCredential:       c.TempCredential,
		Role:                 c.Role,
		OrgID:                c.OrgID,
		UsernameMaxLength:    c.UsernameMaxLength,
		MaxTextLength:        c.MaxTextLength,
		VisibilityAttempts:   c.VisibilityAttempts,
		VisibilityMaxBackoff: c.VisibilityMaxBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.EmailDomain == "" {
		o.EmailDomain = DefaultEmailDomain
	}
	if o.Role == "" {
		o.Role = DefaultRole
	}
	if o.UsernameMaxLength <= 0 {
		o.UsernameMaxLength = DefaultUsernameMaxLength
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = normalize.DefaultMaxTextLength
	}
	if o.VisibilityAttempts <= 0 {
		o.VisibilityAttempts = DefaultVisibilityAttempts
	}
	if o.VisibilityBaseDelay <= 0 {
		o.VisibilityBaseDelay = DefaultVisibilityBaseDelay
	}
	if o.VisibilityMaxBackoff <= 0 {
		o.VisibilityMaxBackoff = DefaultVisibilityMaxBackoff
	}
	return o
}

// Importer runs the import pipeline against the three collaborator services.
// It holds no per-run state and is safe for concurrent use.
type Importer struct {
	catalog  competency.Catalog
	identity competency.Identity
	store    competency.Store
	labels   *schema.Table
	opts     Options
	norm     normalize.Normalizer

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewImporter creates an Importer. A nil labels table uses the embedded default.
func NewImporter(catalog competency.Catalog, identity competency.Identity, store competency.Store, labels *schema.Table, opts Options) *Importer {
	if labels == nil {
		labels = schema.Default()
	}
	opts = opts.withDefaults()
	return &Importer{
		catalog:  catalog,
		identity: identity,
		store:    store,
		labels:   labels,
		opts:     opts,
		norm:     normalize.Normalizer{MaxTextLength: opts.MaxTextLength},
		sleep:    sleepCtx,
	}
}

// Labels returns the label table in use.
func (im *Importer) Labels() *schema.Table {
	return im.labels
}

// Prepared is a decoded and extracted file, ready to import.
type Prepared struct {
	Grid    *tabular.Grid
	Layout  layout.Layout
	Columns schema.ColumnMap
	Records []extract.Record
	Stats   extract.Stats
}

// Prepare runs decode, layout detection, header resolution and extraction.
// It performs no I/O beyond reading in.Data and is safe to repeat.
func (im *Importer) Prepare(in Input, idx competency.Index) (*Prepared, error) {
	format := in.Format
	if format == "" {
		f, err := tabular.FormatFromName(in.FileName)
		if err != nil {
			return nil, &tabular.DecodeError{Format: format, Err: err}
		}
		format = f
	}

	grid, err := tabular.DecodeBytes(in.Data, format)
	if err != nil {
		return nil, err
	}

	l, err := layout.Detect(grid, in.Layout)
	if err != nil {
		return nil, err
	}

	cols := im.labels.Resolve(grid.Row(l.HeaderRow1), grid.Row(l.HeaderRow2), grid.Width(), l.AnchorColumn)

	x := &extract.Extractor{Table: im.labels}
	if idx != nil {
		x.Types = idx.FieldType
	}
	records, stats := x.Extract(grid, l, cols)

	return &Prepared{Grid: grid, Layout: l, Columns: cols, Records: records, Stats: stats}, nil
}

// Catalog fetches the competency definitions.
func (im *Importer) Catalog(ctx context.Context) ([]competency.Definition, error) {
	defs, err := im.catalog.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list competency definitions: %w", err)
	}
	return defs, nil
}

// Preview prepares in and reports what an import would do. Nothing is written.
func (im *Importer) Preview(ctx context.Context, in Input) (*Preview, error) {
	defs, err := im.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	idx := competency.NewIndex(defs)

	p, err := im.Prepare(in, idx)
	if err != nil {
		return nil, err
	}

	var unmatched []string
	for _, c := range p.Columns {
		if c.Label == schema.LabelEmployeeName || c.Label == schema.LabelEmail {
			continue
		}
		if _, ok := idx.Lookup(c.Label); !ok {
			unmatched = append(unmatched, c.Label)
		}
	}

	return &Preview{
		FileName:  in.FileName,
		Format:    p.Grid.Format,
		Sheet:     p.Grid.Sheet,
		Encoding:  p.Grid.Encoding,
		Layout:    p.Layout,
		Columns:   p.Columns,
		Stats:     p.Stats,
		Records:   p.Records,
		Unmatched: unmatched,
	}, nil
}

// Run imports in end to end. The returned error is non-nil only for failures
// that stop the run before any record is processed (catalog, decode, layout);
// the result then carries the same message in Error. Per-record failures are
// collected in the result.
func (im *Importer) Run(ctx context.Context, runID string, in Input, progress ProgressFunc) (ImportResult, error) {
	start := time.Now()
	ctx = logging.WithRun(ctx, runID)
	log := logging.WithFields(ctx, "file", in.FileName, "dry_run", in.DryRun)
	report := func(p Progress) {
		if progress != nil {
			p.RunID = runID
			p.FileName = in.FileName
			progress(p)
		}
	}
	fail := func(err error) (ImportResult, error) {
		log.Error("import failed", "error", err)
		report(Progress{Phase: PhaseFailed, Status: "Import failed", Error: err.Error()})
		return ImportResult{RunID: runID, FileName: in.FileName, DryRun: in.DryRun, Error: err.Error(), Duration: time.Since(start)}, err
	}

	report(Progress{Phase: PhaseUpload, Status: "Reading file"})

	defs, err := im.Catalog(ctx)
	if err != nil {
		return fail(err)
	}
	idx := competency.NewIndex(defs)

	p, err := im.Prepare(in, idx)
	if err != nil {
		return fail(err)
	}

	total := len(p.Records)
	report(Progress{Phase: PhasePreview, Total: total, Status: fmt.Sprintf("Found %d people", total)})
	log.Info("import started", "records", total, "layout", p.Layout.Kind, "skipped_rows", p.Stats.Skipped, "rejected_rows", p.Stats.Rejected)

	t := newTally()
	cancelled := false
	for i, rec := range p.Records {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		o := im.importRecord(ctx, log, idx, rec, in.DryRun)
		if o.err != nil && ctx.Err() != nil {
			cancelled = true
			break
		}
		for _, label := range o.skipped {
			if !t.hasSkipped(label) {
				log.Warn("no competency definition for column, skipping", "label", label, "row", rec.RowIndex)
			}
		}
		if o.err != nil {
			log.Warn("record failed", "row", rec.RowIndex, "person", rec.Name, "error", o.err)
		}
		t = t.fold(o)

		report(Progress{
			Phase:     PhaseImporting,
			Current:   i + 1,
			Total:     total,
			Succeeded: t.success,
			Failed:    len(t.errors),
			Status:    fmt.Sprintf("Processed %s (%d of %d)", rec.Name, i+1, total),
		})
	}

	res := t.result(runID, in.FileName, total)
	res.DryRun = in.DryRun
	res.Cancelled = cancelled
	res.Duration = time.Since(start)

	status := fmt.Sprintf("Imported %d of %d people", res.SuccessCount, total)
	if cancelled {
		status = fmt.Sprintf("Cancelled after %d of %d people", res.SuccessCount+len(res.Errors), total)
	}
	report(Progress{
		Phase:     PhaseComplete,
		Current:   res.SuccessCount + len(res.Errors),
		Total:     total,
		Succeeded: res.SuccessCount,
		Failed:    len(res.Errors),
		Status:    status,
	})
	log.Info("import finished",
		"succeeded", res.SuccessCount,
		"failed", len(res.Errors),
		"cancelled", cancelled,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// outcome is the result of one record.
type outcome struct {
	row     int
	label   string
	skipped []string
	err     error
}

// tally accumulates outcomes in record order.
type tally struct {
	success int
	errors  []RowError
	skipped []string
}

func newTally() tally {
	return tally{}
}

func (t tally) hasSkipped(label string) bool {
	return slices.Contains(t.skipped, label)
}

func (t tally) fold(o outcome) tally {
	for _, label := range o.skipped {
		if !t.hasSkipped(label) {
			t.skipped = append(t.skipped, label)
		}
	}
	if o.err != nil {
		t.errors = append(t.errors, RowError{RowIndex: o.row, PersonLabel: o.label, Message: o.err.Error()})
		return t
	}
	t.success++
	return t
}

func (t tally) result(runID, fileName string, total int) ImportResult {
	return ImportResult{
		RunID:         runID,
		FileName:      fileName,
		Total:         total,
		SuccessCount:  t.success,
		Errors:        slices.Clone(t.errors),
		SkippedLabels: slices.Clone(t.skipped),
	}
}

// importRecord processes one record. Panics are converted to record errors.
func (im *Importer) importRecord(ctx context.Context, log *slog.Logger, idx competency.Index, rec extract.Record, dryRun bool) (o outcome) {
	o = outcome{row: rec.RowIndex, label: rec.Name}
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("internal error: %v", r)
		}
	}()

	items, skipped, err := im.normalizeRecord(idx, rec)
	o.skipped = skipped
	if err != nil {
		o.err = err
		return o
	}

	email := rec.Email
	if rec.NeedsSyntheticEmail() {
		email = SyntheticEmail(rec.Name, im.opts.EmailDomain)
	}
	if dryRun {
		return o
	}

	person, err := im.resolvePerson(ctx, log, rec.Name, email)
	if err != nil {
		o.err = err
		return o
	}
	if len(items) == 0 {
		return o
	}

	for i := range items {
		items[i].PersonID = person.ID
	}
	if err := im.store.BulkUpsert(ctx, person.ID, items); err != nil {
		o.err = fmt.Errorf("save competencies: %w", err)
	}
	return o
}

// normalizeRecord converts the fields of rec into competencies. Labels without
// a catalog definition are returned in skipped. A value in a date field that
// is present but unreadable fails the record.
func (im *Importer) normalizeRecord(idx competency.Index, rec extract.Record) (items []competency.Competency, skipped []string, err error) {
	for _, f := range rec.Fields {
		def, ok := idx.Lookup(f.Label)
		if !ok {
			skipped = append(skipped, f.Label)
			continue
		}

		c := competency.Competency{CompetencyID: def.ID, Status: competency.StatusActive}
		if f.Cert != nil {
			expiry, present, err := im.date(f.Cert.ExpiryDate)
			if err != nil {
				return nil, skipped, fmt.Errorf("%s: %w", f.Label, err)
			}
			if !present {
				continue
			}
			c.ExpiryDate = &expiry
			c.IssuingBody = im.text(f.Cert.IssuingBody)
			c.CertificateNumber = im.text(f.Cert.CertificateNumber)
			items = append(items, c)
			continue
		}

		if def.FieldType.IsDate() {
			v, present, err := im.date(f.Value)
			if err != nil {
				return nil, skipped, fmt.Errorf("%s: %w", f.Label, err)
			}
			if !present {
				continue
			}
			if def.FieldType == competency.FieldExpiryDate {
				c.ExpiryDate = &v
			} else {
				c.Value = &v
			}
			items = append(items, c)
			continue
		}

		v, ok := im.norm.Normalize(f.Value, def.FieldType)
		if !ok {
			continue
		}
		c.Value = &v
		items = append(items, c)
	}
	return items, skipped, nil
}

// date parses a date cell. present is false for sentinels.
func (im *Importer) date(raw string) (iso string, present bool, err error) {
	if normalize.IsSentinel(raw) {
		return "", false, nil
	}
	t, err := normalize.ParseDate(raw)
	if err != nil {
		return "", false, err
	}
	return normalize.FormatDate(t), true, nil
}

// text normalizes an optional text cell.
func (im *Importer) text(raw string) *string {
	v, ok := im.norm.Normalize(raw, competency.FieldText)
	if !ok {
		return nil
	}
	return &v
}

// resolvePerson finds a person by email or derived username and creates one
// when neither matches. A creation conflict means another writer got there
// first; the existing person is used.
func (im *Importer) resolvePerson(ctx context.Context, log *slog.Logger, name, email string) (competency.Person, error) {
	username := DeriveUsername(name, im.opts.UsernameMaxLength)

	p, ok, taken, err := im.lookupPerson(ctx, email, username)
	if err != nil {
		return competency.Person{}, err
	}
	if ok {
		return p, nil
	}
	if taken {
		username = DistinctUsername(username, email, im.opts.UsernameMaxLength)
		log.Info("username taken by another person", "email", email, "username", username)
	}

	created, err := im.identity.CreatePerson(ctx, competency.NewPerson{
		Email:          email,
		Username:       username,
		DisplayName:    name,
		TempCredential: im.opts.TempCredential,
		Role:           im.opts.Role,
		OrgID:          im.opts.OrgID,
	})
	switch {
	case errors.Is(err, competency.ErrConflict):
		log.Info("person already exists, reusing", "email", email, "username", username)
		return im.awaitPerson(ctx, email, username)
	case err != nil:
		return competency.Person{}, fmt.Errorf("create person: %w", err)
	}

	if created.ID == "" {
		return im.awaitPerson(ctx, email, username)
	}
	// Later records rely on lookups seeing this person.
	if _, err := im.awaitPerson(ctx, email, username); err != nil {
		if ctx.Err() != nil {
			return competency.Person{}, ctx.Err()
		}
		log.Warn("created person not yet visible", "email", email, "person_id", created.ID)
	}
	return created, nil
}

func (im *Importer) findPerson(ctx context.Context, email, username string) (competency.Person, bool, error) {
	p, ok, _, err := im.lookupPerson(ctx, email, username)
	return p, ok, err
}

// lookupPerson is findPerson that also reports a username held by a person
// with a different real address.
func (im *Importer) lookupPerson(ctx context.Context, email, username string) (p competency.Person, ok, taken bool, err error) {
	people, err := im.identity.FindPeople(ctx, competency.PersonFilter{Email: email, Username: username})
	if err != nil {
		return competency.Person{}, false, false, fmt.Errorf("find person: %w", err)
	}
	p, ok, taken = pickPerson(people, email, username, im.synthetic)
	return p, ok, taken, nil
}

// synthetic reports whether email was generated for a person without one.
func (im *Importer) synthetic(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return email == "" || (at >= 0 && strings.EqualFold(email[at+1:], im.opts.EmailDomain))
}

// awaitPerson re-queries with bounded exponential backoff until the person is
// visible.
func (im *Importer) awaitPerson(ctx context.Context, email, username string) (competency.Person, error) {
	for attempt := 1; attempt <= im.opts.VisibilityAttempts; attempt++ {
		p, ok, err := im.findPerson(ctx, email, username)
		if err != nil {
			return competency.Person{}, err
		}
		if ok {
			return p, nil
		}
		if attempt == im.opts.VisibilityAttempts {
			break
		}
		d := backoff(attempt, im.opts.VisibilityBaseDelay, im.opts.VisibilityMaxBackoff)
		if err := im.sleep(ctx, d+jitter(d/4)); err != nil {
			return competency.Person{}, err
		}
	}
	return competency.Person{}, fmt.Errorf("%w: %s", ErrPersonNotVisible, email)
}

// pickPerson prefers an exact email match. A username match is used only when
// one of the two addresses is synthesized; two different real addresses belong
// to different people who share a name, reported as taken.
func pickPerson(people []competency.Person, email, username string, synthetic func(string) bool) (competency.Person, bool, bool) {
	for _, p := range people {
		if email != "" && strings.EqualFold(p.Email, email) {
			return p, true, false
		}
	}
	var taken bool
	for _, p := range people {
		if username == "" || p.Username != username {
			continue
		}
		if synthetic(email) || synthetic(p.Email) {
			return p, true, false
		}
		taken = true
	}
	return competency.Person{}, false, taken
}
