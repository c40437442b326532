// Package core drives competency imports.
//
// It turns an uploaded training matrix into people and competency values and
// has no HTTP dependencies, so the web server, the importctl command and tests
// all use it directly.
//
// # Pipeline
//
// [Importer.Run] processes one file end to end:
//
//  1. The file is decoded into a grid (CSV or the first sheet of an XLSX).
//  2. The layout is detected from the "Employee Name" anchor.
//  3. Header labels are resolved through the label map.
//  4. Rows become records; separators, blanks and rows without email are dropped.
//  5. Each record is normalized, its person found or created, and its
//     competencies written with one bulk upsert.
//
// A failing record is reported in [ImportResult.Errors] and the run moves on.
// Failures before the first record (decode, layout, catalog) end the run with
// [PhaseFailed].
//
// # Runs
//
// [Service] runs imports in the background under an [ImportLimiter], keeps
// their progress for subscribers and evicts finished runs after a retention
// period. A [ProgressPublisher] can mirror progress to other instances.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Codes
// are grouped by area: FILE (upload), LAY (layout), IMP (import runs), DB
// (database) and REQ (requests).
package core
