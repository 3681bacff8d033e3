// Package ir provides the data model shared by every reduce package.
//
// This package contains the compiled recipe representation, the reduction
// data model (datasets, user parameters, calibration records, requests,
// step history) and the error taxonomy. All other internal packages import
// ir; ir imports nothing internal.
//
// Key design constraints:
//   - Compiled programs are immutable once built
//   - Dataset identity is derived from content, never from the filename
//   - Canonical JSON (sorted keys, NFC strings) is the only hash input
//   - All JSON tags use snake_case
package ir
