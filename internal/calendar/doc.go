// Package calendar parses calendar schedule expressions and computes their
// next fire instants.
//
// # Fields
//
// An Expression combines seven independently parsed fields: second, minute,
// hour, day-of-month, month, day-of-week and year. Each field accepts:
//
//   - "*" (any value)
//   - a single value: "9", "mon", "jan"
//   - a range: "1-5", "fri-mon" (wraps), "15-last" (day-of-month only)
//   - a list of values and ranges: "1,15,20-25"
//   - an increment: "*/15", "5/20" (second, minute, hour, day-of-month)
//
// Day-of-month also accepts "last" and "-N" (N days before the last day of
// the month). Day-of-week uses 0=Sunday..6=Saturday; 7 is accepted as Sunday.
//
// # Evaluation
//
// Next evaluates fields from the largest unit to the smallest. When a field
// has to move forward, every smaller field is reset and evaluation restarts
// from the year, so a carry into a shorter month re-validates the day. When
// both day-of-month and day-of-week are restricted, a day matches if either
// matches.
package calendar
