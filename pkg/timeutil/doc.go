// Package timeutil provides calendar date arithmetic for loan due dates and
// human-readable relative time formatting.
//
// # Usage
//
//	due := timeutil.AddDays(borrowedAt, 14)              // same wall-clock time, 14 calendar days later
//	timeutil.Overdue(due, nil, time.Now())               // true once due has passed and the loan is open
//	timeutil.Relative(time.Now().Add(-5 * time.Minute))  // "5 minutes ago"
//	timeutil.Relative(time.Now().Add(2 * time.Hour))     // "in 2 hours"
package timeutil
