// Package insights derives rolling build statistics from stored builds and
// turns them into remediation advice.
package insights
