// Package scan turns a rule into scored candidates by walking the corpus
// index. A scan never writes; committing candidates is package commit's job.
//
// For every cohort section a rule considers:
//  1. the article-concept gate runs (an empty constraint admits everything)
//  2. the heading is matched against the filter's positive literals, trying
//     exact, then substring, then partial token overlap
//  3. the Scorer turns the match into a confidence and tier
//  4. conflict policies against scopes already occupying the section are
//     attached
//
// Sections whose own heading does not match fall back to their clause
// headings, producing clause-level candidates.
package scan
