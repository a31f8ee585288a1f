// Package heading names conversation threads.
//
// A heading is generated once, from the first exchange of a new thread, and
// stored with it. The model is asked for a short title without commas or
// brackets; Sanitize enforces that locally since models do not always
// comply.
package heading
