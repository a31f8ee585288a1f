// Package transcript renders a stored thread for export.
//
// Markdown produces a plain document with the heading as a title and one
// User/AI block per exchange. HTML converts that document with goldmark and
// wraps it in a minimal page. Raw HTML inside messages is not passed through.
package transcript
