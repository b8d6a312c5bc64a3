// Package report renders fit diagnostics: pull and reduced chi-square
// histograms as PNG files, and per-iteration convergence charts as HTML.
package report
