// Package klog builds the structured logger used across kcore.
//
// Loggers write slog text records to the console and, optionally, to a log
// file. The level comes from configuration as DEBUG, INFO, WARN or ERROR.
package klog
