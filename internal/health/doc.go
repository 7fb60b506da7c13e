// Package health keeps the gateway health signal reported with each config
// sync: a bounded ring of the most recent tool failures, a cumulative failure
// counter and the uptime since the last gateway start.
package health
