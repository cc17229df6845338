// Package mailer sends transactional email through the Brevo HTTP API and
// fans newsletters out to subscribers at a bounded rate.
package mailer
