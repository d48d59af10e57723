// Package secrets redacts credentials from text captured into checkpoints.
//
// Two detectors run over the same content: a small set of fast regexp rules
// for well-known token shapes, and the gitleaks default rule set. Matches from
// both are merged and replaced with "[REDACTED:<rule-id>]" markers. Findings
// never carry the secret itself.
//
// Allowlists are TOML files with an [allowlist] table, the same shape as a
// project's .gitleaks.toml, so an existing gitleaks allowlist can be reused.
package secrets
