// Package project describes the project a waypoint root belongs to.
//
// The description lives in <root>/project.toml:
//
//	id          = "6f1c..."      # UUID assigned at init
//	name        = "my-service"
//	path        = "/home/me/src/my-service"
//	type        = "go"            # detected from build files
//	methodology = "sdlc"          # research | sdlc | empty
//	created_at  = 2026-03-01T12:00:00Z
//
// The file is descriptive. Its presence counts toward the recovery
// completeness score, and status displays it, but no operation depends on
// its contents.
package project
