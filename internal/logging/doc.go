// Package logging provides structured logging for waypoint.
//
// The Logger wraps Zap with:
//   - A custom Trace level (-2, below Debug)
//   - Output to stderr, keeping stdout free for command results
//   - An optional OpenTelemetry log bridge
//   - Automatic context fields (trace_id, project, checkpoint.id)
//   - Redaction of sensitive field names
//
// Usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithCheckpointID(ctx, "CP_1_001")
//	logger.Info(ctx, "checkpoint created")
//
// Tests use NewTestLogger, which records entries in memory:
//
//	tl := logging.NewTestLogger()
//	svc := checkpoint.NewManager(..., checkpoint.WithLogger(tl.Logger))
//	tl.AssertLogged(t, zapcore.WarnLevel, "legacy checkpoint")
package logging
