// Package logging provides structured logging for vibeflow runs.
//
// A [Logger] writes JSON records to {logDir}/debug.log (size-rotated) and,
// optionally, human-readable lines to the console. Child loggers created
// with [Logger.WithTask] additionally mirror every record into
// {logDir}/{taskID}.log, and [Logger.WithPhase] does the same for
// {logDir}/{phase}.log when no task file is attached. This gives every
// failure a console line, a durable JSON record, and a per-task or
// per-phase transcript an operator can tail while a run is in progress.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(".vibe_logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger = logger.WithConsole(os.Stderr)
//	taskLog := logger.WithPhase("factory").WithTask("task_1")
//	taskLog.Info("attempt started", "attempt", 0)
//
// # Thread Safety
//
// All types are safe for concurrent use. Child loggers share the
// underlying writers.
package logging
