// Package logging builds the service's zap logger.
//
// Production output is JSON; development output is colored console text.
// Components receive named children via Component, so every line carries
// the subsystem that wrote it:
//
//	logger := logging.NewDefault()
//	pipelineLog := logger.Component("pipeline")
//	pipelineLog.Info("Installed add-on", zap.String("addon_id", id))
package logging
