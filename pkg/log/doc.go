/*
Package log provides structured logging using zerolog.

A single global Logger is configured once by Init, normally from the
command line before the experiment is bootstrapped. Components derive child
loggers that carry their scope as fields:

	logger := log.WithComponent("update")
	logger.Info().Str("update_step", step.Name).Msg("Starting update")

	member := log.WithMember(3)
	member.Error().Str("job", "SIM").Msg("Forward model failed")

The level methods of zerolog.Logger have pointer receivers, so bind the
returned logger to a variable before logging.

Output is human-readable console text by default and JSON when
JSONOutput is set:

	{"level":"info","component":"runner","members":100,"time":"...","message":"Starting forward run batch"}

Fields used across the engine:

	component   runner, queue, update, storage, enkf, metrics
	iens        member index
	case        current case name
	ministep    local analysis ministep

Levels are debug, info, warn and error; unknown level strings fall back to
info. The global level is process wide, so Init affects loggers derived
before the call as well.
*/
package log
