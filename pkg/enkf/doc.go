/*
Package enkf is the driver of an ensemble experiment.

Main ties the configuration, the variable and observation catalogues, the
local analysis configuration, the case registry and the analysis module
together, and sequences forward runs and updates:

	RunExperiment    init ──► run [0, last]
	RunAssimilation  init ──► run [s0, s1] ──► update s1 ──► run [s1, s2] ──► update s2 ...
	RunSmoother      init ──► run [0, last] ──► update parameters into target case ──► (rerun)

Forward models communicate through plain text files in the member's run
path: every parameter is exported as <KEY>.txt with one value per line, and
the model writes each dynamic variable as <KEY>_<step>.txt. A missing or
malformed result file turns the member into a LOAD_FAILURE.

Parameters are initialized at report step 0, either drawn from their priors
(InitializeFromScratch) or copied from another case (InitializeFromExisting),
optionally re-ranked by a stored value.
*/
package enkf
