/*
Package update applies one analysis step to the ensemble.

An update step is a list of ministeps. For each ministep the Updater collects
the simulated responses of the ministep's observation set, deactivates
observations with no ensemble spread or too far from the ensemble, and hands
the resulting matrices to the analysis module. Each dataset of the ministep is
then packed into the state matrix A, one row per active element and one
column per member:

	     iens 0   iens 1   ...  iens N-1
	    +--------+--------+----+---------+
	 0  | PORO[0]                        |  <- RowEntry{Key: PORO, RowOffset: 0}
	 .  | ...                            |
	 k  | PERMX[3]                       |  <- RowEntry{Key: PERMX, RowOffset: k}
	    +--------+--------+----+---------+

A is replaced by A·X (or updated in place by the module) and scattered back
into ANALYZED nodes of the target store. A key that was already updated
earlier in the same update step is read back from the target, so successive
ministeps build on each other.

After all ministeps, variables with a MinStd floor are inflated.
*/
package update
