/*
Package localconfig describes which observations update which variables.

The configuration is a small object graph:

	UpdateStep ──▶ Ministep ──▶ ObsSet  (observation keys + active lists)
	                      └───▶ Dataset (variable keys + active lists)

An update step is installed for a range of report steps, or as the default.
Each of its ministeps is analyzed on its own: the observations of its obs set
update the variables of each attached dataset. A variable key may appear in
only one dataset of a ministep.

Configurations are either built in code (AllActive) or read from a command
file:

	-- update the north region against the A wells only
	CREATE_OBSSET     NORTH_OBS
	ADD_OBS           NORTH_OBS  WOPR:A-*
	CREATE_DATASET    NORTH
	ADD_DATA          NORTH      PORO
	ACTIVE_LIST_ADD_MANY_DATA_INDEX NORTH PORO 3 10 11 12
	CREATE_MINISTEP   NORTH_STEP NORTH_OBS
	ATTACH_DATASET    NORTH_STEP NORTH
	CREATE_UPDATESTEP LOCAL
	ATTACH_MINISTEP   LOCAL      NORTH_STEP
	INSTALL_UPDATESTEP LOCAL 0 50

Validate must be run against the variable and observation catalogues before
any forward run starts.
*/
package localconfig
