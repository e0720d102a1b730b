/*
Package types defines the small set of values shared by every package of the
assimilation engine.

# Core Types

State addressing:
  - Node: the data vector of one variable for one ensemble member
  - NodeID: (report step, member index, phase) coordinates of a node
  - StatePhase: forecast (before update) or analyzed (after update)

Catalogue classification:
  - VarType: parameter, dynamic state or dynamic result

Run bookkeeping:
  - RunMode: assimilation, smoother, experiment or init-only
  - RunStatus: run_ok, run_failure, load_failure, inactive
  - MemberStatus: per-member outcome with run path, failing job and reason

Types in this package carry no behaviour beyond trivial helpers and are safe to
import from any other package.
*/
package types
