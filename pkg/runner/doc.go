/*
Package runner coordinates forward-model batches.

A batch goes through five phases:

 1. prepare: run directories are created (and purged first when PreClear is
    set) and each member's input is exported, in parallel over the pool
 2. the runpath list is rewritten
 3. submit: one job per active member is added to a queue.Queue whose run
    loop lives on its own goroutine
 4. await: the coordinator blocks on the queue's Done channel
 5. collect: job results become member statuses; results of successful runs
    are loaded, and a load error turns the member into LOAD_FAILURE

The batch succeeds only when every active member ends RUN_OK. Failures are
logged with run path, failing job and reason and are never retried.
*/
package runner
