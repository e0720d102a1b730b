/*
Package events provides an in-memory event broker for engine progress.

Components publish events as members finish, batches complete and updates
are applied; the CLI subscribes to print progress. Delivery is best effort:
a subscriber whose buffer is full misses events rather than blocking the
publisher.

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each)

Event types:

	member.run_ok        a member's forward run and result load succeeded
	member.run_failed    a forward-model step failed
	member.load_failed   the run finished but results could not be loaded
	batch.started        a forward-model batch was submitted
	batch.completed      a batch finished; Metadata["success"] is "true" or "false"
	ministep.skipped     a ministep had no active observations
	update.completed     an analysis update was applied
	case.selected        the current case changed

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Message)
		}
	}()

	broker.Publish(events.New(events.EventBatchCompleted, "batch done", nil))

Publish on a nil *Broker does nothing, so components take an optional broker.
*/
package events
