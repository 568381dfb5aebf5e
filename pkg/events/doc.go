/*
Package events distributes state changes observed by the poller to live
listeners such as WebSocket clients.

The Broker fans each published Event out to every subscriber. Publishing
never blocks the reconciliation loop: events are dropped when the broker
queue is full, and a subscriber whose buffer is full misses the event.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Pipeline, ev.Message)
	}
*/
package events
