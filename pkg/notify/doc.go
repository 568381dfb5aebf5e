/*
Package notify delivers build notifications by email and Slack.

A Dispatcher owns a bounded queue and one worker goroutine. The reconciler
calls NotifyBuildSuccess, NotifyBuildFailure and NotifyBuildRecovered, which
render a Message and enqueue it without blocking; when the queue is full the
message is dropped with a warning. The worker hands each message to every
Channel. Delivery errors are logged and counted in
pipewatch_notifications_total but never returned to the caller.

	dispatcher := notify.NewDispatcher(notify.Options{QueueSize: 100},
		notify.NewEmailChannel(emailCfg),
		notify.NewSlackChannel(webhookURL),
	)
	dispatcher.Start()
	defer dispatcher.Close()
*/
package notify
