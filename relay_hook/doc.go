// Package relayhook publishes saga lifecycle events onto a watermill
// message.Publisher so downstream systems (webhook relays, analytics,
// audit sinks) can consume them. Each lifecycle hook emits a JSON message
// whose topic is the event type (saga.execution.completed,
// saga.step.failed, etc.) unless WithTopic routes everything to one topic.
//
// Usage:
//
//	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))
//	hook := relayhook.New(pubsub)
//	engine.WithExtension(hook)
//
// To restrict which events are published:
//
//	hook := relayhook.New(pubsub,
//	    relayhook.WithEvents(
//	        relayhook.EventExecutionCompleted,
//	        relayhook.EventExecutionFailed,
//	    ),
//	)
//
// Every message carries the metadata keys event_type, execution_id,
// tenant_id and correlation_id.
package relayhook
