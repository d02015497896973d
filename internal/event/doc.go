/*
Package event provides a pub/sub event system for the agent core.

Publishers (the session lifecycle and the permission checker) emit events
without knowing who listens. Transports, UIs and tests subscribe.

# Architecture

Direct subscribers are invoked with the typed Event so Properties keep their
Go type. Every published event is also JSON encoded onto a watermill
gochannel topic (Topic) which Stream consumers read as StreamedEvent values.

# Event Types

Session Events:
  - session.created: New session created
  - session.updated: Session modified (title, revert cursor, summary)
  - session.deleted: Session removed

Message Events:
  - message.updated: Message appended or modified
  - message.removed: Message dropped by undo or a committed revert
  - part.updated: Message part updated (streaming)

Permission Events:
  - permission.requested: An "ask" decision is waiting for a response
  - permission.responded: A pending request was resolved

# Basic Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.PermissionRequested, func(e event.Event) {
		data := e.Properties.(event.PermissionRequestedData)
		logging.Info().Str("id", data.ID).Msg("permission requested")
	})
	defer unsubscribe()

Streaming the JSON form:

	events, err := bus.Stream(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		fmt.Println(ev.Type, string(ev.Properties))
	}

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the publisher's
goroutine. Subscribers MUST complete quickly, must not publish re-entrantly and
must not acquire locks the publisher might hold. The permission checker
publishes while holding no locks, so a subscriber may call Respond directly.

# Testing

Core components accept the Publisher interface. Tests may pass a *Bus or a
recording fake. Reset replaces the global bus.
*/
package event
