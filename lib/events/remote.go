package events

// Remote is implemented by transports that carry events to peers outside this process
// (other processes, a websocket peer). The client calls it; it never calls back synchronously.
type Remote interface {
	// SubscribeToRemote asks peers to start sending name.
	SubscribeToRemote(name string)

	// UnsubscribeFromRemote asks peers to stop sending name.
	UnsubscribeFromRemote(name string)

	// PublishToRemote sends an event to peers known to listen for it.
	PublishToRemote(name string, args []any, publisher string)
}

// Inbound is what a transport calls when it learns about remote activity.
// *Client implements it.
type Inbound interface {
	OnRemoteSubscribe(name string)
	OnRemoteUnsubscribe(name string)
	OnRemoteUnsubscribeAll()
	OnRemotePublish(name string, args []any, publisher string)
}

var _ Inbound = &Client{}
