// Package stompspec provides a durable STOMP-over-WebSocket pub/sub client
// with automatic reconnection and transparent re-subscription.
//
// # Key Features
//
//   - One physical connection per Client, never duplicated: concurrent
//     Connect calls collapse onto a single in-flight attempt
//   - Subscribe-before-connect: subscriptions requested while inactive are
//     queued and promoted, in registration order, on activation
//   - Automatic reconnection at a fixed delay, indefinitely, with all
//     subscriptions re-established without caller involvement
//   - Bearer-token credential injection on every connect attempt
//   - Disposer-style unsubscribe backed by registry ownership
//
// # Frame Protocol
//
// The client speaks STOMP 1.2 with one frame per WebSocket text message:
//
//	CONNECT
//	accept-version:1.1,1.2
//	host:/
//	Authorization:Bearer <token>
//
//	^@
//
// # Usage Example
//
//	client, err := stompspec.NewClient(stompspec.Config{
//	    URL:    "ws://localhost:8080/ws/websocket",
//	    Tokens: stompspec.StaticToken(token),
//	})
//	if err != nil {
//	    return err
//	}
//
//	// Subscriptions may be requested before connecting
//	dispose, _ := client.Subscribe("/topic/admin/map", func(topic string, body []byte) {
//	    // handle message
//	})
//	defer dispose()
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
// Delivery ordering is preserved per topic; cross-topic ordering is
// unspecified. Unsubscribing is synchronous from the caller's perspective,
// except that a message already in flight in the read loop may be delivered
// once more after the disposer returns.
package stompspec
