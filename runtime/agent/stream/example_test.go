package stream_test

import (
	"fmt"

	"goa.design/symposium/runtime/agent/stream"
)

// Events emitted before a subscriber attaches are delivered on Subscribe.
func Example() {
	ch := stream.NewChannel("thread-1")
	ch.Emit(stream.EventOutput, stream.OutputPayload{Text: "Hi"})

	ch.Subscribe(stream.EventOutput, func(e stream.Event) {
		fmt.Println(e.Payload.(stream.OutputPayload).Text)
	})
	ch.Emit(stream.EventOutput, stream.OutputPayload{Text: "there"})
	// Output:
	// Hi
	// there
}
