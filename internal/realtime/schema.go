package realtime

import (
	"sync"

	"github.com/invopop/jsonschema"
)

// Protocol describes the socket protocol for the widget build: the schema of
// the data carried by each event type, per direction.
type Protocol struct {
	Envelope       *jsonschema.Schema               `json:"envelope"`
	ClientToServer map[EventType]*jsonschema.Schema `json:"client_to_server"`
	ServerToClient map[EventType]*jsonschema.Schema `json:"server_to_client"`
}

var (
	protocolOnce sync.Once
	protocol     Protocol
)

// ProtocolSchema returns the reflected protocol schema. It is built once.
func ProtocolSchema() Protocol {
	protocolOnce.Do(func() {
		protocol = Protocol{
			Envelope: reflect(Envelope{}),
			ClientToServer: map[EventType]*jsonschema.Schema{
				EventMessage: reflect(ClientMessage{}),
				EventTyping:  reflect(Typing{}),
				EventClose:   reflect(CloseRequest{}),
				EventPong:    reflect(Pong{}),
			},
			ServerToClient: map[EventType]*jsonschema.Schema{
				EventConnected:     reflect(Connected{}),
				EventMessage:       reflect(Message{}),
				EventTyping:        reflect(Typing{}),
				EventStatus:        reflect(Status{}),
				EventChannelLinked: reflect(ChannelLinked{}),
				EventPing:          reflect(Ping{}),
				EventError:         reflect(Error{}),
			},
		}
	})
	return protocol
}

func reflect(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}
