package example

type TicketStatus string

const (
	TicketStatusNew    TicketStatus = "NEW"
	TicketStatusClosed TicketStatus = "CLOSED"
)

type Channel string

const (
	ChannelWeb      Channel = "WEB"
	ChannelPlatform Channel = "PLATFORM"
)

type Ticket struct {
	Status TicketStatus
}

type MessageMapEntry struct {
	Channel Channel
	Text    string
}

func bad() {
	t := &Ticket{}
	t.Status = "ARCHIVED" // want "enum field Status assigned string literal"

	e := MessageMapEntry{Channel: "EMAIL"} // want "enum field Channel assigned string literal"
	_ = e
}

func good() {
	t := &Ticket{}
	t.Status = TicketStatusClosed // OK: using constant

	e := MessageMapEntry{Channel: ChannelWeb, Text: "hello"} // OK: Text is not an enum
	_ = e
}

func alsoGood() {
	// OK: Variable, not literal
	status := TicketStatusNew
	t := &Ticket{Status: status}
	_ = t
}
