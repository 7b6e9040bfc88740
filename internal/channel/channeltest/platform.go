// Package channeltest provides a recording channel.Platform for tests.
package channeltest

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"supportdesk.app/relay/internal/channel"
)

type Sent struct {
	ID  string
	Dst channel.Destination
	Msg channel.Outgoing
}

type Edited struct {
	Dst       channel.Destination
	MessageID string
	Edit      channel.Edit
}

// Platform records every call. The Err fields make the matching call fail;
// SendErr may be limited to one destination with FailDst.
type Platform struct {
	mu      sync.Mutex
	nextID  int
	threads []string
	sent    []Sent
	edits   []Edited
	pins    []string
	typing  []channel.Destination

	threadCalls int

	CreateThreadErr error
	// CreateThreadHook runs before each CreateThread with the 1-based call
	// number; a non-nil error fails that call.
	CreateThreadHook func(call int) error
	SendErr         error
	FailDst         *channel.Destination
	EditErr         error
	PinErr          error
	Files           map[string]string
}

func New() *Platform {
	return &Platform{nextID: 100}
}

func (p *Platform) CreateThread(_ context.Context, title string) (int64, error) {
	p.mu.Lock()
	p.threadCalls++
	call, hook := p.threadCalls, p.CreateThreadHook
	p.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return 0, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateThreadErr != nil {
		return 0, p.CreateThreadErr
	}
	p.threads = append(p.threads, title)
	p.nextID++
	return int64(p.nextID), nil
}

func (p *Platform) Send(_ context.Context, dst channel.Destination, msg channel.Outgoing) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil && (p.FailDst == nil || *p.FailDst == dst) {
		return "", p.SendErr
	}
	p.nextID++
	id := strconv.Itoa(p.nextID)
	p.sent = append(p.sent, Sent{ID: id, Dst: dst, Msg: msg})
	return id, nil
}

func (p *Platform) Edit(_ context.Context, dst channel.Destination, messageID string, edit channel.Edit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EditErr != nil {
		return p.EditErr
	}
	p.edits = append(p.edits, Edited{Dst: dst, MessageID: messageID, Edit: edit})
	return nil
}

func (p *Platform) Pin(_ context.Context, _ channel.Destination, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PinErr != nil {
		return p.PinErr
	}
	p.pins = append(p.pins, messageID)
	return nil
}

func (p *Platform) SendTyping(_ context.Context, dst channel.Destination) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, dst)
	return nil
}

func (p *Platform) OpenFile(_ context.Context, fileID string) (*channel.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body, ok := p.Files[fileID]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &channel.File{
		Body:        io.NopCloser(strings.NewReader(body)),
		ContentType: "application/octet-stream",
		Size:        int64(len(body)),
	}, nil
}

func (p *Platform) Threads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.threads...)
}

func (p *Platform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// SentTo returns the messages delivered to dst.
func (p *Platform) SentTo(dst channel.Destination) []Sent {
	var out []Sent
	for _, s := range p.Sent() {
		if s.Dst == dst {
			out = append(out, s)
		}
	}
	return out
}

func (p *Platform) Edits() []Edited {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Edited(nil), p.edits...)
}

func (p *Platform) Pins() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pins...)
}

func (p *Platform) Typing() []channel.Destination {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]channel.Destination(nil), p.typing...)
}

var _ channel.Platform = (*Platform)(nil)
