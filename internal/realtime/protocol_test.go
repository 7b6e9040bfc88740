package realtime_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
)

var _ = Describe("MessageFromEntry", func() {
	ref := "file-1"
	duration := 3
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	It("renders staff voice messages with a media url", func() {
		msg := realtime.MessageFromEntry(&model.MessageMapEntry{
			ID:        99,
			Direction: model.DirectionStaffToCustomer,
			Channel:   model.ChannelWeb,
			Kind:      model.ContentKindVoice,
			MediaRef:  &ref,
			Duration:  &duration,
			CreatedAt: created,
		})

		Expect(msg.From).To(Equal(realtime.FromStaff))
		Expect(msg.VoiceURL).To(Equal("/api/v1/widget/media/99"))
		Expect(msg.ImageURL).To(BeEmpty())
		Expect(msg.Timestamp).To(Equal("2026-03-01T10:00:00Z"))
	})

	It("renders customer text", func() {
		msg := realtime.MessageFromEntry(&model.MessageMapEntry{
			ID:        5,
			Direction: model.DirectionCustomerToStaff,
			Channel:   model.ChannelWeb,
			Kind:      model.ContentKindText,
			Text:      "hello",
			CreatedAt: created,
		})
		Expect(msg.From).To(Equal(realtime.FromCustomer))
		Expect(msg.Text).To(Equal("hello"))
		Expect(msg.ID).To(Equal("5"))
	})
})

var _ = Describe("ProtocolSchema", func() {
	It("describes every event in both directions", func() {
		p := realtime.ProtocolSchema()
		Expect(p.ClientToServer).To(HaveKey(realtime.EventClose))
		Expect(p.ServerToClient).To(HaveKey(realtime.EventConnected))

		b, err := json.Marshal(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring("isTyping"))
	})
})
