package realtime_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/realtime"
)

var _ = Describe("Registry", func() {
	var (
		ctx      context.Context
		registry *realtime.Registry
		session  uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		registry = realtime.NewRegistry(realtime.RegistryConfig{})
		session = uuid.New()
	})

	Describe("Add", func() {
		It("keeps a single connection per session and closes the superseded one", func() {
			first := &fakeSocket{}
			second := &fakeSocket{}

			registry.Add(session, 0, first)
			registry.Add(session, 0, second)

			Expect(registry.Len()).To(Equal(1))
			closed, code := first.isClosed()
			Expect(closed).To(BeTrue())
			Expect(code).To(Equal(realtime.CloseSuperseded))

			Expect(registry.Send(ctx, session, realtime.EventPing, realtime.Ping{Timestamp: 1})).To(BeTrue())
			Expect(second.types()).To(Equal([]realtime.EventType{realtime.EventPing}))
			Expect(first.types()).To(BeEmpty())
		})

		It("does not let a superseded socket evict its successor", func() {
			first := &fakeSocket{}
			second := &fakeSocket{}
			registry.Add(session, 0, first)
			registry.Add(session, 0, second)

			Expect(registry.Remove(session, first)).To(BeFalse())
			Expect(registry.Len()).To(Equal(1))

			Expect(registry.Remove(session, second)).To(BeTrue())
			Expect(registry.Remove(session, second)).To(BeFalse())
			Expect(registry.Len()).To(BeZero())
		})
	})

	Describe("Send", func() {
		It("returns false for unknown sessions", func() {
			Expect(registry.Send(ctx, uuid.New(), realtime.EventPing, nil)).To(BeFalse())
		})

		It("returns false when the write fails", func() {
			registry.Add(session, 0, &fakeSocket{writeErr: errors.New("broken pipe")})
			Expect(registry.Send(ctx, session, realtime.EventPing, nil)).To(BeFalse())
		})
	})

	Describe("SendToTicket", func() {
		It("reaches a session once it is bound to the ticket", func() {
			socket := &fakeSocket{}
			registry.Add(session, 0, socket)

			Expect(registry.SendToTicket(ctx, 42, realtime.EventStatus, realtime.Status{})).To(BeFalse())

			Expect(registry.Bind(session, 42)).To(BeTrue())
			Expect(registry.SendToTicket(ctx, 42, realtime.EventStatus, realtime.Status{})).To(BeTrue())
			Expect(socket.types()).To(Equal([]realtime.EventType{realtime.EventStatus}))
		})

		It("forgets the ticket when the connection is removed", func() {
			socket := &fakeSocket{}
			registry.Add(session, 42, socket)
			registry.Remove(session, socket)

			Expect(registry.SendToTicket(ctx, 42, realtime.EventStatus, nil)).To(BeFalse())
		})

		It("moves the index when a session is rebound", func() {
			registry.Add(session, 1, &fakeSocket{})
			registry.Bind(session, 2)

			Expect(registry.SendToTicket(ctx, 1, realtime.EventStatus, nil)).To(BeFalse())
			Expect(registry.SendToTicket(ctx, 2, realtime.EventStatus, nil)).To(BeTrue())
		})

		It("delivers to one of several tabs of the same ticket", func() {
			a, b := &fakeSocket{}, &fakeSocket{}
			registry.Add(uuid.New(), 7, a)
			registry.Add(uuid.New(), 7, b)

			Expect(registry.SendToTicket(ctx, 7, realtime.EventStatus, nil)).To(BeTrue())
			Expect(len(a.types()) + len(b.types())).To(Equal(1))
		})
	})

	It("broadcasts to every connection", func() {
		a, b := &fakeSocket{}, &fakeSocket{writeErr: errors.New("gone")}
		registry.Add(uuid.New(), 0, a)
		registry.Add(uuid.New(), 0, b)

		Expect(registry.Broadcast(ctx, realtime.EventPing, realtime.Ping{})).To(Equal(1))
	})

	Describe("Cleanup", func() {
		It("closes only connections idle past the limit", func() {
			now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			registry.SetClock(func() time.Time { return now })

			idle := &fakeSocket{}
			active := &fakeSocket{}
			activeSession := uuid.New()
			registry.Add(session, 3, idle)
			registry.Add(activeSession, 4, active)

			now = now.Add(10 * time.Minute)
			registry.Touch(activeSession)

			Expect(registry.Cleanup(5 * time.Minute)).To(Equal(1))
			closed, code := idle.isClosed()
			Expect(closed).To(BeTrue())
			Expect(code).To(Equal(realtime.CloseIdleTimeout))
			Expect(registry.Len()).To(Equal(1))
			Expect(registry.SendToTicket(ctx, 3, realtime.EventPing, nil)).To(BeFalse())
		})
	})

	Describe("Run", func() {
		It("pings connections until stopped", func() {
			registry = realtime.NewRegistry(realtime.RegistryConfig{
				PingInterval: 10 * time.Millisecond,
				CleanupEvery: time.Hour,
			})
			socket := &fakeSocket{}
			registry.Add(session, 0, socket)

			done := make(chan error, 1)
			go func() { done <- registry.Run(ctx) }()

			Eventually(socket.types).Should(ContainElement(realtime.EventPing))
			registry.Stop()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("can be stopped without running", func() {
			Expect(registry.Stop).NotTo(Panic())
		})
	})
})
