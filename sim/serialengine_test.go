package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		engine.Shutdown()
		mockCtrl.Finish()
	})

	It("should schedule events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)

		evt1, _ := engine.Schedule(4, handler1, "evt1")
		evt2, _ := engine.Schedule(2, handler2, "evt2")

		var evt3, evt4 *Event
		handleEvt2 := handler2.EXPECT().Handle(evt2).Do(func(e *Event) {
			evt3, _ = engine.Schedule(1, handler1, "evt3")
			evt4, _ = engine.Schedule(3, handler1, "evt4")
		})
		handleEvt3 := handler1.EXPECT().
			Handle(gomock.Any()).
			Do(func(e *Event) {
				Expect(e).To(BeIdenticalTo(evt3))
				Expect(engine.CurrentTime()).To(Equal(VTimeInSec(3)))
			}).
			After(handleEvt2)
		handleEvt1 := handler1.EXPECT().
			Handle(evt1).
			After(handleEvt3)
		handler1.EXPECT().
			Handle(gomock.Any()).
			Do(func(e *Event) {
				Expect(e).To(BeIdenticalTo(evt4))
			}).
			After(handleEvt1)

		Expect(engine.AdvanceTo(10)).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(10)))
	})

	It("should fire same-time events in registration order", func() {
		order := make([]int, 0)
		for i := 0; i < 20; i++ {
			i := i
			_, err := engine.Schedule(1, HandlerFunc(func(e *Event) error {
				order = append(order, i)
				return nil
			}), nil)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(engine.AdvanceTo(1)).To(Succeed())

		expected := make([]int, 20)
		for i := range expected {
			expected[i] = i
		}
		Expect(order).To(Equal(expected))
	})

	It("should fire events scheduled for now before moving on", func() {
		handler := NewMockHandler(mockCtrl)
		late, _ := engine.Schedule(2, handler, "late")

		first := handler.EXPECT().
			Handle(gomock.Any()).
			Do(func(e *Event) {
				Expect(e.Payload).To(Equal("early"))
				_, _ = engine.Schedule(0, handler, "same-instant")
			})
		second := handler.EXPECT().
			Handle(gomock.Any()).
			Do(func(e *Event) {
				Expect(e.Payload).To(Equal("same-instant"))
				Expect(engine.CurrentTime()).To(Equal(VTimeInSec(1)))
			}).
			After(first)
		handler.EXPECT().Handle(late).After(second)

		_, _ = engine.Schedule(1, handler, "early")

		Expect(engine.AdvanceTo(5)).To(Succeed())
	})

	It("should stop at the target time", func() {
		handler := NewMockHandler(mockCtrl)
		evt, _ := engine.Schedule(5, handler, nil)

		Expect(engine.AdvanceTo(3)).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(3)))
		Expect(engine.Pending()).To(Equal(1))

		t, ok := engine.NextEventTime()
		Expect(ok).To(BeTrue())
		Expect(t).To(Equal(VTimeInSec(5)))

		handler.EXPECT().Handle(evt)
		Expect(engine.AdvanceTo(5)).To(Succeed())
		Expect(engine.Pending()).To(Equal(0))

		_, ok = engine.NextEventTime()
		Expect(ok).To(BeFalse())
	})

	It("should not fire cancelled events", func() {
		handler := NewMockHandler(mockCtrl)
		evt, _ := engine.Schedule(1, handler, nil)

		Expect(engine.Cancel(evt)).To(BeTrue())
		Expect(engine.Cancel(evt)).To(BeFalse())
		Expect(evt.Cancelled()).To(BeTrue())
		Expect(engine.Pending()).To(Equal(0))

		Expect(engine.AdvanceTo(2)).To(Succeed())
		Expect(evt.Fired()).To(BeFalse())
	})

	It("should not cancel fired events", func() {
		handler := NewMockHandler(mockCtrl)
		evt, _ := engine.Schedule(1, handler, nil)
		handler.EXPECT().Handle(evt)

		Expect(engine.AdvanceTo(1)).To(Succeed())

		Expect(engine.Cancel(evt)).To(BeFalse())
	})

	It("should reject negative delay", func() {
		handler := NewMockHandler(mockCtrl)

		_, err := engine.Schedule(-1, handler, nil)

		Expect(IsInvalidState(err)).To(BeTrue())
	})

	It("should reject moving backward", func() {
		Expect(engine.AdvanceTo(3)).To(Succeed())

		err := engine.AdvanceTo(2)

		Expect(IsInvalidState(err)).To(BeTrue())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(3)))
	})

	It("should invoke hooks around events", func() {
		handler := NewMockHandler(mockCtrl)
		hook := NewMockHook(mockCtrl)
		engine.AcceptHook(hook)

		evt, _ := engine.Schedule(1, handler, nil)

		before := hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosBeforeEvent))
			Expect(ctx.Item).To(BeIdenticalTo(evt))
		})
		handling := handler.EXPECT().Handle(evt).After(before)
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosAfterEvent))
		}).After(handling)

		Expect(engine.AdvanceTo(1)).To(Succeed())
	})

	It("should keep running when a handler returns an error", func() {
		handler := NewMockHandler(mockCtrl)
		evt1, _ := engine.Schedule(1, handler, nil)
		evt2, _ := engine.Schedule(2, handler, nil)

		first := handler.EXPECT().Handle(evt1).Return(&InvalidStateError{Op: "x"})
		handler.EXPECT().Handle(evt2).After(first)

		Expect(engine.AdvanceTo(2)).To(Succeed())
	})

	It("should refuse to advance after shutdown", func() {
		engine.Shutdown()

		Expect(IsInvalidState(engine.AdvanceTo(1))).To(BeTrue())
	})
})
