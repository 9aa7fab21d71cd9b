package busstore

// Hook observes a store's local activity. Methods run synchronously on the
// goroutine that triggered them and must not block.
type Hook interface {
	// OnPublish runs after an envelope is handed to the producer.
	OnPublish(name string, args []any)
	// OnSent runs once the bus accepted the envelope, or with the error
	// that kept it from being sent.
	OnSent(name string, err error)
	OnSubscribe(name string)
	OnUnsubscribe(name string)
}

// HookFuncs adapts plain functions into a Hook. Nil fields are skipped.
type HookFuncs struct {
	Publish     func(name string, args []any)
	Sent        func(name string, err error)
	Subscribe   func(name string)
	Unsubscribe func(name string)
}

func (h HookFuncs) OnPublish(name string, args []any) {
	if h.Publish != nil {
		h.Publish(name, args)
	}
}

func (h HookFuncs) OnSent(name string, err error) {
	if h.Sent != nil {
		h.Sent(name, err)
	}
}

func (h HookFuncs) OnSubscribe(name string) {
	if h.Subscribe != nil {
		h.Subscribe(name)
	}
}

func (h HookFuncs) OnUnsubscribe(name string) {
	if h.Unsubscribe != nil {
		h.Unsubscribe(name)
	}
}
