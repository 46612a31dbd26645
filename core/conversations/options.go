package conversations

// Option configures a Context.
type Option func(*Context)

// WithMaxEvents sets the retention limit. Values <= 0 keep every event.
func WithMaxEvents(maxEvents int) Option {
	return func(c *Context) {
		if maxEvents < 0 {
			maxEvents = 0
		}
		c.maxEvents = maxEvents
	}
}
