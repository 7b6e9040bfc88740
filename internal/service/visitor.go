package service

import "context"

// Visitor is what the widget connection reveals about a browser customer.
// It is stored on the ticket created for the session.
type Visitor struct {
	PageURL string
	IP      string
	City    string
}

type visitorKey struct{}

func WithVisitor(ctx context.Context, v Visitor) context.Context {
	return context.WithValue(ctx, visitorKey{}, v)
}

func VisitorFrom(ctx context.Context) Visitor {
	v, _ := ctx.Value(visitorKey{}).(Visitor)
	return v
}
