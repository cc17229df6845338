// Package pipeline runs a request through an ordered list of stages before it
// reaches a terminal handler.
//
// A Stage sees the request and the rest of the chain as next. It can reject
// by returning its own Response without calling next, modify the request
// before calling next, or decorate whatever next returns. Rejections are
// responses carrying an *Error body; a returned Go error means something
// broke and becomes a 500 at the HTTP boundary.
package pipeline
