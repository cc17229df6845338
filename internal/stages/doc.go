// Package stages holds the subscription pipeline stages other than rate
// limiting: request logging, input sanitization, email validation and
// subscription validation.
//
// Every stage rejects by returning a response built from a *pipeline.Error
// and never calls next in that case.
package stages

import "net/http"

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}
