// Package api implements the HTTP handlers of the labelling task service.
//
// Every endpoint under /task is a POST taking a JSON body and answering with
// the shared.Envelope format. Authentication happens in middleware; handlers
// read the principal from the request context, call the task service and map
// its errors to statuses through MapErrorToStatusCode.
package api
