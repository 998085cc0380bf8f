// Package domain holds the Job model, its lifecycle states and the error taxonomy
// shared by the API, the worker and the stores.
package domain
