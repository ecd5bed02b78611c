package events

import "testing"

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher

	// The service treats the publisher as optional; a nil receiver must be a
	// no-op, not a panic.
	p.QueryAnswered(QueryAnswered{PatientID: "p1", Query: "q"})
	p.Close()
}
