// Package comm provides a single-program multiple-data execution harness.
// Ranks run as goroutines launched by Run and coordinate exclusively through
// point-to-point messages and synchronous collectives, so code written against
// a Comm follows the matched-operation discipline of a message-passing
// communicator: every rank must issue the same collectives in the same order.
package comm

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// mailboxCap bounds the number of in-flight messages per ordered pair of
// ranks. Collectives enqueue at most two messages per pair before draining.
const mailboxCap = 16

// Comm is one rank's endpoint of a communicator. All ranks of a communicator
// share the mailbox matrix; Comm values are not safe for use by more than one
// goroutine.
type Comm struct {
	rank  int
	size  int
	box   [][]chan any // box[src][dst]
	world bool
}

// Run launches size ranks, each executing body with its own Comm, and waits
// for all of them. The first non-nil error is returned. A rank that returns
// early while others are blocked in a collective will deadlock the remaining
// ranks, so errors discovered locally should be agreed on via Check first.
func Run(size int, body func(*Comm) error) error {
	if size < 1 {
		return fmt.Errorf("communicator size %d < 1", size)
	}

	box := newMailboxes(size)

	g := new(errgroup.Group)
	for r := 0; r < size; r++ {
		c := &Comm{rank: r, size: size, box: box, world: true}
		g.Go(func() error {
			return body(c)
		})
	}
	return g.Wait()
}

func newMailboxes(size int) [][]chan any {
	box := make([][]chan any, size)
	for i := range box {
		box[i] = make([]chan any, size)
		for j := range box[i] {
			box[i][j] = make(chan any, mailboxCap)
		}
	}
	return box
}

// Rank returns this rank's index within the communicator.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the communicator.
func (c *Comm) Size() int { return c.size }

// IsWorld reports whether this communicator is the one created by Run.
// Communicators obtained from Split report false.
func (c *Comm) IsWorld() bool { return c.world }

func (c *Comm) send(dst int, v any) {
	if dst == c.rank {
		panic("comm: send to self")
	}
	c.box[c.rank][dst] <- v
}

func (c *Comm) recv(src int) any {
	if src == c.rank {
		panic("comm: recv from self")
	}
	return <-c.box[src][c.rank]
}

// Send transfers a copy of data to rank dst. Messages between a fixed pair of
// ranks arrive in the order they were sent.
func (c *Comm) Send(dst int, data []float64) {
	cp := make([]float64, len(data))
	copy(cp, data)
	c.send(dst, cp)
}

// Recv returns the next float64 message from rank src, blocking until one
// arrives.
func (c *Comm) Recv(src int) []float64 {
	return c.recv(src).([]float64)
}

// SendComplex transfers a copy of data to rank dst.
func (c *Comm) SendComplex(dst int, data []complex128) {
	cp := make([]complex128, len(data))
	copy(cp, data)
	c.send(dst, cp)
}

// RecvComplex returns the next complex128 message from rank src.
func (c *Comm) RecvComplex(src int) []complex128 {
	return c.recv(src).([]complex128)
}

// Split partitions the communicator by color. Ranks passing the same color
// form a new communicator, ordered by their rank in the parent. The returned
// communicator reports IsWorld() == false. Split is itself a collective.
func (c *Comm) Split(color int) *Comm {
	colors := c.AllgatherInts([]int{color})

	var members []int
	for r, col := range colors {
		if col == color {
			members = append(members, r)
		}
	}

	newRank := 0
	for i, m := range members {
		if m == c.rank {
			newRank = i
		}
	}

	// The lowest member allocates the shared mailbox matrix and hands it
	// to the others through the parent communicator.
	var box [][]chan any
	if members[0] == c.rank {
		box = newMailboxes(len(members))
		for _, m := range members[1:] {
			c.send(m, box)
		}
	} else {
		box = c.recv(members[0]).([][]chan any)
	}

	return &Comm{rank: newRank, size: len(members), box: box, world: false}
}
