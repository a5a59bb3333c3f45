package map_pool

import (
	"mapforge/internal/tile"
)

// renderRequest travels over an entry's unbuffered request channel. Each
// request carries its own one-shot reply channel, so concurrent callers of
// the same renderer can never read each other's results.
type renderRequest struct {
	ext   tile.Extent
	reply chan renderReply
}

type renderReply struct {
	data []byte
	err  error
}

// RenderChannel is a caller's handle on one pooled renderer. It stays valid
// across the worker's whole life; once the worker retires, renders fail with
// ErrWorkerUnavailable and the caller re-acquires.
type RenderChannel struct {
	entry *entry
}

// Render hands the extent to the renderer's worker and waits for the image.
// The handoff is a rendezvous: it blocks while the worker is constructing or
// busy with another caller's render.
func (c *RenderChannel) Render(ext tile.Extent) ([]byte, error) {
	// Buffered so the worker's reply can never block on a caller.
	reply := make(chan renderReply, 1)

	select {
	case c.entry.requests <- renderRequest{ext: ext, reply: reply}:
		res := <-reply
		return res.data, res.err

	case <-c.entry.done:
		if c.entry.err != nil {
			return nil, c.entry.err
		}
		return nil, ErrWorkerUnavailable
	}
}
