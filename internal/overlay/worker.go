package overlay

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/raine/sherlockcombs/internal/cache"
	"github.com/raine/sherlockcombs/internal/page"
	"github.com/raine/sherlockcombs/internal/pipeline"
)

type messageType int

const (
	msgStartRun messageType = iota
	msgStageStarted
	msgCompleted
	msgRunFinished
	msgShowLoading
	msgShowResults
	msgShowFailure
	msgPlaceBadge
	msgTogglePin
	msgClose
	msgOpenOffer
	msgClickBadge
	msgSnapshot
	msgStatusTick
	msgDismiss
)

// message is a unit of work for the session worker. Fields after the
// inputs are written by the worker and may be read once Done is closed.
type message struct {
	Type messageType
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	RunID     string
	PanelID   string
	URL       string
	Match     *page.Image
	Stage     pipeline.Stage
	Entry     cache.Entry
	Cached    bool
	Outcome   pipeline.Outcome
	Index     int
	Container string

	// Results
	Text       string
	Err        error
	Pinned     bool
	Superseded bool
	Snapshot   Snapshot
	run        *activeRun

	cancel context.CancelFunc // Cancels the run being started
}

// runWorker is the main worker loop that processes messages sequentially.
func (c *Controller) runWorker() {
	defer c.wg.Done()
	defer close(c.exited)

	for {
		select {
		case <-c.ctx.Done():
			if c.run != nil {
				c.run.cancel()
			}
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-c.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-c.inbox:
			c.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (c *Controller) processMessage(msg *message) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Str("session", c.id).
				Interface("panic", r).
				Msg("recovered from panic in overlay worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	switch msg.Type {
	case msgStartRun:
		msg.run = c.startRun(msg.URL, msg.cancel)
	case msgStageStarted:
		if run := c.currentRun(msg.RunID); run != nil {
			c.showLoading(run.url, run.match, msg.Stage)
		}
	case msgCompleted:
		c.completed(msg.RunID, msg.Entry, msg.Cached)
	case msgRunFinished:
		msg.Superseded = c.finishRun(msg.RunID, msg.Outcome)
	case msgShowLoading:
		c.showLoading(msg.URL, msg.Match, msg.Stage)
	case msgShowResults:
		c.showResults(msg.URL, msg.Match, msg.Entry)
	case msgShowFailure:
		c.showFailure(msg.URL, msg.Match, msg.Stage, msg.Err)
	case msgPlaceBadge:
		msg.Err = c.placeBadge(msg.Match, msg.Text, msg.URL, msg.Entry)
	case msgTogglePin:
		msg.Pinned, msg.Err = c.togglePin()
	case msgClose:
		msg.Err = nil
		if c.panel == nil {
			msg.Err = ErrNoPanel
		}
		c.removePanel()
	case msgOpenOffer:
		msg.Text, msg.Err = c.openOffer(msg.Index)
	case msgClickBadge:
		msg.Err = c.clickBadge(msg.Container)
	case msgSnapshot:
		msg.Snapshot = c.snapshot()
	case msgStatusTick:
		c.advanceStatus(msg.PanelID)
	case msgDismiss:
		c.dismiss(msg.PanelID)
	default:
		log.Error().Str("session", c.id).Int("type", int(msg.Type)).Msg("unknown overlay message")
	}
}

// send queues a message for processing by the worker.
// This is non-blocking once the message is queued.
func (c *Controller) send(msg *message) {
	select {
	case c.inbox <- msg:
	case <-c.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// sendSync queues a message and waits for it to be processed.
func (c *Controller) sendSync(msg *message) {
	msg.Done = make(chan struct{})
	c.send(msg)
	select {
	case <-msg.Done:
	case <-c.exited:
	}
}
