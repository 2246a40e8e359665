package ps

import (
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
)

const WM_QUIT = 0x12

// MSG
type Message struct {
	Hwnd    uint32
	Message uint32
	WParam  uint32
	LParam  uint32
	Time    uint32
	X, Y    int32
}

// MessageQueue holds the posted messages of a GUI thread.
type MessageQueue struct {
	Posted     []Message
	QuitPosted bool
	ExitCode   uint32
	// set while messages or a quit are pending
	Ready *ob.Event
}

func NewMessageQueue() *MessageQueue {
	return &MessageQueue{Ready: ob.NewEvent(ob.NotificationEvent, false)}
}

func (q *MessageQueue) update() {
	if len(q.Posted) > 0 || q.QuitPosted {
		q.Ready.Set()
	} else {
		q.Ready.Reset()
	}
}

func (q *MessageQueue) Post(msg Message) {
	q.Posted = append(q.Posted, msg)
	q.update()
}

func (q *MessageQueue) PostQuitMessage(code uint32) {
	q.QuitPosted = true
	q.ExitCode = code
	q.update()
}

// Peek returns the first pending message, optionally removing it. A quit
// request is returned as WM_QUIT once the posted messages are drained.
func (q *MessageQueue) Peek(remove bool) (Message, bool) {
	if len(q.Posted) > 0 {
		msg := q.Posted[0]
		if remove {
			q.Posted = q.Posted[1:]
			q.update()
		}
		return msg, true
	}
	if q.QuitPosted {
		if remove {
			q.QuitPosted = false
			q.update()
		}
		return Message{Message: WM_QUIT, WParam: q.ExitCode}, true
	}
	return Message{}, false
}

// EnsureQueue returns the thread's message queue, creating it on first use.
func (t *Thread) EnsureQueue() *MessageQueue {
	if t.Queue == nil {
		t.Queue = NewMessageQueue()
	}
	return t.Queue
}

// GetMessage blocks until a message is available and removes it.
func (t *Thread) GetMessage() (Message, models.Status) {
	q := t.EnsureQueue()
	for {
		if msg, ok := q.Peek(true); ok {
			return msg, models.STATUS_SUCCESS
		}
		if status := t.Wait([]ob.Waitable{q.Ready}, false, nil); status != models.STATUS_WAIT_0 {
			return Message{}, status
		}
	}
}
