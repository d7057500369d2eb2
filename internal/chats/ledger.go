package chats

import (
	"context"
	"errors"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
)

// PendingPrefix marks provisional message ids. Server ids never carry it.
const PendingPrefix = "pending-"

// IsPending reports whether id belongs to a provisional message.
func IsPending(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

func newPendingID() string {
	return PendingPrefix + shortuuid.New()
}

// Pending tracks one in-flight send.
type Pending struct {
	// ID is the provisional message id in the chat's list.
	ID     string
	ChatID string

	cancel context.CancelFunc
	done   chan struct{}
	msg    *models.Message
	err    error
}

// Done is closed once the send has been confirmed or rolled back.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until reconciliation and returns the confirmed message or the
// error that caused the rollback.
func (p *Pending) Wait() (*models.Message, error) {
	<-p.done
	return p.msg, p.err
}

// Cancel aborts the send; the provisional entry is rolled back.
func (p *Pending) Cancel() {
	p.cancel()
}

type sendResult struct {
	msg *models.Message
	err error
}

// Post appends a provisional user message to chatID and starts sending it.
// The entry is visible in Messages when Post returns.
func (d *Directory) Post(ctx context.Context, chatID, content string, attachments []models.Attachment) (*Pending, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, d.fail("send message", &models.ValidationError{Field: "content", Message: "message cannot be empty"})
	}
	if _, ok := d.Get(chatID); !ok {
		return nil, d.fail("send message", &models.NotFoundError{Kind: "chat", ID: chatID})
	}

	atts := append([]models.Attachment{}, attachments...)
	provisional := models.Message{
		ID:          newPendingID(),
		Content:     content,
		Sender:      models.SenderUser,
		Timestamp:   d.now(),
		Attachments: atts,
	}
	d.store.Update(func(s State) State {
		list := make([]models.Message, 0, len(s.Messages[chatID])+1)
		list = append(list, s.Messages[chatID]...)
		s.Messages = withMessages(s.Messages, chatID, append(list, provisional))
		return s
	})

	var sendCtx context.Context
	var cancel context.CancelFunc
	if d.sendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
	} else {
		sendCtx, cancel = context.WithCancel(ctx)
	}
	p := &Pending{ID: provisional.ID, ChatID: chatID, cancel: cancel, done: make(chan struct{})}
	go d.reconcile(sendCtx, p, content, atts)
	return p, nil
}

// Send posts a message and waits for it to be confirmed or rolled back.
func (d *Directory) Send(ctx context.Context, chatID, content string, attachments []models.Attachment) (*models.Message, error) {
	p, err := d.Post(ctx, chatID, content, attachments)
	if err != nil {
		return nil, err
	}
	return p.Wait()
}

func (d *Directory) reconcile(ctx context.Context, p *Pending, content string, attachments []models.Attachment) {
	defer close(p.done)
	defer p.cancel()

	results := make(chan sendResult, 1)
	go func() {
		msg, err := d.api.SendMessage(ctx, p.ChatID, content, attachments)
		results <- sendResult{msg, err}
	}()

	var res sendResult
	select {
	case res = <-results:
	case <-ctx.Done():
		res.err = &models.TransportError{Op: "failed to send message", Err: ctx.Err()}
	}
	if res.err == nil && res.msg == nil {
		res.err = &models.TransportError{Op: "failed to send message", Err: errors.New("empty response")}
	}
	if res.err == nil && res.msg.ID == "" {
		res.err = &models.TransportError{Op: "failed to send message", Err: errors.New("response carried no message id")}
	}
	if res.err == nil && IsPending(res.msg.ID) {
		res.err = &models.TransportError{Op: "failed to send message", Err: errors.New("server returned a provisional id")}
	}

	if res.err != nil {
		d.rollback(p, res.err)
		p.err = res.err
		return
	}

	confirmed := *res.msg
	if confirmed.Attachments == nil {
		confirmed.Attachments = []models.Attachment{}
	}
	d.store.Update(func(s State) State {
		list, ok := s.Messages[p.ChatID]
		if !ok {
			return s
		}
		// A fetch that finished mid-send may already hold the confirmed copy.
		fetched := false
		for _, m := range list {
			if m.ID == confirmed.ID {
				fetched = true
				break
			}
		}
		next := make([]models.Message, 0, len(list))
		for _, m := range list {
			switch {
			case m.ID != p.ID:
				next = append(next, m)
			case !fetched:
				next = append(next, confirmed)
			}
		}
		s.Messages = withMessages(s.Messages, p.ChatID, next)
		return s
	})
	d.logger.Debug("message confirmed", zap.String("chat", p.ChatID), zap.String("pending", p.ID), zap.String("id", confirmed.ID))
	p.msg = &confirmed
}

// rollback removes the provisional entry of p and records err.
func (d *Directory) rollback(p *Pending, err error) {
	d.logger.Warn("send message", zap.String("chat", p.ChatID), zap.String("pending", p.ID), zap.Error(err))
	d.store.Update(func(s State) State {
		s.Err = err.Error()
		list, ok := s.Messages[p.ChatID]
		if !ok {
			return s
		}
		next := make([]models.Message, 0, len(list))
		for _, m := range list {
			if m.ID != p.ID {
				next = append(next, m)
			}
		}
		s.Messages = withMessages(s.Messages, p.ChatID, next)
		return s
	})
}

// AppendServerMessage appends msg to chatID as-is, e.g. an agent reply.
func (d *Directory) AppendServerMessage(chatID string, msg models.Message) {
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	d.store.Update(func(s State) State {
		list := make([]models.Message, 0, len(s.Messages[chatID])+1)
		list = append(list, s.Messages[chatID]...)
		s.Messages = withMessages(s.Messages, chatID, append(list, msg))
		return s
	})
}
