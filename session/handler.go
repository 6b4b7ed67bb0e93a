package session

import (
	"context"
	"encoding/json"
	"time"

	"node.town/hark/capture"
	"node.town/hark/conversation"
	"node.town/hark/realtime"
	"node.town/hark/stt"
)

const (
	transcribeTimeout = 2 * time.Minute
	toolTimeout       = time.Minute
)

// Every handler below runs on the loop goroutine with s.mu held, so each
// event is applied completely before the next one is looked at. A run
// that is no longer current is ignored.

func (s *Session) handleOpened(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != r {
		return
	}
	s.status = StatusConnected
	s.notify()

	var decls []realtime.Tool
	for _, t := range s.opts.Tools.List() {
		decls = append(decls, realtime.Tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	s.send(r, realtime.NewSessionUpdate(realtime.SessionConfig{
		Instructions: s.opts.Instructions,
		Tools:        decls,
	}))
}

func (s *Session) handleMessage(r *run, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != r {
		return
	}

	s.rawSeq++
	s.raw = append(s.raw, RawMessage{
		Epoch:    r.gen,
		Seq:      s.rawSeq,
		Received: time.Now(),
		Data:     json.RawMessage(raw),
	})
	defer s.notify()

	ev, err := realtime.Decode(raw)
	if err != nil {
		s.log.Warn("bad message", "err", err)
		return
	}

	switch e := ev.(type) {
	case realtime.SpeechStarted:
		s.speechStarted(r)
	case realtime.SpeechStopped:
		s.speechStopped(r)
	case realtime.AudioCommitted, realtime.InputTranscription:
		// the local transcription is authoritative
	case realtime.TranscriptDelta:
		s.conv.AppendDelta(e.Delta)
	case realtime.TranscriptDone:
		// a barge-in may already have put the user's turn at the tail
		if tail, ok := s.conv.Tail(); ok && tail.Role == conversation.RoleAssistant {
			s.conv.MarkTailFinal()
		}
	case realtime.FunctionCallArgumentsDone:
		s.functionCall(r, e)
	case realtime.Unknown:
		s.log.Debug("ignored", "type", e.Type)
	}
}

func (s *Session) speechStarted(r *run) {
	r.turn++
	if r.settle != nil {
		r.settle.Stop()
		r.settle = nil
	}

	if _, ok := s.conv.Get(s.ephemeralID); ok {
		// a turn that never finished: keep its entry for this one
		s.conv.Update(s.ephemeralID, conversation.Patch{
			Text:   conversation.Text(joinText(s.carried, Placeholder)),
			Status: conversation.StatusOf(conversation.StatusSpeaking),
		})
		s.log.Debug("turn overlap", "entry", s.ephemeralID, "turn", r.turn)
	} else {
		e := s.conv.Append(conversation.Entry{
			Role:   conversation.RoleUser,
			Text:   Placeholder,
			Status: conversation.StatusSpeaking,
		})
		s.ephemeralID = e.ID
	}
	r.pipeline.Reset()
}

func (s *Session) speechStopped(r *run) {
	if s.ephemeralID == "" {
		return
	}
	s.conv.Update(s.ephemeralID, conversation.Patch{
		Status: conversation.StatusOf(conversation.StatusProcessing),
	})
	r.pipeline.RequestFlush()

	turn := r.turn
	if r.settle != nil {
		r.settle.Stop()
	}
	r.settle = time.AfterFunc(s.opts.SettleDelay, func() {
		r.post(settled{turn: turn})
	})
}

func (s *Session) handleChunk(r *run, c capture.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != r {
		return
	}
	r.pipeline.Append(c)
}

func (s *Session) sampleVolume(r *run) {
	level := r.conn.Level()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != r || level == s.volume {
		return
	}
	s.volume = level
	s.notify()
}

func (s *Session) handleEvent(r *run, ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != r {
		return
	}
	defer s.notify()

	switch e := ev.(type) {
	case settled:
		s.turnSettled(r, e)
	case transcribed:
		s.turnTranscribed(r, e)
	case toolDone:
		s.send(r, realtime.NewFunctionCallOutput(e.callID, e.output))
		s.send(r, realtime.NewResponseCreate())
	}
}

func (s *Session) turnSettled(r *run, e settled) {
	if e.turn != r.turn || s.ephemeralID == "" {
		return
	}
	r.settle = nil

	id := s.ephemeralID
	s.log.Debug("settled", "entry", id, "chunks", r.pipeline.Len())
	clip, ok := r.pipeline.Consolidate()
	if !ok {
		s.log.Info("turn without audio", "entry", id)
		s.completeTurn(r, id, stt.NoSpeechText)
		return
	}

	turn := r.turn
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
		defer cancel()
		text := stt.Text(ctx, s.opts.Transcriber, clip, s.log)
		r.post(transcribed{turn: turn, entryID: id, text: text})
	}()
}

func (s *Session) turnTranscribed(r *run, e transcribed) {
	if e.entryID != s.ephemeralID {
		s.log.Debug("stale transcript", "entry", e.entryID)
		return
	}
	if e.turn != r.turn {
		// the user spoke again before this result came back; keep the
		// text for the turn that now owns the entry
		if !isPlaceholder(e.text) {
			s.carried = joinText(s.carried, e.text)
			s.conv.Update(e.entryID, conversation.Patch{
				Text: conversation.Text(joinText(s.carried, Placeholder)),
			})
		}
		s.log.Debug("superseded transcript", "entry", e.entryID, "turn", e.turn)
		return
	}
	s.completeTurn(r, e.entryID, e.text)
}

// completeTurn finalizes the ephemeral entry with text plus anything
// carried over from superseded turns, and sends it unless there is
// nothing but a placeholder to send.
func (s *Session) completeTurn(r *run, id, text string) {
	if s.carried != "" {
		if isPlaceholder(text) {
			text = s.carried
		} else {
			text = joinText(s.carried, text)
		}
	}
	s.finishTurn(id, text)
	if isPlaceholder(text) {
		return
	}
	if err := s.sendUserText(r, text); err != nil {
		s.log.Warn("send transcript", "err", err)
	}
}

func (s *Session) finishTurn(id, text string) {
	s.conv.Update(id, conversation.Patch{
		Text:    conversation.Text(text),
		Status:  conversation.StatusOf(conversation.StatusFinal),
		IsFinal: conversation.Final(),
	})
	s.ephemeralID = ""
	s.carried = ""
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

func isPlaceholder(text string) bool {
	switch text {
	case stt.NoAudioText, stt.FailedText, stt.NoSpeechText:
		return true
	}
	return false
}

func (s *Session) functionCall(r *run, e realtime.FunctionCallArgumentsDone) {
	if _, ok := s.opts.Tools.Lookup(e.Name); !ok {
		s.log.Debug("unregistered tool", "name", e.Name)
		return
	}
	s.log.Info("tool", "name", e.Name, "call", e.CallID)

	registry := s.opts.Tools
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
		defer cancel()
		res, ok := registry.Dispatch(ctx, e.Name, json.RawMessage(e.Arguments))
		if !ok {
			return
		}
		if res.Err != nil {
			s.log.Warn("tool failed", "err", res.Err)
		}
		r.post(toolDone{callID: e.CallID, name: e.Name, output: res.Output})
	}()
}

// sendUserText adds text as a user message on the remote side and asks
// for a response.
func (s *Session) sendUserText(r *run, text string) error {
	if err := s.send(r, realtime.NewUserText(text)); err != nil {
		return err
	}
	return s.send(r, realtime.NewResponseCreate())
}

func (s *Session) send(r *run, msg any) error {
	payload, err := realtime.Encode(msg)
	if err != nil {
		return err
	}
	if err := r.conn.SendText(payload); err != nil {
		s.log.Warn("send", "err", err)
		return err
	}
	return nil
}
