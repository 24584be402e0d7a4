package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flowgate/internal/domain"
	"flowgate/internal/orchestrator"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// ChatCompletions is the OpenAI-compatible entry point. The model name
// selects the job kind; a streaming request watches the job through to its
// terminal event, a non-streaming request gets the job id back immediately.
func (a *App) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Model == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "field 'model' is required")
		return
	}
	prompt := lastUserMessage(req.Messages)
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "at least one user message is required")
		return
	}

	payload, _ := json.Marshal(map[string]string{"prompt": prompt})
	job, err := a.Orc.Submit(r.Context(), kindForModel(req.Model), payload)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	if !req.Stream {
		content := fmt.Sprintf("Generation job %s accepted. Poll /v1/jobs/%s or reconnect with stream=true.", job.ID, job.ID)
		a.json(w, http.StatusOK, chatCompletionResponse{
			ID:      "chatcmpl-" + job.ID,
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
		})
		return
	}

	a.streamCompletion(w, r, req.Model, job.ID)
}

// streamCompletion renders job events as chat.completion.chunk frames,
// ending with a final content chunk and the [DONE] sentinel.
func (a *App) streamCompletion(w http.ResponseWriter, r *http.Request, model, jobID string) {
	events, unsubscribe := a.Broker.Subscribe(jobID)
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeChunk(w, flusher, model, jobID, fmt.Sprintf("> job %s queued\n", jobID), "")

	// Snapshot after subscribing: a fast job may already be terminal, in
	// which case no further event will arrive on the channel.
	if job, err := a.Store.Get(r.Context(), jobID); err == nil && job.State.Terminal() {
		writeChunk(w, flusher, model, jobID, terminalContent(snapshotEvent(job)), "stop")
		writeDone(w, flusher)
		return
	}

	heartbeat := time.NewTicker(a.Cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			// SSE comment line; keeps intermediaries from closing the stream
			// without emitting a visible delta.
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				job, err := a.Store.Get(r.Context(), jobID)
				if err == nil && job.State.Terminal() {
					writeChunk(w, flusher, model, jobID, terminalContent(snapshotEvent(job)), "stop")
				}
				writeDone(w, flusher)
				return
			}
			if ev.State.Terminal() {
				writeChunk(w, flusher, model, jobID, terminalContent(ev), "stop")
				writeDone(w, flusher)
				return
			}
			if ev.State == domain.JobStatePolling && ev.Attempt > 0 {
				writeChunk(w, flusher, model, jobID, fmt.Sprintf("> polling, attempt %d\n", ev.Attempt), "")
			} else {
				writeChunk(w, flusher, model, jobID, fmt.Sprintf("> %s\n", ev.State), "")
			}
		}
	}
}

func terminalContent(ev orchestrator.Event) string {
	switch ev.State {
	case domain.JobStateSucceeded:
		return fmt.Sprintf("Generation complete.\n\n%s\n", ev.URL)
	case domain.JobStateTimedOut:
		return "Generation timed out before the provider finished.\n"
	case domain.JobStateCanceled:
		return "Generation canceled.\n"
	default:
		if ev.Failure != nil {
			return fmt.Sprintf("Generation failed (%s): %s\n", ev.Failure.Kind, ev.Failure.Message)
		}
		return "Generation failed.\n"
	}
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, model, jobID, content, finishReason string) {
	chunk := map[string]any{
		"id":      "chatcmpl-" + jobID,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]string{"content": content},
			"finish_reason": func() any {
				if finishReason != "" {
					return finishReason
				}
				return nil
			}(),
		}},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func kindForModel(model string) domain.JobKind {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "video") || strings.Contains(m, "veo"):
		return domain.JobKindVideo
	case strings.Contains(m, "image"):
		return domain.JobKindImage
	default:
		return domain.JobKindChat
	}
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
