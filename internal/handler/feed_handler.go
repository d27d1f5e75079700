package handler

import (
	"bytes"
	"net/http"

	"github.com/hitoshi/blogman/internal/syndication"
)

// FeedHandler は記事一覧のRSSフィードを配信する。
type FeedHandler struct {
	service  PostServiceInterface
	channel  syndication.Channel
	body     syndication.BodyRenderer
	renderer *Renderer
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service PostServiceInterface, channel syndication.Channel, body syndication.BodyRenderer, renderer *Renderer) *FeedHandler {
	return &FeedHandler{
		service:  service,
		channel:  channel,
		body:     body,
		renderer: renderer,
	}
}

// RSS は全記事をRSS 2.0形式で返す。
// GET /feed.xml
func (h *FeedHandler) RSS(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListAll(r.Context())
	if err != nil {
		h.renderer.handleServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := syndication.WriteRSS(&buf, h.channel, posts, h.body); err != nil {
		h.renderer.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
