package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"classcast/pkg/types"
)

type transcriptAPI struct {
	transcripts TranscriptService
}

func registerTranscriptAPI(g *echo.Group, transcripts TranscriptService) {
	a := &transcriptAPI{transcripts: transcripts}

	tg := g.Group("/sessions/:id/transcripts")
	tg.POST("", a.transcriptIngest)
	tg.GET("", a.transcriptQuery)
}

// IngestRequest is the body of POST /api/sessions/:id/transcripts.
// The sequencer validates it once the caller is known to own the session.
type IngestRequest struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscriptListResponse is the body of GET /api/sessions/:id/transcripts.
// NextAfter is the sequence to pass as ?after= for the next page.
type TranscriptListResponse struct {
	Transcripts []*types.TranscriptView `json:"transcripts"`
	NextAfter   int64                   `json:"next_after"`
}

// FUNCTIONAL DISCOVERY: Segment is returned as stored so the caller learns its sequence
func (a *transcriptAPI) transcriptIngest(c echo.Context) error {
	req := new(IngestRequest)
	if err := c.Bind(req); err != nil {
		return errInvalidBody.WithInternal(err)
	}

	segment, err := a.transcripts.Ingest(c.Request().Context(), contextActor(c), c.Param("id"), req.Text, req.Language, req.Confidence)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, segment)
}

func (a *transcriptAPI) transcriptQuery(c echo.Context) error {
	var page types.TranscriptPage
	if after := c.QueryParam("after"); after != "" {
		n, err := strconv.ParseInt(after, 10, 64)
		if err != nil || n < 0 {
			return errInvalidQuery
		}
		page.AfterSequence = n
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return errInvalidQuery
		}
		page.Limit = n
	}

	views, err := a.transcripts.ListTranscripts(c.Request().Context(), c.Param("id"), page)
	if err != nil {
		return err
	}

	resp := TranscriptListResponse{Transcripts: views, NextAfter: page.AfterSequence}
	if resp.Transcripts == nil {
		resp.Transcripts = []*types.TranscriptView{}
	}
	if n := len(views); n > 0 {
		resp.NextAfter = views[n-1].Sequence
	}
	return c.JSON(http.StatusOK, resp)
}
