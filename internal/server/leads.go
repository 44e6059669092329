package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"scouter/internal/ingest"
	"scouter/internal/whatsapp"
)

func (s *Server) gupshupWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	in, ok, err := whatsapp.ParseWebhook(body)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if in.At.IsZero() {
		in.At = s.now().UTC()
	}

	lead, err := s.messenger.Receive(c.Request.Context(), in)
	if errors.Is(err, ingest.ErrInvalidPhone) {
		// Retrying will not fix the sender, so acknowledge the delivery.
		s.log.Warn("webhook sender rejected", "message_id", in.MessageID, "phone", in.Phone, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("inbound whatsapp message", "lead_id", lead.ID, "type", in.Type)
	c.JSON(http.StatusOK, gin.H{
		"status":  "received",
		"lead_id": lead.ID,
		"window":  s.windowView(lead.LastInboundAt, s.now()),
	})
}

func (s *Server) importLeads(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var records []map[string]any
	if err := c.ShouldBindJSON(&records); err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("expected a JSON array of lead records: %w", err))
		return
	}

	leads, rejected := ingest.NormalizeAll(records, s.opts.Region)
	out := make([]rejectedJSON, 0, len(rejected))
	for _, r := range rejected {
		out = append(out, rejectedJSON{Index: r.Index, Error: r.Err.Error()})
	}

	ctx := c.Request.Context()
	for i := range leads {
		if err := s.store.UpsertLead(ctx, &leads[i]); err != nil {
			s.fail(c, http.StatusInternalServerError, fmt.Errorf("save lead %s: %w", leads[i].ID, err))
			return
		}
	}

	s.log.Info("leads imported", "imported", len(leads), "rejected", len(rejected))
	c.JSON(http.StatusOK, gin.H{"imported": len(leads), "rejected": out})
}

func (s *Server) getLead(c *gin.Context) {
	lead, err := s.store.GetLead(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, lookupStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, s.leadView(*lead, s.now()))
}

func (s *Server) getWindow(c *gin.Context) {
	lead, err := s.store.GetLead(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, lookupStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, s.windowView(lead.LastInboundAt, s.now()))
}

func (s *Server) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	lead, err := s.store.GetLead(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, lookupStatus(err), err)
		return
	}

	now := s.now()
	res, err := s.messenger.Send(ctx, lead, whatsapp.Outgoing{
		Text:       req.Text,
		TemplateID: req.TemplateID,
		Params:     req.Params,
	}, now)
	switch {
	case errors.Is(err, whatsapp.ErrWindowClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error":  err.Error(),
			"window": s.windowView(lead.LastInboundAt, now),
		})
		return
	case errors.Is(err, whatsapp.ErrEmptyMessage):
		s.fail(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, whatsapp.ErrNoPhone):
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		s.fail(c, http.StatusBadGateway, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":        res.Mode,
		"provider_id": res.ProviderID,
		"window":      s.windowView(lead.LastInboundAt, now),
	})
}
