package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"tradein/internal/a2ui"
	"tradein/internal/assistant"
	"tradein/internal/session"
)

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Content   string `json:"content"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "message is required")
		return
	}
	sess, _ := s.sessions.GetOrCreate(req.SessionID)
	s.turn(c, sess, assistant.Inbound{Text: req.Message}, http.StatusInternalServerError)
}

// actionSession finds the sessionId either beside the action or inside a
// userAction wrapper.
type actionSession struct {
	SessionID  string `json:"sessionId"`
	UserAction struct {
		SessionID string `json:"sessionId"`
	} `json:"userAction"`
}

func (s *Server) handleAction(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "cannot read body")
		return
	}
	var ids actionSession
	if err := json.Unmarshal(body, &ids); err != nil {
		writeError(c, http.StatusBadRequest, "malformed JSON")
		return
	}
	act, err := a2ui.DecodeUserAction(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	id := ids.SessionID
	if id == "" {
		id = ids.UserAction.SessionID
	}
	if id == "" {
		writeError(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(c, http.StatusNotFound, "unknown session")
		return
	}
	s.turn(c, sess, assistant.Inbound{Action: &act}, http.StatusBadRequest)
}

func (s *Server) turn(c *gin.Context, sess *session.Session, in assistant.Inbound, protocolStatus int) {
	reply, err := s.assistant.Handle(c.Request.Context(), sess, in)
	if err != nil {
		writeTurnError(c, err, protocolStatus)
		return
	}
	content, err := reply.Envelope()
	if err != nil {
		writeTurnError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, chatResponse{Content: content, SessionID: sess.ID})
}

// a2aPart is one message part: text, or a data object carrying a
// userAction inbound and a UI message outbound.
type a2aPart struct {
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type a2aRequest struct {
	SessionID string    `json:"sessionId"`
	Parts     []a2aPart `json:"parts"`
}

type a2aResponse struct {
	SessionID string    `json:"sessionId"`
	Parts     []a2aPart `json:"parts"`
}

func (s *Server) handleA2A(c *gin.Context) {
	var req a2aRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed JSON")
		return
	}
	var in assistant.Inbound
	var texts []string
	for _, p := range req.Parts {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
		if len(p.Data) > 0 && in.Action == nil {
			act, err := a2ui.DecodeUserAction(p.Data)
			if err != nil {
				writeError(c, http.StatusBadRequest, err.Error())
				return
			}
			in.Action = &act
		}
	}
	in.Text = strings.Join(texts, "\n")
	if in.Action == nil && in.Text == "" {
		writeError(c, http.StatusBadRequest, "parts carry neither text nor data")
		return
	}

	sess, _ := s.sessions.GetOrCreate(req.SessionID)
	reply, err := s.assistant.Handle(c.Request.Context(), sess, in)
	if err != nil {
		status := http.StatusInternalServerError
		if in.Action != nil {
			status = http.StatusBadRequest
		}
		writeTurnError(c, err, status)
		return
	}
	resp := a2aResponse{SessionID: sess.ID, Parts: []a2aPart{{Text: reply.Text}}}
	for _, m := range reply.Messages {
		data, err := json.Marshal(m)
		if err != nil {
			writeTurnError(c, err, http.StatusInternalServerError)
			return
		}
		resp.Parts = append(resp.Parts, a2aPart{Data: data})
	}
	c.JSON(http.StatusOK, resp)
}

type slotJSON struct {
	Date     string `json:"date"`
	DateTime string `json:"dateTime"`
	Display  string `json:"display"`
	Zone     string `json:"zone,omitempty"`
}

type dayJSON struct {
	Index  int       `json:"index"`
	Date   string    `json:"date"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	Slot   *slotJSON `json:"slot,omitempty"`
}

type availabilityResponse struct {
	Reference string     `json:"reference"`
	Timezone  string     `json:"timezone"`
	Days      []dayJSON  `json:"days"`
	Selection []slotJSON `json:"selection"`
}

func (s *Server) handleAvailability(c *gin.Context) {
	ref := s.assistant.Today()
	if raw := c.Query("date"); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		ref = d
	}
	report, sel, err := s.assistant.Availability(c.Request.Context(), ref)
	if err != nil {
		writeTurnError(c, err, http.StatusInternalServerError)
		return
	}

	rules := s.assistant.Rules()
	resp := availabilityResponse{
		Reference: ref.String(),
		Timezone:  rules.Location.String(),
		Days:      make([]dayJSON, 0, len(report.Days)),
		Selection: make([]slotJSON, 0, len(sel.Slots)),
	}
	for _, d := range report.Days {
		day := dayJSON{Index: d.Index, Date: d.Date.String(), Status: string(d.Status), Reason: d.Reason}
		if d.Slot != nil {
			day.Slot = &slotJSON{
				Date:     d.Slot.Date.String(),
				DateTime: d.Slot.Start.UTC().Format(time.RFC3339),
				Display:  rules.Display(d.Slot.Start),
			}
		}
		resp.Days = append(resp.Days, day)
	}
	for _, slot := range sel.Slots {
		resp.Selection = append(resp.Selection, slotJSON{
			Date:     slot.Date.String(),
			DateTime: slot.Start.UTC().Format(time.RFC3339),
			Display:  rules.Display(slot.Start),
			Zone:     string(slot.Zone),
		})
	}
	c.JSON(http.StatusOK, resp)
}
