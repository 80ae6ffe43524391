package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/klejdi94/synthpanel"
	"github.com/klejdi94/synthpanel/analytics"
	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/cost"
)

// HealthResponse is the body of GET /.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	HasCredentials bool   `json:"has_credentials"`
}

// EvaluateRequest is the body of POST /evaluate. Image is base64 or a data URL.
type EvaluateRequest struct {
	Image              string                 `json:"image"`
	DemographicProfile map[string]interface{} `json:"demographic_profile"`
	Question           string                 `json:"question"`
}

// EvaluateResponse is the body of a successful POST /evaluate.
type EvaluateResponse struct {
	Success            bool                   `json:"success"`
	DemographicProfile map[string]interface{} `json:"demographic_profile"`
	Response           string                 `json:"response"`
	Distributions      [][]float64            `json:"distributions"`
	// Degenerate marks distributions that fell back to uniform because every anchor was
	// equally similar to the response.
	Degenerate         []bool                 `json:"degenerate"`
	MeanRating         float64                `json:"mean_rating"`
}

// BatchRequest is the body of POST /batch. Profiles default to the panel's profiles and
// Trials to the configured trial count.
type BatchRequest struct {
	Image    string                   `json:"image"`
	Profiles []map[string]interface{} `json:"profiles"`
	Question string                   `json:"question"`
	Trials   int                      `json:"trials"`
}

var errNoPanel = fiber.NewError(fiber.StatusServiceUnavailable, "provider credentials are not configured")

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok", Service: ServiceName, HasCredentials: s.hasCredentials})
}

func (s *Server) handleEvaluate(c *fiber.Ctx) error {
	var req EvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Image) == "" {
		return &core.ValidationError{Field: "image", Message: "image is required"}
	}
	if len(req.DemographicProfile) == 0 {
		return &core.ValidationError{Field: "demographic_profile", Message: "demographic_profile is required"}
	}
	if s.panel == nil {
		return errNoPanel
	}
	img, err := core.DecodeImage(req.Image)
	if err != nil {
		return err
	}
	profile, err := profileFromMap(req.DemographicProfile, "")
	if err != nil {
		return err
	}

	res, err := s.panel.Evaluate(c.UserContext(), profile, img, req.Question)
	if err != nil {
		return err
	}
	dists := make([][]float64, 0, len(res.Ratings))
	degenerate := make([]bool, 0, len(res.Ratings))
	for _, r := range res.Ratings {
		dists = append(dists, r.PMF.Slice())
		degenerate = append(degenerate, r.Degenerate)
	}
	return c.JSON(EvaluateResponse{
		Success:            true,
		DemographicProfile: profile.Map(),
		Response:           res.Response,
		Distributions:      dists,
		Degenerate:         degenerate,
		MeanRating:         res.Rating,
	})
}

// parseJob decodes a BatchRequest body into a job.
func (s *Server) parseJob(c *fiber.Ctx) (synthpanel.Job, error) {
	var req BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return synthpanel.Job{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Image) == "" {
		return synthpanel.Job{}, &core.ValidationError{Field: "image", Message: "image is required"}
	}
	if s.panel == nil {
		return synthpanel.Job{}, errNoPanel
	}
	img, err := core.DecodeImage(req.Image)
	if err != nil {
		return synthpanel.Job{}, err
	}
	profiles := make([]core.DemographicProfile, 0, len(req.Profiles))
	for i, m := range req.Profiles {
		p, err := profileFromMap(m, fmt.Sprint(i+1))
		if err != nil {
			return synthpanel.Job{}, err
		}
		profiles = append(profiles, p)
	}
	return synthpanel.Job{Profiles: profiles, Image: img, Question: req.Question, Trials: req.Trials}, nil
}

func (s *Server) handleBatch(c *fiber.Ctx) error {
	job, err := s.parseJob(c)
	if err != nil {
		return err
	}
	report, err := s.panel.Run(c.UserContext(), job)
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// EstimateResponse is the body of a successful POST /estimate.
type EstimateResponse struct {
	Success bool         `json:"success"`
	Usage   cost.Summary `json:"usage"`
}

func (s *Server) handleEstimate(c *fiber.Ctx) error {
	job, err := s.parseJob(c)
	if err != nil {
		return err
	}
	usage, err := s.panel.Estimate(c.UserContext(), job)
	if err != nil {
		return err
	}
	return c.JSON(EstimateResponse{Success: true, Usage: usage})
}

func (s *Server) handleListRuns(c *fiber.Ctx) error {
	if s.panel == nil || s.panel.Archive == nil {
		return fiber.NewError(fiber.StatusNotFound, "run archive is disabled")
	}
	ids, err := s.panel.Archive.List(c.UserContext())
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(fiber.Map{"runs": ids})
}

func (s *Server) handleGetRun(c *fiber.Ctx) error {
	if s.panel == nil || s.panel.Archive == nil {
		return fiber.NewError(fiber.StatusNotFound, "run archive is disabled")
	}
	report, err := s.panel.Archive.Load(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// ChatRequest is the body of POST /runs/:id/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the body of a successful POST /runs/:id/chat.
type ChatResponse struct {
	Success bool                `json:"success"`
	Message archive.ChatMessage `json:"message"`
}

// ChatHistoryResponse is the body of GET /runs/:id/chat.
type ChatHistoryResponse struct {
	RunID    string                `json:"run_id"`
	Messages []archive.ChatMessage `json:"messages"`
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return &core.ValidationError{Field: "message", Message: "message is required"}
	}
	if s.panel == nil || s.panel.Analyst == nil {
		return fiber.NewError(fiber.StatusNotFound, "run archive is disabled")
	}
	reply, err := s.panel.Analyst.Ask(c.UserContext(), c.Params("id"), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(ChatResponse{Success: true, Message: *reply})
}

func (s *Server) handleChatHistory(c *fiber.Ctx) error {
	if s.panel == nil || s.panel.Analyst == nil {
		return fiber.NewError(fiber.StatusNotFound, "run archive is disabled")
	}
	msgs, err := s.panel.Analyst.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ChatHistoryResponse{RunID: c.Params("id"), Messages: msgs})
}

func (s *Server) handleAggregates(c *fiber.Ctx) error {
	if s.panel == nil || s.panel.Recorder == nil {
		return fiber.NewError(fiber.StatusNotFound, "analytics are disabled")
	}
	return analytics.Handler(s.panel.Recorder)(c)
}

// profileFromMap builds a profile from a flat JSON object. An "id" entry names the profile.
func profileFromMap(m map[string]interface{}, defaultID string) (core.DemographicProfile, error) {
	id := defaultID
	attrs := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == "id" {
			if s, ok := v.(string); ok && s != "" {
				id = s
				continue
			}
		}
		attrs[k] = v
	}
	return core.ProfileFromMap(id, attrs)
}
