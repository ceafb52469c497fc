package server

import (
	"github.com/gofiber/fiber/v2"

	"rag-apps/internal/agent"
	"rag-apps/internal/apperr"
	"rag-apps/internal/chat"
	"rag-apps/internal/copywriter"
	"rag-apps/internal/models"
)

type queryRequest struct {
	Index  string            `json:"index"`
	Query  string            `json:"query"`
	K      int               `json:"k"`
	Filter map[string]string `json:"filter"`
}

type searchResponse struct {
	Matches models.RetrievalResult `json:"matches"`
}

type ticketRequest struct {
	Text string `json:"text"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string        `json:"reply"`
	Turns []models.Turn `json:"turns"`
}

type analyzeResponse struct {
	Result string `json:"result"`
}

func badBody(err error) error {
	return apperr.Wrap(apperr.KindInputInvalid, "server.parseBody", err)
}

func (s *Server) parseQuery(c *fiber.Ctx) (queryRequest, error) {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return req, badBody(err)
	}
	if req.Index == "" {
		req.Index = s.index
	}
	return req, nil
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "sessions": s.sessions.Count()})
}

func (s *Server) ask(c *fiber.Ctx) error {
	req, err := s.parseQuery(c)
	if err != nil {
		return err
	}
	ans, err := s.deps.Pipeline.Answer(c.UserContext(), req.Index, req.Query, req.K, req.Filter)
	if err != nil {
		return err
	}
	return c.JSON(ans)
}

func (s *Server) search(c *fiber.Ctx) error {
	req, err := s.parseQuery(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Pipeline.Retrieve(c.UserContext(), req.Index, req.Query, req.K, req.Filter)
	if err != nil {
		return err
	}
	return c.JSON(searchResponse{Matches: res})
}

func (s *Server) submitTicket(c *fiber.Ctx) error {
	var req ticketRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if s.deps.Router == nil {
		return apperr.New(apperr.KindInputInvalid, "server.submitTicket", "ticket classification is not configured")
	}
	ticket, err := s.deps.Router.Submit(c.UserContext(), sess.Board, req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(ticket)
}

func (s *Server) listTickets(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.Board.List())
}

func (s *Server) chat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	conv := chat.New(s.deps.Generator, sess.History, 0, "")
	reply, err := conv.Send(c.UserContext(), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(chatResponse{Reply: reply, Turns: sess.History.Turns()})
}

// analyze expects a multipart form with a "file" table and a "query".
func (s *Server) analyze(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.New(apperr.KindInputInvalid, "server.analyze", "please upload a table file")
	}
	f, err := fh.Open()
	if err != nil {
		return badBody(err)
	}
	defer f.Close()

	table, err := agent.ReadTable(fh.Filename, f)
	if err != nil {
		return err
	}
	result := s.deps.Agent.Query(c.UserContext(), table, c.FormValue("query"))
	return c.JSON(analyzeResponse{Result: result})
}

func (s *Server) writeCopy(c *fiber.Ctx) error {
	var req copywriter.Request
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	out, err := s.deps.Writer.Write(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"copy": out})
}
